package v1

import "strings"

// TicketBindings are the values substituted into ticket and notification templates.
type TicketBindings struct {
	CustomerID   string `json:"customerId"`
	CustomerName string `json:"customerName"`
	DeviceID     string `json:"deviceId"`
	DeviceName   string `json:"deviceName"`
}

// ExampleBindings are shown when previewing a template without a real enrollment.
var ExampleBindings = TicketBindings{
	CustomerID:   "cust-XXXX",
	CustomerName: "[Customer Name]",
	DeviceID:     "dev-XXXX",
	DeviceName:   "[Device Name]",
}

// TemplateTokens lists the recognized substitution tokens.
var TemplateTokens = []string{"@customerId", "@customerName", "@deviceId", "@deviceName"}

// RenderTicket substitutes the four recognized tokens in a single left to
// right pass, so substituted values are never rescanned and adjacent tokens
// such as "@deviceId@customerId" both resolve. Anything else starting with
// '@' is left untouched.
func RenderTicket(template string, b TicketBindings) string {
	r := strings.NewReplacer(
		"@customerId", b.CustomerID,
		"@customerName", b.CustomerName,
		"@deviceId", b.DeviceID,
		"@deviceName", b.DeviceName,
	)
	return r.Replace(template)
}
