package models

import "time"

// ServiceStatus tracks a service definition through approval.
type ServiceStatus string

const (
	ServicePending ServiceStatus = "pending_approval"
	ServiceActive  ServiceStatus = "active"
)

// ServiceDefinition is a catalog add-on that devices enroll into through its tag.
type ServiceDefinition struct {
	ID          string             `json:"id" yaml:"id"`
	Name        string             `json:"name" yaml:"name"`
	Category    string             `json:"category" yaml:"category"`
	Description string             `json:"description,omitempty" yaml:"description"`
	Tag         string             `json:"tag" yaml:"tag"`
	Billing     BillingTerms       `json:"billing" yaml:"billing"`
	Eligibility Eligibility        `json:"eligibility" yaml:"eligibility"`
	Workflow    TicketWorkflow     `json:"workflow" yaml:"workflow"`
	HealthCheck *HealthCheckPolicy `json:"healthCheck,omitempty" yaml:"health_check"`

	Status        ServiceStatus `json:"status" yaml:"status"`
	ApproverGroup string        `json:"approverGroup,omitempty" yaml:"approver_group"`
	SubmittedAt   time.Time     `json:"submittedAt" yaml:"submitted_at"`
	ApprovedAt    *time.Time    `json:"approvedAt,omitempty" yaml:"approved_at"`
}

type BillingTerms struct {
	Unit     string  `json:"unit" yaml:"unit"`
	UnitCost float64 `json:"unitCost" yaml:"unit_cost"`
	Code     string  `json:"code" yaml:"code"`
}

type Eligibility struct {
	DeviceTypes      []string `json:"deviceTypes" yaml:"device_types"`
	OperatingSystems []string `json:"operatingSystems" yaml:"operating_systems"`
	MinDevices       *int     `json:"minDevices,omitempty" yaml:"min_devices"`
	MaxEnrollments   *int     `json:"maxEnrollments,omitempty" yaml:"max_enrollments"`
}

type TicketWorkflow struct {
	Queue    string `json:"queue" yaml:"queue"`
	Template string `json:"template" yaml:"template"`
}
