package models

import "time"

type IntentKind string

const (
	BillingSuspend IntentKind = "billing_suspend"
	BillingResume  IntentKind = "billing_resume"
	NotifySuspend  IntentKind = "notify_suspend"
	NotifyResolve  IntentKind = "notify_resolve"
)

// Intent is a side effect for an external system. Key is stable per
// (enrollment, edge, episode) and is the idempotency key downstream.
type Intent struct {
	Key          string         `json:"key"`
	Kind         IntentKind     `json:"kind"`
	EnrollmentID string         `json:"enrollmentId"`
	ServiceID    string         `json:"serviceId"`
	Episode      int            `json:"episode"`
	CauseRunIDs  []string       `json:"causeRunIds,omitempty"`
	Deliveries   []Notification `json:"deliveries,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Notification is one message to one destination on one channel.
type Notification struct {
	Channel     Channel `json:"channel"`
	Destination string  `json:"destination"`
	Subject     string  `json:"subject"`
	Message     string  `json:"message"`
	// DedupKey groups the suspend and resolve messages of one episode.
	DedupKey string `json:"dedupKey"`
	Resolve  bool   `json:"resolve,omitempty"`
}
