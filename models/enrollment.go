package models

import "time"

// Enrollment binds a service to one customer device.
type Enrollment struct {
	ID           string    `json:"id" yaml:"id"`
	ServiceID    string    `json:"serviceId" yaml:"service_id"`
	CustomerID   string    `json:"customerId" yaml:"customer_id"`
	CustomerName string    `json:"customerName" yaml:"customer_name"`
	DeviceID     string    `json:"deviceId" yaml:"device_id"`
	DeviceName   string    `json:"deviceName" yaml:"device_name"`
	OS           OS        `json:"os" yaml:"os"`
	EnrolledAt   time.Time `json:"enrolledAt" yaml:"enrolled_at"`
}

// EnrollmentState is the mutable health accounting of one enrollment.
type EnrollmentState struct {
	EnrollmentID        string      `json:"enrollmentId"`
	State               HealthState `json:"state"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
	Episode             int         `json:"episode"`
	ThresholdCrossedAt  *time.Time  `json:"thresholdCrossedAt,omitempty"`
	SuspendedAt         *time.Time  `json:"suspendedAt,omitempty"`
	BillingSuspended    bool        `json:"billingSuspended"`
	Notified            bool        `json:"notified"`
	LastRunAt           *time.Time  `json:"lastRunAt,omitempty"`
	LastOutcome         Outcome     `json:"lastOutcome,omitempty"`

	// FailureRunIDs holds the failing runs since the last PASS, oldest first.
	FailureRunIDs []string `json:"failureRunIds,omitempty"`
	// SuspensionCause is frozen from FailureRunIDs when billing is suspended.
	SuspensionCause []string `json:"suspensionCause,omitempty"`
	ProcessedRunIDs []string `json:"processedRunIds,omitempty"`
}
