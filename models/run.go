package models

import "time"

// HealthCheckRun is one script execution against one enrollment.
type HealthCheckRun struct {
	ID           string    `json:"id"`
	EnrollmentID string    `json:"enrollmentId"`
	ServiceID    string    `json:"serviceId"`
	ScriptHash   string    `json:"scriptHash"`
	ScheduledAt  time.Time `json:"scheduledAt"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	// ExitCode is nil when the script did not complete.
	ExitCode   *int    `json:"exitCode,omitempty"`
	Completed  bool    `json:"completed"`
	Outcome    Outcome `json:"outcome,omitempty"`
	LogExcerpt string  `json:"logExcerpt,omitempty"`
	// ExecError is set when the script could not be located or started.
	ExecError string `json:"execError,omitempty"`
}
