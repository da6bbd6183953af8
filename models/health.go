package models

// HealthState is the enforcement state of an enrollment.
type HealthState string

const (
	Healthy          HealthState = "HEALTHY"
	ThresholdCrossed HealthState = "THRESHOLD_CROSSED" // grace timer running
	Suspended        HealthState = "SUSPENDED"         // billing suspended, notifications out
)

// Outcome is the classification of a completed run.
type Outcome string

const (
	Pass    Outcome = "PASS"
	Fail    Outcome = "FAIL"
	Timeout Outcome = "TIMEOUT"
)

// Failed reports whether o counts toward consecutive failures.
func (o Outcome) Failed() bool {
	return o == Fail || o == Timeout
}
