package v1

import (
	"servicecatalog-cron/models"
)

// Classify maps a finished run to PASS, FAIL or TIMEOUT. A run that did not
// complete, or took longer than the policy timeout, is a TIMEOUT whatever
// exit code it reported.
func Classify(run models.HealthCheckRun, p *Policy) (models.Outcome, error) {
	if len(p.successSet) == 0 {
		return "", ErrClassificationAmbiguity
	}
	if !run.Completed || run.ExitCode == nil {
		return models.Timeout, nil
	}
	if !run.StartedAt.IsZero() && !run.FinishedAt.IsZero() && run.FinishedAt.Sub(run.StartedAt) > p.timeout {
		return models.Timeout, nil
	}
	if p.IsSuccess(*run.ExitCode) {
		return models.Pass, nil
	}
	return models.Fail, nil
}

// foldOutcome applies an outcome to a consecutive-failure counter.
func foldOutcome(counter int, outcome models.Outcome) int {
	if outcome.Failed() {
		return counter + 1
	}
	return 0
}
