package domain

import (
	"fmt"
	"strings"
	"time"
)

// ReconciliationResult is the report of one reconciliation run.
type ReconciliationResult struct {
	Created int
	Updated int
	Deleted int
	Skipped int
	Errors  []string
}

// Operations returns the number of applied remote changes.
func (r ReconciliationResult) Operations() int {
	return r.Created + r.Updated + r.Deleted
}

// Summary formats the result for logs and notifications.
func (r ReconciliationResult) Summary() string {
	s := fmt.Sprintf("created %d, updated %d, deleted %d, unchanged %d", r.Created, r.Updated, r.Deleted, r.Skipped)
	if len(r.Errors) > 0 {
		s += fmt.Sprintf(", errors %d", len(r.Errors))
	}
	return s
}

// RunStatus is the caller-side verdict on a run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailure RunStatus = "failure"
)

// StatusOf derives the run status from a result.
func StatusOf(r ReconciliationResult) RunStatus {
	switch {
	case len(r.Errors) == 0:
		return RunSuccess
	case r.Operations() > 0 || r.Skipped > 0:
		return RunPartial
	default:
		return RunFailure
	}
}

// RunRecord is the persisted history entry of a run.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	Result     ReconciliationResult
	// Failure holds the top-level error when the run aborted.
	Failure string
}

// ErrorsText joins the error list for storage.
func (r RunRecord) ErrorsText() string {
	return strings.Join(r.Result.Errors, "\n")
}
