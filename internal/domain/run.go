package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunKind distinguishes the two scheduled passes.
type RunKind string

const (
	RunIngestion RunKind = "ingestion"
	RunAlert     RunKind = "alert"
)

// RunStatus is the terminal state of one pass.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Run is the immutable audit record of one ingestion or alert pass.
type Run struct {
	ID         uuid.UUID
	Kind       RunKind
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Counters   map[string]int
	Errors     []string
}

// ClassifyStatus derives the pass status from its outcome counts: success
// with zero errors, failed when nothing succeeded, partial otherwise.
func ClassifyStatus(succeeded, errored int) RunStatus {
	switch {
	case errored == 0:
		return RunSuccess
	case succeeded == 0:
		return RunFailed
	default:
		return RunPartial
	}
}
