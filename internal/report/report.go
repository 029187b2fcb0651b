// Package report accumulates structured outcome records for one pipeline
// run and renders them into the final email report. Steps record outcomes
// fire-and-forget: a recording failure is never allowed to fail a step.
package report

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record statuses. "existing" marks resources that were already present on
// the controller and skipped.
const (
	StatusCreated  = "created"
	StatusExisting = "existing"
	StatusAssigned = "assigned"
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
)

// Record is one structured outcome produced by a pipeline step.
type Record struct {
	ID     string    `json:"id"`
	RunID  string    `json:"run_id"`
	Step   string    `json:"step"`   // pipeline step name, e.g. "netconfig"
	Action string    `json:"action"` // what was done, e.g. "security_zone"
	Target string    `json:"target"` // resource name the action applied to
	Status string    `json:"status"`
	Detail string    `json:"detail,omitempty"` // free-form context (id, address, error text)
	At     time.Time `json:"at"`
}

// Recorder consumes step outcome records.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// NewRunID generates the identifier shared by all records of one run.
func NewRunID() string {
	return uuid.NewString()
}

// Stamp fills the generated fields of a record.
func Stamp(rec Record, runID string) Record {
	rec.ID = uuid.NewString()
	rec.RunID = runID
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	return rec
}

// Discard is a Recorder that drops everything. Useful in tests and when no
// report store is configured.
type Discard struct{}

func (Discard) Record(context.Context, Record) error { return nil }
