package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the status of a check run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// CheckRun summarizes one pass over the active tracked items
type CheckRun struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	Checked     int        `json:"checked"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Alerts      int        `json:"alerts"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewCheckRun creates a run in the running state
func NewCheckRun() *CheckRun {
	return &CheckRun{
		ID:        uuid.NewString(),
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}
}

// RecordSuccess counts an item whose price was extracted
func (r *CheckRun) RecordSuccess() {
	r.Checked++
	r.Succeeded++
}

// RecordFailure counts an item that produced no price or errored
func (r *CheckRun) RecordFailure() {
	r.Checked++
	r.Failed++
}

// RecordAlert counts an alert emitted during the run
func (r *CheckRun) RecordAlert() {
	r.Alerts++
}

// Complete marks the run as completed
func (r *CheckRun) Complete() {
	r.Status = RunStatusCompleted
	now := time.Now()
	r.CompletedAt = &now
}

// Fail marks the run as failed with error
func (r *CheckRun) Fail(err error) {
	r.Status = RunStatusFailed
	if err != nil {
		r.Error = err.Error()
	}
	now := time.Now()
	r.CompletedAt = &now
}

// Duration returns the duration of the run
func (r *CheckRun) Duration() time.Duration {
	end := time.Now()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(r.StartedAt)
}
