// Package scheduler implements the durable job engine: cron, one-shot and
// fixed-interval jobs persisted across restarts.
package scheduler

import (
	"context"
	"time"
)

// Run outcomes recorded in job state.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusSkipped = "skipped"
)

// Payload is what a firing delivers to the agent.
type Payload struct {
	// Message is injected as the user turn of the job's session.
	Message string `json:"message"`
	// Channel optionally routes the job's reply to a transport channel.
	Channel string `json:"channel,omitempty"`
	// To is the channel-specific recipient when Channel is set.
	To string `json:"to,omitempty"`
	// Deliver suppresses outbound delivery when false; the run still
	// happens and its transcript is kept.
	Deliver bool `json:"deliver"`
}

// State is the mutable half of a job record.
type State struct {
	NextRunAt           int64  `json:"next_run_at,omitempty"` // unix ms
	LastRunAt           int64  `json:"last_run_at,omitempty"` // unix ms
	LastStatus          string `json:"last_status,omitempty"`
	LastError           string `json:"last_error,omitempty"`
	RunCount            int    `json:"run_count"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// Job is one persisted schedule entry.
type Job struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	Schedule  Schedule `json:"schedule"`
	Payload   Payload  `json:"payload"`
	Enabled   bool     `json:"enabled"`
	CreatedAt int64    `json:"created_at"` // unix ms
	UpdatedAt int64    `json:"updated_at"` // unix ms

	// DeleteAfterRun removes the job after a successful firing; the
	// default for one-shot "at" jobs.
	DeleteAfterRun bool `json:"delete_after_run,omitempty"`

	State State `json:"state"`
}

// OneShot reports whether the job fires once and is done.
func (j *Job) OneShot() bool { return j.Schedule.Kind == KindAt }

// Runner executes one firing. The scheduler enforces the per-job timeout
// around the call; a context deadline maps to StatusTimeout.
type Runner interface {
	RunJob(ctx context.Context, job *Job) error
}

// RunnerFunc adapts a function to a Runner.
type RunnerFunc func(ctx context.Context, job *Job) error

func (f RunnerFunc) RunJob(ctx context.Context, job *Job) error { return f(ctx, job) }

// clock indirection for tests.
type clock func() time.Time
