package cron

import (
	"context"
	"time"
)

// ScheduleKind represents the type of schedule
type ScheduleKind string

const (
	ScheduleKindAt    ScheduleKind = "at"
	ScheduleKindEvery ScheduleKind = "every"
	ScheduleKindCron  ScheduleKind = "cron"
)

// Schedule represents a time specification for job execution
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// For "at" schedule
	AtMs int64 `json:"atMs,omitempty"`

	// For "every" schedule
	EveryMs int64 `json:"everyMs,omitempty"`

	// For "cron" schedule
	Expr string `json:"expr,omitempty"` // 5-field expression
	TZ   string `json:"tz,omitempty"`
}

// Payload is what a job asks the agent to do.
type Payload struct {
	Message string `json:"message"`
	// Deliver sends the agent's reply to Channel/To instead of the cli.
	Deliver bool   `json:"deliver,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

// JobState tracks runtime state of a job
type JobState struct {
	NextRunAtMs *int64 `json:"nextRunAtMs,omitempty"`
	LastRunAtMs *int64 `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"` // "ok" or "error"
	LastError   string `json:"lastError,omitempty"`
}

// Job is a persisted scheduled agent turn.
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	UpdatedAtMs    int64    `json:"updatedAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
}

// AddParams contains parameters for creating a job
type AddParams struct {
	Name           string
	Schedule       Schedule
	Payload        Payload
	DeleteAfterRun bool
}

// EventAction represents the type of event
type EventAction string

const (
	EventActionFinished EventAction = "finished"
	EventActionAdded    EventAction = "added"
	EventActionUpdated  EventAction = "updated"
	EventActionDeleted  EventAction = "deleted"
)

// Event represents a cron system event
type Event struct {
	Action     EventAction
	JobID      string
	Status     string
	Error      string
	DurationMs int64
}

// Status summarizes the service.
type Status struct {
	Running      bool
	Jobs         int
	NextWakeAtMs *int64
}

// Handler executes a due job.
type Handler func(ctx context.Context, job Job) error

// ServiceOptions configures the cron service
type ServiceOptions struct {
	StorePath string
	Handler   Handler
	OnEvent   func(evt Event) // optional
}

// store is the on-disk layout of jobs.json.
type store struct {
	Version int    `json:"version"`
	Jobs    []*Job `json:"jobs"`
}

// Now returns current time in milliseconds
func Now() int64 {
	return time.Now().UnixMilli()
}

// Int64Ptr returns a pointer to an int64 value
func Int64Ptr(v int64) *int64 {
	return &v
}
