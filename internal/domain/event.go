package domain

import "time"

// EntityType distinguishes run events from pipeline events
type EntityType string

const (
	EntityRun      EntityType = "run"
	EntityPipeline EntityType = "pipeline"
)

// LogEntry is one append-only log line attached to a run or pipeline
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     LogLevel          `json:"level"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Event is a single state-change notification pushed to subscribers.
// Seq increases by one per mutation of the owning entity, so subscribers
// can discard duplicates after a snapshot replay.
type Event struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Seq        uint64     `json:"seq"`
	Status     Status     `json:"status"`
	Progress   int        `json:"progress"`
	NewLogs    []LogEntry `json:"new_logs,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// StepSnapshot is a point-in-time copy of one validation step
type StepSnapshot struct {
	Name       StepName   `json:"name"`
	Status     StepStatus `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Logs       []string   `json:"logs,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Snapshot is a full point-in-time copy of a run or pipeline, delivered to
// every new subscriber before any incremental event
type Snapshot struct {
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ProjectID  string         `json:"project_id"`
	Seq        uint64         `json:"seq"`
	Status     Status         `json:"status"`
	Progress   int            `json:"progress"`
	Logs       []LogEntry     `json:"logs,omitempty"`
	Response   string         `json:"response,omitempty"`
	Error      string         `json:"error,omitempty"`
	RunType    RunType        `json:"run_type,omitempty"`
	PRNumber   int            `json:"pr_number,omitempty"`
	Steps      []StepSnapshot `json:"steps,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
