package domain

import (
	"fmt"
	"sync"
	"time"
)

// RunRequest is the client payload that creates a run
type RunRequest struct {
	ProjectID   string
	Instruction string
	Type        RunType
}

// Run is one agent-driven code-change task instance. All mutation goes
// through its methods; the mutex is held only for the in-memory update,
// never across an executor call.
type Run struct {
	mu sync.Mutex

	id          string
	projectID   string
	instruction string
	runType     RunType

	status   Status
	progress int
	logs     []LogEntry
	response string
	errMsg   string

	seq       uint64
	createdAt time.Time
	updatedAt time.Time
}

// NewRun creates a run in the pending state
func NewRun(id string, req RunRequest) *Run {
	now := time.Now()
	r := &Run{
		id:          id,
		projectID:   req.ProjectID,
		instruction: req.Instruction,
		runType:     req.Type,
		status:      StatusPending,
		createdAt:   now,
		updatedAt:   now,
	}
	r.logs = append(r.logs, LogEntry{
		Timestamp: now,
		Level:     LevelInfo,
		Message:   fmt.Sprintf("run submitted (type=%s project=%s)", req.Type, req.ProjectID),
	})
	r.seq = 1
	return r
}

// ID returns the run id
func (r *Run) ID() string { return r.id }

// ProjectID returns the owning project reference
func (r *Run) ProjectID() string { return r.projectID }

// Instruction returns the target instruction text
func (r *Run) Instruction() string { return r.instruction }

// Type returns the run type
func (r *Run) Type() RunType { return r.runType }

// Status returns the current status (thread-safe)
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Terminal reports whether the run has reached a terminal state
func (r *Run) Terminal() bool {
	return r.Status().Terminal()
}

// UpdatedAt returns the last mutation time (thread-safe)
func (r *Run) UpdatedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updatedAt
}

// event builds the broadcast event for the current state. Callers must
// hold r.mu and must have bumped seq.
func (r *Run) event(newLogs []LogEntry) Event {
	return Event{
		EntityType: EntityRun,
		EntityID:   r.id,
		Seq:        r.seq,
		Status:     r.status,
		Progress:   r.progress,
		NewLogs:    newLogs,
		Timestamp:  r.updatedAt,
	}
}

// appendLog adds a log entry. Callers must hold r.mu.
func (r *Run) appendLog(level LogLevel, msg string) LogEntry {
	entry := LogEntry{Timestamp: time.Now(), Level: level, Message: msg}
	r.logs = append(r.logs, entry)
	return entry
}

// touch bumps seq and the update timestamp. Callers must hold r.mu.
func (r *Run) touch() {
	r.seq++
	r.updatedAt = time.Now()
}

// Start moves the run from pending to running on dispatch acceptance
func (r *Run) Start() (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !canTransition(r.status, StatusRunning) {
		return Event{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.status, StatusRunning)
	}
	r.status = StatusRunning
	entry := r.appendLog(LevelInfo, "run started")
	r.touch()
	return r.event([]LogEntry{entry}), nil
}

// Advance records progress at a stage boundary. Progress never decreases.
func (r *Run) Advance(progress int, msg string) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusRunning {
		return Event{}, fmt.Errorf("%w: advance in state %s", ErrInvalidTransition, r.status)
	}
	if progress > r.progress {
		r.progress = progress
	}
	entry := r.appendLog(LevelInfo, msg)
	r.touch()
	return r.event([]LogEntry{entry}), nil
}

// AppendLog adds a log entry to a non-terminal run
func (r *Run) AppendLog(level LogLevel, msg string) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return Event{}, fmt.Errorf("%w: log append in state %s", ErrInvalidTransition, r.status)
	}
	entry := r.appendLog(level, msg)
	r.touch()
	return r.event([]LogEntry{entry}), nil
}

// AppendLogs adds several log entries as one event
func (r *Run) AppendLogs(level LogLevel, msgs []string) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return Event{}, fmt.Errorf("%w: log append in state %s", ErrInvalidTransition, r.status)
	}
	entries := make([]LogEntry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, r.appendLog(level, msg))
	}
	r.touch()
	return r.event(entries), nil
}

// Complete moves the run to completed with the terminal response payload
func (r *Run) Complete(response string) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !canTransition(r.status, StatusCompleted) {
		return Event{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.status, StatusCompleted)
	}
	r.status = StatusCompleted
	r.progress = 100
	r.response = response
	entry := r.appendLog(LevelInfo, "run completed")
	r.touch()
	return r.event([]LogEntry{entry}), nil
}

// Fail moves the run to failed with a human-readable reason
func (r *Run) Fail(reason string) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !canTransition(r.status, StatusFailed) {
		return Event{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.status, StatusFailed)
	}
	r.status = StatusFailed
	r.errMsg = reason
	entry := r.appendLog(LevelError, "run failed: "+reason)
	r.touch()
	return r.event([]LogEntry{entry}), nil
}

// Cancel marks the run cancelled. Cancelling an already-terminal run is a
// no-op; the second return value reports whether the state changed.
func (r *Run) Cancel() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return r.event(nil), false
	}
	r.status = StatusCancelled
	entry := r.appendLog(LevelWarn, "run cancelled")
	r.touch()
	return r.event([]LogEntry{entry}), true
}

// Snapshot returns a point-in-time copy of the run
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	logs := make([]LogEntry, len(r.logs))
	copy(logs, r.logs)

	return Snapshot{
		EntityType: EntityRun,
		EntityID:   r.id,
		ProjectID:  r.projectID,
		Seq:        r.seq,
		Status:     r.status,
		Progress:   r.progress,
		Logs:       logs,
		Response:   r.response,
		Error:      r.errMsg,
		RunType:    r.runType,
		CreatedAt:  r.createdAt,
		UpdatedAt:  r.updatedAt,
	}
}
