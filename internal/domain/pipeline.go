package domain

import (
	"fmt"
	"sync"
	"time"
)

// TargetKey builds the composite key enforcing at most one concurrent
// pipeline per (project, pull request) pair
func TargetKey(projectID string, prNumber int) string {
	return fmt.Sprintf("%s#%d", projectID, prNumber)
}

// step is one entry in the fixed validation sequence. Mutated only under
// the owning pipeline's mutex.
type step struct {
	name       StepName
	status     StepStatus
	startedAt  *time.Time
	finishedAt *time.Time
	logs       []string
	errMsg     string
}

// Pipeline is the fixed six-step sequence validating one pull request
type Pipeline struct {
	mu sync.Mutex

	id        string
	projectID string
	prNumber  int

	status   Status
	progress int
	steps    []*step
	logs     []LogEntry
	errMsg   string

	seq       uint64
	createdAt time.Time
	updatedAt time.Time
}

// NewPipeline creates a pipeline in the pending state with all six steps
// pending
func NewPipeline(id, projectID string, prNumber int) *Pipeline {
	now := time.Now()
	p := &Pipeline{
		id:        id,
		projectID: projectID,
		prNumber:  prNumber,
		status:    StatusPending,
		createdAt: now,
		updatedAt: now,
	}
	for _, name := range StepOrder {
		p.steps = append(p.steps, &step{name: name, status: StepPending})
	}
	p.logs = append(p.logs, LogEntry{
		Timestamp: now,
		Level:     LevelInfo,
		Message:   fmt.Sprintf("validation submitted (project=%s pr=%d)", projectID, prNumber),
	})
	p.seq = 1
	return p
}

// ID returns the pipeline id
func (p *Pipeline) ID() string { return p.id }

// ProjectID returns the owning project reference
func (p *Pipeline) ProjectID() string { return p.projectID }

// PRNumber returns the pull request under validation
func (p *Pipeline) PRNumber() int { return p.prNumber }

// TargetKey returns the composite (project, pr) key
func (p *Pipeline) TargetKey() string { return TargetKey(p.projectID, p.prNumber) }

// Status returns the current status (thread-safe)
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Terminal reports whether the pipeline has reached a terminal state
func (p *Pipeline) Terminal() bool {
	return p.Status().Terminal()
}

// UpdatedAt returns the last mutation time (thread-safe)
func (p *Pipeline) UpdatedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updatedAt
}

func (p *Pipeline) findStep(name StepName) *step {
	for _, s := range p.steps {
		if s.name == name {
			return s
		}
	}
	return nil
}

// event builds the broadcast event for the current state. Callers must
// hold p.mu and must have bumped seq.
func (p *Pipeline) event(newLogs []LogEntry) Event {
	return Event{
		EntityType: EntityPipeline,
		EntityID:   p.id,
		Seq:        p.seq,
		Status:     p.status,
		Progress:   p.progress,
		NewLogs:    newLogs,
		Timestamp:  p.updatedAt,
	}
}

func (p *Pipeline) appendLog(level LogLevel, msg string) LogEntry {
	entry := LogEntry{Timestamp: time.Now(), Level: level, Message: msg}
	p.logs = append(p.logs, entry)
	return entry
}

func (p *Pipeline) touch() {
	p.seq++
	p.updatedAt = time.Now()
}

// Start moves the pipeline from pending to running
func (p *Pipeline) Start() (Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !canTransition(p.status, StatusRunning) {
		return Event{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.status, StatusRunning)
	}
	p.status = StatusRunning
	entry := p.appendLog(LevelInfo, "validation started")
	p.touch()
	return p.event([]LogEntry{entry}), nil
}

// StartStep marks a step running. A step may start only from pending, and
// only while the pipeline is running — except cleanup, which may also start
// after the pipeline has already failed (best-effort finalizer).
func (p *Pipeline) StartStep(name StepName) (Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.findStep(name)
	if s == nil {
		return Event{}, fmt.Errorf("%w: unknown step %s", ErrNotFound, name)
	}
	if s.status != StepPending {
		return Event{}, fmt.Errorf("%w: step %s already %s", ErrInvalidTransition, name, s.status)
	}
	if p.status != StatusRunning && !(p.status == StatusFailed && name == StepCleanup) {
		return Event{}, fmt.Errorf("%w: step start in state %s", ErrInvalidTransition, p.status)
	}

	now := time.Now()
	s.status = StepRunning
	s.startedAt = &now
	entry := p.appendLog(LevelInfo, fmt.Sprintf("step %s started", name))
	p.touch()
	return p.event([]LogEntry{entry}), nil
}

// FinishStep records a step outcome. A failed non-cleanup step fails the
// whole pipeline immediately; a failed cleanup step is logged but never
// escalates.
func (p *Pipeline) FinishStep(name StepName, success bool, logs []string, errMsg string) (Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.findStep(name)
	if s == nil {
		return Event{}, fmt.Errorf("%w: unknown step %s", ErrNotFound, name)
	}
	if s.status != StepRunning {
		return Event{}, fmt.Errorf("%w: step %s is %s, not running", ErrInvalidTransition, name, s.status)
	}

	now := time.Now()
	s.finishedAt = &now
	s.logs = append(s.logs, logs...)

	var entry LogEntry
	if success {
		s.status = StepSuccess
		entry = p.appendLog(LevelInfo, fmt.Sprintf("step %s succeeded", name))
	} else {
		s.status = StepFailed
		s.errMsg = errMsg
		if name == StepCleanup {
			entry = p.appendLog(LevelWarn, fmt.Sprintf("step %s failed (ignored): %s", name, errMsg))
		} else {
			p.status = StatusFailed
			p.errMsg = fmt.Sprintf("step %s failed: %s", name, errMsg)
			entry = p.appendLog(LevelError, p.errMsg)
		}
	}

	p.progress = p.completedProgress()
	p.touch()
	return p.event([]LogEntry{entry}), nil
}

// completedProgress derives progress from finished steps. Callers must
// hold p.mu.
func (p *Pipeline) completedProgress() int {
	done := 0
	for _, s := range p.steps {
		if s.status == StepSuccess || s.status == StepFailed {
			done++
		}
	}
	return done * 100 / len(p.steps)
}

// Complete moves the pipeline to completed once every step has succeeded
func (p *Pipeline) Complete() (Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !canTransition(p.status, StatusCompleted) {
		return Event{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.status, StatusCompleted)
	}
	for _, s := range p.steps {
		if s.status != StepSuccess {
			return Event{}, fmt.Errorf("%w: step %s is %s", ErrInvalidTransition, s.name, s.status)
		}
	}
	p.status = StatusCompleted
	p.progress = 100
	entry := p.appendLog(LevelInfo, "validation completed")
	p.touch()
	return p.event([]LogEntry{entry}), nil
}

// Snapshot returns a point-in-time copy of the pipeline including step
// detail
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	logs := make([]LogEntry, len(p.logs))
	copy(logs, p.logs)

	steps := make([]StepSnapshot, 0, len(p.steps))
	for _, s := range p.steps {
		stepLogs := make([]string, len(s.logs))
		copy(stepLogs, s.logs)
		steps = append(steps, StepSnapshot{
			Name:       s.name,
			Status:     s.status,
			StartedAt:  s.startedAt,
			FinishedAt: s.finishedAt,
			Logs:       stepLogs,
			Error:      s.errMsg,
		})
	}

	return Snapshot{
		EntityType: EntityPipeline,
		EntityID:   p.id,
		ProjectID:  p.projectID,
		Seq:        p.seq,
		Status:     p.status,
		Progress:   p.progress,
		Logs:       logs,
		Error:      p.errMsg,
		PRNumber:   p.prNumber,
		Steps:      steps,
		CreatedAt:  p.createdAt,
		UpdatedAt:  p.updatedAt,
	}
}
