// Package registry is the authoritative in-memory store of active and
// recently completed runs and validation pipelines. It owns the records for
// their lifetime; terminal entities are evicted after a retention window.
package registry

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/run-orchestrator/internal/domain"
)

// DefaultRetention is how long terminal entities stay queryable before
// eviction
const DefaultRetention = 24 * time.Hour

// Archiver receives terminal entities on eviction or shutdown. Durable
// storage of history is its concern, not the registry's.
type Archiver interface {
	ArchiveRun(snap domain.Snapshot) error
	ArchivePipeline(snap domain.Snapshot) error
}

// Registry tracks runs and pipelines keyed by id, plus the composite
// (project, pull request) index backing the one-pipeline-per-target rule
type Registry struct {
	mu        sync.RWMutex
	runs      map[string]*domain.Run
	pipelines map[string]*domain.Pipeline
	byTarget  map[string]*domain.Pipeline

	retention time.Duration
	archiver  Archiver
}

// New creates an empty registry. The process always starts with no
// entities; history lives in the archiver.
func New(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{
		runs:      make(map[string]*domain.Run),
		pipelines: make(map[string]*domain.Pipeline),
		byTarget:  make(map[string]*domain.Pipeline),
		retention: retention,
	}
}

// SetArchiver installs the eviction sink
func (r *Registry) SetArchiver(a Archiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archiver = a
}

// SetRetention changes the retention window at runtime
func (r *Registry) SetRetention(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retention = d
}

// Retention returns the current retention window
func (r *Registry) Retention() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.retention
}

// CreateRun allocates a new pending run record
func (r *Registry) CreateRun(req domain.RunRequest) *domain.Run {
	run := domain.NewRun(uuid.NewString(), req)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID()] = run
	return run
}

// Run returns a run by id
func (r *Registry) Run(id string) (*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, id)
	}
	return run, nil
}

// CreatePipeline allocates a pipeline for a (project, pull request) target.
// At most one pipeline per target may be non-terminal at any instant; a
// duplicate request is rejected with ErrAlreadyRunning and must be retried
// after the in-flight pipeline completes.
func (r *Registry) CreatePipeline(projectID string, prNumber int) (*domain.Pipeline, error) {
	key := domain.TargetKey(projectID, prNumber)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byTarget[key]; ok && !existing.Terminal() {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyRunning, key)
	}

	p := domain.NewPipeline(uuid.NewString(), projectID, prNumber)
	r.pipelines[p.ID()] = p
	r.byTarget[key] = p
	return p, nil
}

// Pipeline returns a pipeline by id
func (r *Registry) Pipeline(id string) (*domain.Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %s", domain.ErrNotFound, id)
	}
	return p, nil
}

// Snapshot returns the point-in-time state of any entity by id
func (r *Registry) Snapshot(id string) (domain.Snapshot, error) {
	r.mu.RLock()
	run, okRun := r.runs[id]
	p, okPipe := r.pipelines[id]
	r.mu.RUnlock()

	if okRun {
		return run.Snapshot(), nil
	}
	if okPipe {
		return p.Snapshot(), nil
	}
	return domain.Snapshot{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
}

// Counts returns per-status totals for runs and pipelines
func (r *Registry) Counts() (runs, pipelines map[domain.Status]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs = make(map[domain.Status]int)
	pipelines = make(map[domain.Status]int)
	for _, run := range r.runs {
		runs[run.Status()]++
	}
	for _, p := range r.pipelines {
		pipelines[p.Status()]++
	}
	return runs, pipelines
}

// Sweep evicts terminal entities whose last update is older than the
// retention window, archiving each one first. It returns the evicted ids so
// the caller can terminate their subscriptions.
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.retention)
	var evicted []string

	for id, run := range r.runs {
		if run.Terminal() && run.UpdatedAt().Before(cutoff) {
			r.archiveRun(run)
			delete(r.runs, id)
			evicted = append(evicted, id)
		}
	}
	for id, p := range r.pipelines {
		if p.Terminal() && p.UpdatedAt().Before(cutoff) {
			r.archivePipeline(p)
			delete(r.pipelines, id)
			if r.byTarget[p.TargetKey()] == p {
				delete(r.byTarget, p.TargetKey())
			}
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Shutdown flushes every remaining entity to the archiver and clears the
// registry
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, run := range r.runs {
		r.archiveRun(run)
		delete(r.runs, id)
	}
	for id, p := range r.pipelines {
		r.archivePipeline(p)
		delete(r.pipelines, id)
	}
	r.byTarget = make(map[string]*domain.Pipeline)
}

func (r *Registry) archiveRun(run *domain.Run) {
	if r.archiver == nil {
		return
	}
	if err := r.archiver.ArchiveRun(run.Snapshot()); err != nil {
		log.Printf("[registry] archive run %s: %v", run.ID(), err)
	}
}

func (r *Registry) archivePipeline(p *domain.Pipeline) {
	if r.archiver == nil {
		return
	}
	if err := r.archiver.ArchivePipeline(p.Snapshot()); err != nil {
		log.Printf("[registry] archive pipeline %s: %v", p.ID(), err)
	}
}
