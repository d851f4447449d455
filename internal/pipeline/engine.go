// Package pipeline drives the fixed six-step validation sequence for a
// produced pull request. Steps run strictly sequentially; a non-cleanup
// failure fails the pipeline and skips everything except cleanup, which
// always runs as a best-effort finalizer.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hochfrequenz/run-orchestrator/internal/broadcast"
	"github.com/hochfrequenz/run-orchestrator/internal/domain"
	"github.com/hochfrequenz/run-orchestrator/internal/registry"
	"github.com/hochfrequenz/run-orchestrator/internal/stage"
)

// Per-step timeouts. Cleanup timeout failures are logged but never escalate
// the pipeline status.
var stepTimeouts = map[domain.StepName]time.Duration{
	domain.StepSnapshotCreation: 60 * time.Second,
	domain.StepCodebaseClone:    120 * time.Second,
	domain.StepDeployment:       180 * time.Second,
	domain.StepHealthCheck:      60 * time.Second,
	domain.StepWebEvaluation:    300 * time.Second,
	domain.StepCleanup:          60 * time.Second,
}

// Engine sequences validation pipelines
type Engine struct {
	registry *registry.Registry
	stages   *stage.Registry
	hub      *broadcast.Hub
	retry    stage.RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pipeline engine
func New(reg *registry.Registry, stages *stage.Registry, hub *broadcast.Hub, retry stage.RetryPolicy) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		registry: reg,
		stages:   stages,
		hub:      hub,
		retry:    retry,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit creates and starts a validation pipeline for one pull request.
// Returns ErrAlreadyRunning (wrapped) while another pipeline for the same
// (project, pr) target is in flight; the caller must retry after it
// completes.
func (e *Engine) Submit(projectID string, prNumber int) (*domain.Pipeline, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}

	p, err := e.registry.CreatePipeline(projectID, prNumber)
	if err != nil {
		return nil, err
	}

	e.wg.Add(1)
	go e.drive(p)
	return p, nil
}

// Shutdown aborts in-flight stage work and waits for driving tasks
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) drive(p *domain.Pipeline) {
	defer e.wg.Done()

	ev, err := p.Start()
	if err != nil {
		log.Printf("[pipeline] %s start: %v", p.ID(), err)
		return
	}
	e.hub.Publish(ev)

	prior := make(map[string]string)
	failed := false

	for _, name := range domain.StepOrder {
		if name == domain.StepCleanup {
			continue
		}
		if failed {
			// Skipped steps never start; their status stays pending.
			continue
		}
		if !e.runStep(p, name, prior) {
			failed = true
		}
	}

	// Cleanup always runs, exactly once, regardless of prior failure.
	e.runStep(p, domain.StepCleanup, prior)

	if !failed {
		if ev, err := p.Complete(); err == nil {
			e.hub.Publish(ev)
		} else {
			log.Printf("[pipeline] %s complete: %v", p.ID(), err)
		}
	}
}

// runStep executes one step under the retry policy and records its outcome
func (e *Engine) runStep(p *domain.Pipeline, name domain.StepName, prior map[string]string) bool {
	ev, err := p.StartStep(name)
	if err != nil {
		log.Printf("[pipeline] %s step %s: %v", p.ID(), name, err)
		return false
	}
	e.hub.Publish(ev)

	in := stage.Input{
		ProjectID: p.ProjectID(),
		PRNumber:  p.PRNumber(),
		Prior:     prior,
	}

	var retryLogs []string
	logf := func(format string, args ...interface{}) {
		retryLogs = append(retryLogs, fmt.Sprintf(format, args...))
	}

	out := e.retry.Execute(e.ctx, e.stages.Resolve(stage.Kind(name)), in, stepTimeouts[name], logf)

	logs := append(retryLogs, out.Logs...)
	ev, err = p.FinishStep(name, out.OK(), logs, out.Error)
	if err != nil {
		log.Printf("[pipeline] %s step %s finish: %v", p.ID(), name, err)
		return false
	}
	e.hub.Publish(ev)

	if out.OK() {
		for k, v := range out.Payload {
			prior[k] = v
		}
	}
	return out.OK()
}
