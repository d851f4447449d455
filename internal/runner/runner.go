// Package runner drives agent runs through their phase chain. Each run is
// owned by a single goroutine; cancellation is cooperative and observed at
// phase boundaries only.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/hochfrequenz/run-orchestrator/internal/broadcast"
	"github.com/hochfrequenz/run-orchestrator/internal/domain"
	"github.com/hochfrequenz/run-orchestrator/internal/registry"
	"github.com/hochfrequenz/run-orchestrator/internal/stage"
)

// phase couples a stage kind with its progress heuristic and timeout
type phase struct {
	kind     stage.Kind
	progress int
	timeout  time.Duration
}

// Fixed progress heuristics per phase boundary; terminal is 100.
var allPhases = []phase{
	{stage.KindSubmission, 10, 60 * time.Second},
	{stage.KindModelResponse, 60, 10 * time.Minute},
	{stage.KindPRCreation, 90, 2 * time.Minute},
}

// ValidationStarter kicks off a validation pipeline once a run has produced
// a pull request
type ValidationStarter interface {
	Submit(projectID string, prNumber int) (*domain.Pipeline, error)
}

// Runner dispatches runs and drives their state machines
type Runner struct {
	registry *registry.Registry
	stages   *stage.Registry
	hub      *broadcast.Hub
	retry    stage.RetryPolicy

	validations ValidationStarter

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a runner
func New(reg *registry.Registry, stages *stage.Registry, hub *broadcast.Hub, retry stage.RetryPolicy) *Runner {
	return &Runner{
		registry: reg,
		stages:   stages,
		hub:      hub,
		retry:    retry,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// SetValidationStarter wires the pipeline engine in after construction
func (r *Runner) SetValidationStarter(vs ValidationStarter) {
	r.validations = vs
}

// Submit allocates a run and starts its driving task. The returned run is
// in the pending state.
func (r *Runner) Submit(req domain.RunRequest) (*domain.Run, error) {
	if req.ProjectID == "" {
		return nil, errors.New("project id is required")
	}
	if req.Instruction == "" {
		return nil, errors.New("instruction is required")
	}
	runType, err := domain.ParseRunType(string(req.Type))
	if err != nil {
		return nil, err
	}
	req.Type = runType

	run := r.registry.CreateRun(req)

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancels[run.ID()] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.drive(ctx, run)

	return run, nil
}

// Cancel requests cooperative cancellation of a run. Idempotent: cancelling
// an already-terminal run is a no-op returning the current terminal status.
func (r *Runner) Cancel(id string) (domain.Status, error) {
	run, err := r.registry.Run(id)
	if err != nil {
		return "", err
	}

	ev, changed := run.Cancel()
	if changed {
		r.hub.Publish(ev)
		r.mu.Lock()
		if cancel, ok := r.cancels[id]; ok {
			cancel()
		}
		r.mu.Unlock()
		log.Printf("[runner] run %s cancelled", id)
	}
	return run.Status(), nil
}

// Shutdown cancels all driving tasks and waits for them to observe it
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// phasesFor returns the phase chain for a run type. Only pull-request runs
// execute the pr-creation sub-stage.
func phasesFor(t domain.RunType) []phase {
	if t == domain.RunTypePullRequest {
		return allPhases
	}
	return allPhases[:2]
}

func (r *Runner) drive(ctx context.Context, run *domain.Run) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		if cancel, ok := r.cancels[run.ID()]; ok {
			cancel()
			delete(r.cancels, run.ID())
		}
		r.mu.Unlock()
	}()

	ev, err := run.Start()
	if err != nil {
		// Cancelled before dispatch acceptance.
		return
	}
	r.hub.Publish(ev)

	prior := make(map[string]string)
	prNumber := 0

	for _, ph := range phasesFor(run.Type()) {
		// Cancellation checkpoint: a stage already dispatched runs to its
		// own completion or timeout before this is observed.
		if run.Status() != domain.StatusRunning {
			return
		}

		out := r.executePhase(ctx, run, ph, prior)

		if len(out.Logs) > 0 {
			if ev, err := run.AppendLogs(domain.LevelDebug, out.Logs); err == nil {
				r.hub.Publish(ev)
			}
		}

		if !out.OK() {
			if run.Status() != domain.StatusRunning {
				// Cancelled while the stage was in flight; keep the
				// cancelled terminal state.
				return
			}
			if ev, err := run.Fail(fmt.Sprintf("%s: %s", ph.kind, out.Error)); err == nil {
				r.hub.Publish(ev)
			}
			return
		}

		for k, v := range out.Payload {
			prior[k] = v
		}
		if ph.kind == stage.KindPRCreation {
			if n, err := strconv.Atoi(prior["pr_number"]); err == nil {
				prNumber = n
			}
		}

		if ev, err := run.Advance(ph.progress, fmt.Sprintf("phase %s finished", ph.kind)); err == nil {
			r.hub.Publish(ev)
		} else {
			return
		}
	}

	ev, err = run.Complete(prior["response"])
	if err != nil {
		return
	}
	r.hub.Publish(ev)

	if prNumber > 0 {
		r.startValidation(run, prNumber)
	}
}

// executePhase runs one phase under the retry policy, surfacing retry
// progress as warn-level run logs
func (r *Runner) executePhase(ctx context.Context, run *domain.Run, ph phase, prior map[string]string) stage.Outcome {
	in := stage.Input{
		ProjectID:   run.ProjectID(),
		Instruction: run.Instruction(),
		Prior:       prior,
	}
	logf := func(format string, args ...interface{}) {
		if ev, err := run.AppendLog(domain.LevelWarn, string(ph.kind)+": "+fmt.Sprintf(format, args...)); err == nil {
			r.hub.Publish(ev)
		}
	}
	return r.retry.Execute(ctx, r.stages.Resolve(ph.kind), in, ph.timeout, logf)
}

// startValidation creates the validation pipeline for a produced pull
// request. A duplicate in-flight pipeline is logged, not fatal to the run.
func (r *Runner) startValidation(run *domain.Run, prNumber int) {
	if r.validations == nil {
		return
	}
	p, err := r.validations.Submit(run.ProjectID(), prNumber)
	if err != nil {
		log.Printf("[runner] validation for %s pr=%d not started: %v", run.ProjectID(), prNumber, err)
		return
	}
	log.Printf("[runner] validation %s started for %s pr=%d", p.ID(), run.ProjectID(), prNumber)
}
