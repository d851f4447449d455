// Package stage defines the uniform contract every pipeline step and agent
// run phase is dispatched through. Side effects (cloning, deploying,
// invoking a model) live entirely inside the executor; the orchestrator
// only sees the outcome.
package stage

import (
	"context"
	"fmt"
	"sync"
)

// Kind identifies what operation an executor performs. Run phases and
// validation step names are both kinds; dispatch is an explicit lookup by
// kind, never runtime type inspection.
type Kind string

// Run phase kinds
const (
	KindSubmission    Kind = "instruction-submission"
	KindModelResponse Kind = "model-response"
	KindPRCreation    Kind = "pr-creation"
)

// Input carries the immutable inputs for one stage invocation. Prior holds
// the merged payloads of all preceding stages.
type Input struct {
	ProjectID   string
	Instruction string
	PRNumber    int
	Prior       map[string]string
}

// Outcome is the uniform result contract. An empty Error means success.
type Outcome struct {
	Payload map[string]string
	Logs    []string
	Error   string
}

// OK reports whether the stage succeeded
func (o Outcome) OK() bool { return o.Error == "" }

// Failure builds a failed outcome with a reason
func Failure(reason string, logs ...string) Outcome {
	return Outcome{Error: reason, Logs: logs}
}

// Executor is the capability every stage implements. Executors must be safe
// to retry and must respect ctx cancellation/deadline.
type Executor interface {
	Execute(ctx context.Context, in Input) Outcome
}

// Func adapts a plain function to the Executor interface
type Func func(ctx context.Context, in Input) Outcome

// Execute implements Executor
func (f Func) Execute(ctx context.Context, in Input) Outcome {
	return f(ctx, in)
}

// noop is the fallback executor for kinds with no registered collaborator
var noop = Func(func(ctx context.Context, in Input) Outcome {
	return Outcome{Logs: []string{"no executor bound, skipping"}}
})

// Registry maps stage kinds to their executors
type Registry struct {
	mu        sync.RWMutex
	executors map[Kind]Executor
}

// NewRegistry creates an empty executor registry
func NewRegistry() *Registry {
	return &Registry{executors: make(map[Kind]Executor)}
}

// Register binds an executor to a kind, replacing any previous binding
func (r *Registry) Register(kind Kind, ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[kind] = ex
}

// Lookup returns the executor bound to a kind
func (r *Registry) Lookup(kind Kind) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("no executor registered for kind %s", kind)
	}
	return ex, nil
}

// Resolve returns the executor bound to a kind, falling back to a no-op
// success executor so the orchestrator stays runnable without collaborators
func (r *Registry) Resolve(kind Kind) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ex, ok := r.executors[kind]; ok {
		return ex
	}
	return noop
}

// Kinds returns all registered kinds
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	return kinds
}
