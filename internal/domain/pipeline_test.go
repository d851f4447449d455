package domain

import (
	"errors"
	"testing"
)

func TestPipeline_AllStepsSucceed(t *testing.T) {
	p := NewPipeline("pipe-1", "p1", 42)

	if _, err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, name := range StepOrder {
		if _, err := p.StartStep(name); err != nil {
			t.Fatalf("StartStep(%s): %v", name, err)
		}
		if _, err := p.FinishStep(name, true, []string{"ok"}, ""); err != nil {
			t.Fatalf("FinishStep(%s): %v", name, err)
		}
	}

	if _, err := p.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	snap := p.Snapshot()
	if snap.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", snap.Status)
	}
	if snap.Progress != 100 {
		t.Errorf("progress = %d, want 100", snap.Progress)
	}
	if len(snap.Steps) != len(StepOrder) {
		t.Fatalf("steps = %d, want %d", len(snap.Steps), len(StepOrder))
	}
	for i, s := range snap.Steps {
		if s.Name != StepOrder[i] {
			t.Errorf("step %d = %s, want %s", i, s.Name, StepOrder[i])
		}
		if s.Status != StepSuccess {
			t.Errorf("step %s = %s, want success", s.Name, s.Status)
		}
	}
}

func TestPipeline_StepFailureFailsPipeline(t *testing.T) {
	p := NewPipeline("pipe-1", "p1", 7)
	p.Start()

	p.StartStep(StepSnapshotCreation)
	p.FinishStep(StepSnapshotCreation, true, nil, "")
	p.StartStep(StepCodebaseClone)
	p.FinishStep(StepCodebaseClone, true, nil, "")
	p.StartStep(StepDeployment)
	if _, err := p.FinishStep(StepDeployment, false, nil, "image pull failed"); err != nil {
		t.Fatalf("FinishStep: %v", err)
	}

	if got := p.Status(); got != StatusFailed {
		t.Fatalf("status = %s, want failed", got)
	}

	// Downstream provisioning steps cannot start on a failed pipeline.
	if _, err := p.StartStep(StepHealthCheck); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("StartStep(health-check) err = %v, want ErrInvalidTransition", err)
	}

	// Cleanup still runs as the finalizer.
	if _, err := p.StartStep(StepCleanup); err != nil {
		t.Fatalf("StartStep(cleanup) after failure: %v", err)
	}
	if _, err := p.FinishStep(StepCleanup, true, nil, ""); err != nil {
		t.Fatalf("FinishStep(cleanup): %v", err)
	}

	snap := p.Snapshot()
	if snap.Error != "step deployment failed: image pull failed" {
		t.Errorf("error = %q", snap.Error)
	}
	for _, s := range snap.Steps {
		switch s.Name {
		case StepHealthCheck, StepWebEvaluation:
			if s.Status != StepPending {
				t.Errorf("step %s = %s, want pending", s.Name, s.Status)
			}
		case StepCleanup:
			if s.Status != StepSuccess {
				t.Errorf("cleanup = %s, want success", s.Status)
			}
		}
	}
}

func TestPipeline_CleanupFailureDoesNotEscalate(t *testing.T) {
	p := NewPipeline("pipe-1", "p1", 7)
	p.Start()

	for _, name := range StepOrder {
		p.StartStep(name)
		if name == StepCleanup {
			p.FinishStep(name, false, nil, "volume busy")
		} else {
			p.FinishStep(name, true, nil, "")
		}
	}

	// A cleanup failure is recorded on the step but leaves the pipeline
	// result intact.
	if _, err := p.Complete(); err != nil {
		t.Fatalf("Complete after cleanup failure: %v", err)
	}
	if got := p.Status(); got != StatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
}

func TestPipeline_CompleteRequiresAllSteps(t *testing.T) {
	p := NewPipeline("pipe-1", "p1", 7)
	p.Start()

	p.StartStep(StepSnapshotCreation)
	p.FinishStep(StepSnapshotCreation, true, nil, "")

	if _, err := p.Complete(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Complete with pending steps: err = %v, want ErrInvalidTransition", err)
	}
}

func TestPipeline_StepDoubleStart(t *testing.T) {
	p := NewPipeline("pipe-1", "p1", 7)
	p.Start()

	p.StartStep(StepSnapshotCreation)
	if _, err := p.StartStep(StepSnapshotCreation); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double StartStep: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := p.FinishStep(StepCodebaseClone, true, nil, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("FinishStep without start: err = %v, want ErrInvalidTransition", err)
	}
}

func TestPipeline_ProgressPerFinishedStep(t *testing.T) {
	p := NewPipeline("pipe-1", "p1", 7)
	p.Start()

	p.StartStep(StepSnapshotCreation)
	p.FinishStep(StepSnapshotCreation, true, nil, "")
	if got := p.Snapshot().Progress; got != 100/len(StepOrder) {
		t.Errorf("progress after one step = %d, want %d", got, 100/len(StepOrder))
	}

	p.StartStep(StepCodebaseClone)
	p.FinishStep(StepCodebaseClone, true, nil, "")
	if got := p.Snapshot().Progress; got != 200/len(StepOrder) {
		t.Errorf("progress after two steps = %d, want %d", got, 200/len(StepOrder))
	}
}

func TestPipeline_StepFailureBeforeCleanupProgress(t *testing.T) {
	// Step logs from the failed attempt are kept on the step snapshot.
	p := NewPipeline("pipe-1", "p1", 7)
	p.Start()

	p.StartStep(StepSnapshotCreation)
	p.FinishStep(StepSnapshotCreation, false, []string{"disk full"}, "no space left")

	snap := p.Snapshot()
	if snap.Steps[0].Error != "no space left" {
		t.Errorf("step error = %q", snap.Steps[0].Error)
	}
	if len(snap.Steps[0].Logs) != 1 || snap.Steps[0].Logs[0] != "disk full" {
		t.Errorf("step logs = %v", snap.Steps[0].Logs)
	}
}

func TestTargetKey(t *testing.T) {
	if got := TargetKey("proj", 12); got != "proj#12" {
		t.Errorf("TargetKey = %q, want proj#12", got)
	}
	if TargetKey("a", 1) == TargetKey("a", 11) {
		t.Error("distinct pr numbers must yield distinct keys")
	}
}
