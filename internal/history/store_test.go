package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/run-orchestrator/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_ArchiveAndFetchRun(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	snap := domain.Snapshot{
		EntityType: domain.EntityRun,
		EntityID:   "run-1",
		ProjectID:  "p1",
		RunType:    domain.RunTypePullRequest,
		Status:     domain.StatusCompleted,
		Progress:   100,
		Response:   "merged",
		Logs: []domain.LogEntry{
			{Timestamp: now, Level: domain.LevelInfo, Message: "run submitted"},
			{Timestamp: now, Level: domain.LevelInfo, Message: "run completed"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := store.ArchiveRun(snap); err != nil {
		t.Fatalf("ArchiveRun: %v", err)
	}

	got, err := store.Run("run-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != domain.StatusCompleted || got.Progress != 100 {
		t.Errorf("got status %s progress %d", got.Status, got.Progress)
	}
	if got.RunType != domain.RunTypePullRequest {
		t.Errorf("run type = %s", got.RunType)
	}
	if got.Response != "merged" {
		t.Errorf("response = %q", got.Response)
	}
	if len(got.Logs) != 2 || got.Logs[1].Message != "run completed" {
		t.Errorf("logs = %v", got.Logs)
	}
}

func TestStore_ArchiveRunUpsert(t *testing.T) {
	store := newTestStore(t)

	snap := domain.Snapshot{
		EntityID:  "run-1",
		ProjectID: "p1",
		RunType:   domain.RunTypeRegular,
		Status:    domain.StatusFailed,
		Error:     "first",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := store.ArchiveRun(snap); err != nil {
		t.Fatal(err)
	}

	snap.Error = "second"
	if err := store.ArchiveRun(snap); err != nil {
		t.Fatalf("re-archive: %v", err)
	}

	got, err := store.Run("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Error != "second" {
		t.Errorf("error = %q, want second (upsert)", got.Error)
	}
}

func TestStore_ArchiveAndFetchPipeline(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	started := now.Add(time.Second)
	snap := domain.Snapshot{
		EntityType: domain.EntityPipeline,
		EntityID:   "pipe-1",
		ProjectID:  "p1",
		PRNumber:   42,
		Status:     domain.StatusFailed,
		Progress:   33,
		Error:      "step deployment failed: crash",
		Steps: []domain.StepSnapshot{
			{Name: domain.StepSnapshotCreation, Status: domain.StepSuccess, StartedAt: &started, FinishedAt: &started},
			{Name: domain.StepDeployment, Status: domain.StepFailed, Error: "crash", Logs: []string{"oom"}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := store.ArchivePipeline(snap); err != nil {
		t.Fatalf("ArchivePipeline: %v", err)
	}

	got, err := store.Pipeline("pipe-1")
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	if got.PRNumber != 42 {
		t.Errorf("pr number = %d, want 42", got.PRNumber)
	}
	if got.Error != snap.Error {
		t.Errorf("error = %q", got.Error)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(got.Steps))
	}
	if got.Steps[1].Status != domain.StepFailed || got.Steps[1].Logs[0] != "oom" {
		t.Errorf("failed step = %+v", got.Steps[1])
	}
}

func TestStore_NotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Run("ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Run err = %v, want ErrNotFound", err)
	}
	if _, err := store.Pipeline("ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Pipeline err = %v, want ErrNotFound", err)
	}
}
