// Package history provides SQLite-backed persistence of terminal runs and
// pipelines. The registry hands entities over on eviction or shutdown; the
// live orchestrator never reads from here.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hochfrequenz/run-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// Store archives evicted entities
type Store struct {
	db *sql.DB
}

// New opens (or creates) the history database at the given path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// ArchiveRun persists a run snapshot
func (s *Store) ArchiveRun(snap domain.Snapshot) error {
	logsJSON, err := json.Marshal(snap.Logs)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, project_id, run_type, status, progress, response, error, logs, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			response = excluded.response,
			error = excluded.error,
			logs = excluded.logs,
			updated_at = excluded.updated_at
	`,
		snap.EntityID,
		snap.ProjectID,
		string(snap.RunType),
		string(snap.Status),
		snap.Progress,
		snap.Response,
		snap.Error,
		string(logsJSON),
		snap.CreatedAt,
		snap.UpdatedAt,
	)
	return err
}

// ArchivePipeline persists a pipeline snapshot including step detail
func (s *Store) ArchivePipeline(snap domain.Snapshot) error {
	logsJSON, err := json.Marshal(snap.Logs)
	if err != nil {
		return err
	}
	stepsJSON, err := json.Marshal(snap.Steps)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO pipelines (id, project_id, pr_number, status, progress, error, logs, steps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			error = excluded.error,
			logs = excluded.logs,
			steps = excluded.steps,
			updated_at = excluded.updated_at
	`,
		snap.EntityID,
		snap.ProjectID,
		snap.PRNumber,
		string(snap.Status),
		snap.Progress,
		snap.Error,
		string(logsJSON),
		string(stepsJSON),
		snap.CreatedAt,
		snap.UpdatedAt,
	)
	return err
}

// Run retrieves an archived run snapshot by id
func (s *Store) Run(id string) (domain.Snapshot, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, run_type, status, progress, response, error, logs, created_at, updated_at
		FROM runs WHERE id = ?
	`, id)

	var snap domain.Snapshot
	var runType, status, logsJSON string
	var response, errMsg sql.NullString

	err := row.Scan(&snap.EntityID, &snap.ProjectID, &runType, &status, &snap.Progress,
		&response, &errMsg, &logsJSON, &snap.CreatedAt, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Snapshot{}, fmt.Errorf("%w: run %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Snapshot{}, err
	}

	snap.EntityType = domain.EntityRun
	snap.RunType = domain.RunType(runType)
	snap.Status = domain.Status(status)
	snap.Response = response.String
	snap.Error = errMsg.String
	if err := json.Unmarshal([]byte(logsJSON), &snap.Logs); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

// Pipeline retrieves an archived pipeline snapshot by id
func (s *Store) Pipeline(id string) (domain.Snapshot, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, pr_number, status, progress, error, logs, steps, created_at, updated_at
		FROM pipelines WHERE id = ?
	`, id)

	var snap domain.Snapshot
	var status, logsJSON, stepsJSON string
	var errMsg sql.NullString

	err := row.Scan(&snap.EntityID, &snap.ProjectID, &snap.PRNumber, &status, &snap.Progress,
		&errMsg, &logsJSON, &stepsJSON, &snap.CreatedAt, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Snapshot{}, fmt.Errorf("%w: pipeline %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Snapshot{}, err
	}

	snap.EntityType = domain.EntityPipeline
	snap.Status = domain.Status(status)
	snap.Error = errMsg.String
	if err := json.Unmarshal([]byte(logsJSON), &snap.Logs); err != nil {
		return domain.Snapshot{}, err
	}
	if err := json.Unmarshal([]byte(stepsJSON), &snap.Steps); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}
