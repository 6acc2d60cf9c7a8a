package store

import (
	"database/sql"
	"time"

	"github.com/metorial/scriptforge/internal/models"
)

const syncRunColumns = `id, repository_id, trigger_type, status, processed, added, updated, removed, error, started_at, completed_at`

func scanSyncRun(row interface{ Scan(...any) error }) (*models.SyncRun, error) {
	var run models.SyncRun
	var errMsg sql.NullString
	var completed sql.NullTime
	err := row.Scan(&run.ID, &run.RepositoryID, &run.Trigger, &run.Status,
		&run.Processed, &run.Added, &run.Updated, &run.Removed,
		&errMsg, &run.StartedAt, &completed)
	if err != nil {
		return nil, err
	}
	run.Error = errMsg.String
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return &run, nil
}

func (s *Store) CreateSyncRun(run *models.SyncRun) (int64, error) {
	query := `INSERT INTO sync_runs (repository_id, trigger_type, status, started_at)
	          VALUES (?, ?, ?, ?) RETURNING id`
	var id int64
	err := s.conn.QueryRow(query, run.RepositoryID, run.Trigger, run.Status, run.StartedAt).Scan(&id)
	return id, err
}

func (s *Store) GetSyncRun(id int64) (*models.SyncRun, error) {
	query := `SELECT ` + syncRunColumns + ` FROM sync_runs WHERE id = ?`
	return scanSyncRun(s.conn.QueryRow(query, id))
}

// GetLatestSyncRun returns the most recent run for a repository, or
// sql.ErrNoRows when the repository has never synced.
func (s *Store) GetLatestSyncRun(repositoryID int64) (*models.SyncRun, error) {
	query := `SELECT ` + syncRunColumns + ` FROM sync_runs
	          WHERE repository_id = ? ORDER BY started_at DESC, id DESC LIMIT 1`
	return scanSyncRun(s.conn.QueryRow(query, repositoryID))
}

func (s *Store) GetSyncHistory(repositoryID int64, limit int) ([]models.SyncRun, error) {
	query := `SELECT ` + syncRunColumns + ` FROM sync_runs
	          WHERE repository_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`
	rows, err := s.conn.Query(query, repositoryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *Store) SetSyncRunStatus(id int64, status models.SyncStatus) error {
	query := `UPDATE sync_runs SET status = ? WHERE id = ? AND completed_at IS NULL`
	_, err := s.conn.Exec(query, status, id)
	return err
}

// FinalizeSyncRun records the terminal state. The completed_at guard keeps
// finished runs immutable.
func (t *Tx) FinalizeSyncRun(id int64, status models.SyncStatus, errMsg string, completedAt time.Time) error {
	query := `UPDATE sync_runs SET status = ?, error = ?, completed_at = ?
	          WHERE id = ? AND completed_at IS NULL`
	_, err := t.tx.Exec(query, status, errMsg, completedAt, id)
	return err
}

// PruneSyncRuns removes completed runs older than the retention window.
func (s *Store) PruneSyncRuns(retention time.Duration) error {
	query := `DELETE FROM sync_runs WHERE completed_at IS NOT NULL AND completed_at < ?`
	_, err := s.conn.Exec(query, time.Now().Add(-retention))
	return err
}
