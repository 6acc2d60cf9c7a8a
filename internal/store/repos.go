package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/metorial/scriptforge/internal/models"
)

const repositoryColumns = `id, owner, name, default_branch, status, last_sync_at, created_at, updated_at`

func scanRepository(row interface{ Scan(...any) error }) (*models.TrackedRepository, error) {
	var r models.TrackedRepository
	var lastSync sql.NullTime
	err := row.Scan(&r.ID, &r.Owner, &r.Name, &r.DefaultBranch, &r.Status,
		&lastSync, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		r.LastSyncAt = &lastSync.Time
	}
	return &r, nil
}

func (s *Store) CreateRepository(repo *models.TrackedRepository) (int64, error) {
	query := `INSERT INTO repositories (owner, name, default_branch, status, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?) RETURNING id`
	now := time.Now()
	var id int64
	err := s.conn.QueryRow(query, repo.Owner, repo.Name, repo.DefaultBranch,
		models.RepositoryActive, now, now).Scan(&id)
	return id, err
}

func (s *Store) GetRepository(id int64) (*models.TrackedRepository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE id = ?`
	return scanRepository(s.conn.QueryRow(query, id))
}

func (s *Store) GetRepositoryByFullName(fullName string) (*models.TrackedRepository, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok {
		return nil, sql.ErrNoRows
	}
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE owner = ? AND name = ?`
	return scanRepository(s.conn.QueryRow(query, owner, name))
}

func (s *Store) GetAllRepositories() ([]models.TrackedRepository, error) {
	return s.queryRepositories(`SELECT ` + repositoryColumns + ` FROM repositories ORDER BY owner, name`)
}

func (s *Store) GetActiveRepositories() ([]models.TrackedRepository, error) {
	return s.queryRepositories(`SELECT `+repositoryColumns+` FROM repositories WHERE status != ? ORDER BY owner, name`,
		models.RepositoryDisabled)
}

func (s *Store) queryRepositories(query string, args ...any) ([]models.TrackedRepository, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []models.TrackedRepository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

func (s *Store) SetRepositoryStatus(id int64, status models.RepositoryStatus) error {
	query := `UPDATE repositories SET status = ?, updated_at = ? WHERE id = ?`
	_, err := s.conn.Exec(query, status, time.Now(), id)
	return err
}

// TouchRepositorySync advances the last-sync timestamp inside tx so it
// commits together with the finalized sync run.
func (t *Tx) TouchRepositorySync(id int64, at time.Time) error {
	query := `UPDATE repositories SET last_sync_at = ?, updated_at = ? WHERE id = ?`
	_, err := t.tx.Exec(query, at, at, id)
	return err
}

func (t *Tx) SetRepositoryStatus(id int64, status models.RepositoryStatus) error {
	query := `UPDATE repositories SET status = ?, updated_at = ? WHERE id = ?`
	_, err := t.tx.Exec(query, status, time.Now(), id)
	return err
}
