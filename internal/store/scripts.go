package store

import (
	"github.com/metorial/scriptforge/internal/models"
)

const scriptColumns = `id, repository_id, path, branch, sha, metadata, security, modified_at, created_at`

func scanScript(row interface{ Scan(...any) error }) (*models.CatalogedScript, error) {
	var sc models.CatalogedScript
	err := row.Scan(&sc.ID, &sc.RepositoryID, &sc.Path, &sc.Branch, &sc.SHA,
		&sc.Metadata, &sc.Security, &sc.ModifiedAt, &sc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Store) GetScript(id int64) (*models.CatalogedScript, error) {
	query := `SELECT ` + scriptColumns + ` FROM scripts WHERE id = ?`
	return scanScript(s.conn.QueryRow(query, id))
}

func (s *Store) GetScriptsByRepository(repositoryID int64) ([]models.CatalogedScript, error) {
	query := `SELECT ` + scriptColumns + ` FROM scripts WHERE repository_id = ? ORDER BY path`
	rows, err := s.conn.Query(query, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scripts []models.CatalogedScript
	for rows.Next() {
		sc, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, *sc)
	}
	return scripts, rows.Err()
}

// UpsertScript inserts or overwrites the entry for (repository, path, branch).
func (t *Tx) UpsertScript(sc *models.CatalogedScript) error {
	query := `
	INSERT INTO scripts (repository_id, path, branch, sha, metadata, security, modified_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(repository_id, path, branch) DO UPDATE SET
		sha = excluded.sha,
		metadata = excluded.metadata,
		security = excluded.security,
		modified_at = excluded.modified_at
	`
	_, err := t.tx.Exec(query, sc.RepositoryID, sc.Path, sc.Branch, sc.SHA,
		sc.Metadata, sc.Security, sc.ModifiedAt)
	return err
}

func (t *Tx) DeleteScript(id int64) error {
	_, err := t.tx.Exec(`DELETE FROM scripts WHERE id = ?`, id)
	return err
}

func (t *Tx) IncrementSyncCounts(runID int64, processed, added, updated, removed int) error {
	query := `UPDATE sync_runs SET processed = processed + ?, added = added + ?,
	          updated = updated + ?, removed = removed + ? WHERE id = ?`
	_, err := t.tx.Exec(query, processed, added, updated, removed, runID)
	return err
}
