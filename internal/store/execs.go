package store

import (
	"database/sql"

	"github.com/metorial/scriptforge/internal/models"
)

const executionColumns = `id, script_id, script_name, status, parameters, stdout, stderr, exit_code,
	hostname, runtime_version, started_at, completed_at, duration_ms, peak_memory_bytes, command_count, error`

func scanExecution(row interface{ Scan(...any) error }) (*models.Execution, error) {
	var e models.Execution
	var scriptID sql.NullInt64
	var scriptName, params, stdout, stderr, runtimeVersion, errMsg sql.NullString
	var exitCode sql.NullInt64
	var completed sql.NullTime
	err := row.Scan(&e.ID, &scriptID, &scriptName, &e.Status, &params, &stdout, &stderr,
		&exitCode, &e.Hostname, &runtimeVersion, &e.StartedAt, &completed,
		&e.DurationMS, &e.PeakMemory, &e.CommandCount, &errMsg)
	if err != nil {
		return nil, err
	}
	if scriptID.Valid {
		e.ScriptID = &scriptID.Int64
	}
	e.ScriptName = scriptName.String
	e.Parameters = params.String
	e.Stdout = stdout.String
	e.Stderr = stderr.String
	e.RuntimeVersion = runtimeVersion.String
	e.Error = errMsg.String
	if exitCode.Valid {
		code := int(exitCode.Int64)
		e.ExitCode = &code
	}
	if completed.Valid {
		e.CompletedAt = &completed.Time
	}
	return &e, nil
}

func (s *Store) CreateExecution(e *models.Execution) error {
	query := `INSERT INTO executions (id, script_id, script_name, status, parameters, hostname, runtime_version, started_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.conn.Exec(query, e.ID, e.ScriptID, e.ScriptName, e.Status,
		e.Parameters, e.Hostname, e.RuntimeVersion, e.StartedAt)
	return err
}

func (s *Store) GetExecution(id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = ?`
	return scanExecution(s.conn.QueryRow(query, id))
}

func (s *Store) SetExecutionStatus(id string, status models.ExecutionStatus) error {
	query := `UPDATE executions SET status = ? WHERE id = ? AND completed_at IS NULL`
	_, err := s.conn.Exec(query, status, id)
	return err
}

// FinalizeExecution writes the terminal record for an execution. The
// owning worker is the only caller.
func (s *Store) FinalizeExecution(e *models.Execution) error {
	query := `UPDATE executions SET status = ?, stdout = ?, stderr = ?, exit_code = ?,
	          completed_at = ?, duration_ms = ?, peak_memory_bytes = ?, command_count = ?, error = ?
	          WHERE id = ? AND completed_at IS NULL`
	_, err := s.conn.Exec(query, e.Status, e.Stdout, e.Stderr, e.ExitCode,
		e.CompletedAt, e.DurationMS, e.PeakMemory, e.CommandCount, e.Error, e.ID)
	return err
}

func (s *Store) GetRecentExecutions(limit int) ([]models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions ORDER BY started_at DESC LIMIT ?`
	rows, err := s.conn.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []models.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *e)
	}
	return execs, rows.Err()
}
