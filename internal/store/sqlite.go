package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/harmonia-ai/harmonia/pkg/models"
)

// SQLiteStore is the durable TaskStore backed by SQLite. WAL mode is enabled
// so many concurrent dispatches can read while one writes.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the task database at the given path.
func Open(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *SQLiteStore) Path() string {
	return s.path
}

// migrate applies all pending schema migrations.
func (s *SQLiteStore) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, `
			CREATE TABLE IF NOT EXISTS tasks (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				agent_id TEXT NOT NULL,
				agent_name TEXT NOT NULL DEFAULT '',
				thread_id TEXT NOT NULL DEFAULT '',
				command TEXT NOT NULL,
				status TEXT NOT NULL,
				progress_percentage INTEGER NOT NULL DEFAULT 0,
				current_node TEXT NOT NULL DEFAULT '',
				consultation_target_id TEXT NOT NULL DEFAULT '',
				consultation_nickname TEXT NOT NULL DEFAULT '',
				result TEXT,
				error_message TEXT,
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at TEXT NOT NULL,
				started_at TEXT,
				completed_at TEXT
			)
		`},
		{2, `
			CREATE INDEX IF NOT EXISTS idx_tasks_owner_created
			ON tasks(owner_id, created_at DESC)
		`},
		{3, `
			CREATE INDEX IF NOT EXISTS idx_tasks_owner_status
			ON tasks(owner_id, status)
		`},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.conn.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.conn.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// transaction runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) transaction(fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Create inserts a new task record with status queued.
func (s *SQLiteStore) Create(spec TaskSpec) (*models.Task, error) {
	now := time.Now().UTC()
	meta, err := marshalMetadata(spec.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.conn.Exec(`
		INSERT INTO tasks (id, owner_id, agent_id, agent_name, thread_id, command, status, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		spec.ID, spec.OwnerID, spec.AgentID, spec.AgentName, spec.ThreadID,
		spec.Command, string(models.TaskStatusQueued), meta, formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return s.Get(spec.ID)
}

// Get loads a task by ID.
func (s *SQLiteStore) Get(id string) (*models.Task, error) {
	row := s.conn.QueryRow(selectColumns+" FROM tasks WHERE id = ?", id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

// Update applies a partial update of non-lifecycle fields.
func (s *SQLiteStore) Update(id string, update TaskUpdate) (*models.Task, error) {
	err := s.transaction(func(tx *sql.Tx) error {
		if update.AgentName != nil {
			if _, err := tx.Exec("UPDATE tasks SET agent_name = ? WHERE id = ?", *update.AgentName, id); err != nil {
				return fmt.Errorf("update agent_name: %w", err)
			}
		}
		if update.Metadata != nil {
			meta, err := marshalMetadata(update.Metadata)
			if err != nil {
				return err
			}
			if _, err := tx.Exec("UPDATE tasks SET metadata = ? WHERE id = ?", meta, id); err != nil {
				return fmt.Errorf("update metadata: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(id)
}

// SetStatus transitions the task's status atomically, validating the edge
// and stamping timestamps inside a single transaction.
func (s *SQLiteStore) SetStatus(id string, status models.TaskStatus, change StatusChange) (*models.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}

	err := s.transaction(func(tx *sql.Tx) error {
		row := tx.QueryRow("SELECT status, started_at FROM tasks WHERE id = ?", id)
		var current string
		var startedAt sql.NullString
		if err := row.Scan(&current, &startedAt); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("read current status: %w", err)
		}

		if err := validateTransition(models.TaskStatus(current), status); err != nil {
			return fmt.Errorf("task %s: %w", id, err)
		}

		now := formatTime(time.Now().UTC())
		query := "UPDATE tasks SET status = ?"
		args := []any{string(status)}

		switch {
		case status == models.TaskStatusInProgress && !startedAt.Valid:
			query += ", started_at = ?"
			args = append(args, now)
		case status.IsTerminal():
			query += ", completed_at = ?"
			args = append(args, now)
		}

		if status == models.TaskStatusToolCall {
			query += ", consultation_target_id = ?, consultation_nickname = ?"
			args = append(args, change.ConsultationTargetID, change.ConsultationNickname)
		} else {
			// Consultation fields are only meaningful while consulting.
			query += ", consultation_target_id = '', consultation_nickname = ''"
		}

		if change.Result != nil {
			query += ", result = ?"
			args = append(args, *change.Result)
		}
		if change.ErrorMessage != nil {
			query += ", error_message = ?"
			args = append(args, *change.ErrorMessage)
		}

		query += " WHERE id = ?"
		args = append(args, id)

		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(id)
}

// UpdateProgress persists the latest progress percentage and node name.
func (s *SQLiteStore) UpdateProgress(id string, percent int, node string) error {
	res, err := s.conn.Exec(
		"UPDATE tasks SET progress_percentage = ?, current_node = ? WHERE id = ?",
		percent, node, id,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByOwner returns the owner's tasks, newest first.
func (s *SQLiteStore) ListByOwner(ownerID string, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(
		selectColumns+" FROM tasks WHERE owner_id = ? ORDER BY created_at DESC LIMIT ?",
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ListByStatus returns every task in the given status, oldest first.
func (s *SQLiteStore) ListByStatus(status models.TaskStatus) ([]*models.Task, error) {
	rows, err := s.conn.Query(
		selectColumns+" FROM tasks WHERE status = ? ORDER BY created_at ASC",
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// DeleteByStatus removes all of the owner's tasks in the given status.
func (s *SQLiteStore) DeleteByStatus(ownerID string, status models.TaskStatus) ([]string, error) {
	var ids []string
	err := s.transaction(func(tx *sql.Tx) error {
		rows, err := tx.Query("SELECT id FROM tasks WHERE owner_id = ? AND status = ?", ownerID, string(status))
		if err != nil {
			return fmt.Errorf("select tasks to delete: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.Exec("DELETE FROM tasks WHERE owner_id = ? AND status = ?", ownerID, string(status)); err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

const selectColumns = `SELECT id, owner_id, agent_id, agent_name, thread_id, command, status,
	progress_percentage, current_node, consultation_target_id, consultation_nickname,
	result, error_message, metadata, created_at, started_at, completed_at`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var t models.Task
	var result, errMsg sql.NullString
	var meta, createdAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(
		&t.ID, &t.OwnerID, &t.AgentID, &t.AgentName, &t.ThreadID, &t.Command, &t.Status,
		&t.ProgressPercentage, &t.CurrentNode, &t.ConsultationTargetID, &t.ConsultationNickname,
		&result, &errMsg, &meta, &createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if result.Valid {
		t.Result = &result.String
	}
	if errMsg.Valid {
		t.ErrorMessage = &errMsg.String
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}

	t.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	t.StartedAt = parseNullableTime(startedAt)
	t.CompletedAt = parseNullableTime(completedAt)
	return &t, nil
}

func marshalMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

// Ensure SQLiteStore satisfies the TaskStore contract.
var _ TaskStore = (*SQLiteStore)(nil)
