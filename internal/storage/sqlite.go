package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver, CGO-free, compatible with CGO_ENABLED=0

	"code-review-pipeline/internal/domain"
	"code-review-pipeline/internal/usage"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS sessions (
        trace_id     TEXT PRIMARY KEY,
        project_root TEXT NOT NULL,
        request_data TEXT NOT NULL,
        report       TEXT NOT NULL,
        title        TEXT,
        usage_data   TEXT NOT NULL,
        created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
        duration_ms  INTEGER,
        status       TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_root);
    CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
    `
	_, err := db.Exec(schema)
	return err
}

func (r *SQLiteRepository) SaveSession(ctx context.Context, record *SessionRecord) error {
	requestData, err := json.Marshal(record.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	usageData, err := json.Marshal(record.Usage)
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}

	projectRoot := ""
	if record.Request != nil {
		projectRoot = record.Request.ProjectRoot
	}

	_, err = r.db.ExecContext(ctx, `
        INSERT INTO sessions (trace_id, project_root, request_data, report, title, usage_data, duration_ms, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, record.TraceID, projectRoot, string(requestData), record.Report,
		record.Title, string(usageData), record.DurationMs, record.Status, record.CreatedAt)
	return err
}

func (r *SQLiteRepository) GetSession(ctx context.Context, traceID string) (*SessionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT trace_id, request_data, report, title, usage_data, created_at, duration_ms, status
        FROM sessions WHERE trace_id = ?
    `, traceID)
	return scanSession(row)
}

func (r *SQLiteRepository) ListRecentSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT trace_id, request_data, report, title, usage_data, created_at, duration_ms, status
        FROM sessions
        ORDER BY created_at DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*SessionRecord
	for rows.Next() {
		record, err := scanSession(rows)
		if err != nil {
			slog.Warn("scan session failed", "error", err)
			continue
		}
		sessions = append(sessions, record)
	}
	return sessions, rows.Err()
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Scanner interface to support both Row and Rows
type Scanner interface {
	Scan(dest ...any) error
}

func scanSession(s Scanner) (*SessionRecord, error) {
	var traceID, requestData, report, title, usageData, status string
	var createdAt time.Time
	var durationMs int64

	if err := s.Scan(&traceID, &requestData, &report, &title, &usageData, &createdAt, &durationMs, &status); err != nil {
		return nil, err
	}

	var req domain.ReviewRequest
	if err := json.Unmarshal([]byte(requestData), &req); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}

	var tokens usage.Tokens
	if err := json.Unmarshal([]byte(usageData), &tokens); err != nil {
		return nil, fmt.Errorf("unmarshal usage: %w", err)
	}

	return &SessionRecord{
		TraceID:    traceID,
		Request:    &req,
		Report:     report,
		Title:      title,
		Usage:      tokens,
		CreatedAt:  createdAt,
		DurationMs: durationMs,
		Status:     status,
	}, nil
}
