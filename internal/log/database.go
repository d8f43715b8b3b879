package log

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const createLogsTableSQL = `
CREATE TABLE IF NOT EXISTS logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    level TEXT NOT NULL,
    message TEXT NOT NULL,
    principal_id TEXT,
    conn_id TEXT,
    extra TEXT
);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);
`

// DBHandler writes logs to a SQLite database, with periodic cleanup of
// entries older than the retention window.
type DBHandler struct {
	mu        sync.Mutex
	db        *sql.DB
	stmt      *sql.Stmt
	retention int
	level     slog.Level
	ticker    *time.Ticker
	done      chan struct{}
}

// NewDBHandler creates a database handler.
func NewDBHandler(cfg *Config, level slog.Level) (*DBHandler, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open log database: %w", err)
	}

	if _, err := db.Exec(createLogsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create logs table: %w", err)
	}

	stmt, err := db.Prepare(`
		INSERT INTO logs (timestamp, level, message, principal_id, conn_id, extra)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare log insert: %w", err)
	}

	h := &DBHandler{
		db:        db,
		stmt:      stmt,
		retention: cfg.RetentionDays,
		level:     level,
		done:      make(chan struct{}),
	}

	if h.retention > 0 {
		h.ticker = time.NewTicker(time.Hour)
		go h.cleanupLoop()
	}
	return h, nil
}

// Enabled implements slog.Handler.
func (h *DBHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle implements slog.Handler.
func (h *DBHandler) Handle(_ context.Context, r slog.Record) error {
	var principalID, connID string
	extra := make(map[string]any)

	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "principal_id":
			principalID = a.Value.String()
		case "conn_id":
			connID = a.Value.String()
		default:
			extra[a.Key] = a.Value.Any()
		}
		return true
	})

	var extraJSON any
	if len(extra) > 0 {
		if data, err := json.Marshal(extra); err == nil {
			extraJSON = string(data)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.stmt.Exec(
		r.Time.UTC().Format(time.RFC3339Nano),
		r.Level.String(),
		r.Message,
		nullable(principalID),
		nullable(connID),
		extraJSON,
	)
	return err
}

// WithAttrs implements slog.Handler. Attributes are folded per-record.
func (h *DBHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

// WithGroup implements slog.Handler. Groups are not persisted.
func (h *DBHandler) WithGroup(_ string) slog.Handler { return h }

func (h *DBHandler) cleanupLoop() {
	for {
		select {
		case <-h.ticker.C:
			cutoff := time.Now().AddDate(0, 0, -h.retention).UTC().Format(time.RFC3339Nano)
			h.mu.Lock()
			h.db.Exec(`DELETE FROM logs WHERE timestamp < ?`, cutoff)
			h.mu.Unlock()
		case <-h.done:
			return
		}
	}
}

// Close stops the cleanup loop and closes the database.
func (h *DBHandler) Close() error {
	if h.ticker != nil {
		h.ticker.Stop()
		close(h.done)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stmt.Close()
	return h.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
