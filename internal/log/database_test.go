// internal/log/database_test.go
package log

import (
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestDBHandlerWrite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test-log.db")
	cfg := &Config{DBPath: dbPath, RetentionDays: 7}

	h, err := NewDBHandler(cfg, slog.LevelInfo)
	require.NoError(t, err)
	defer h.Close()

	logger := slog.New(h)
	logger.Info("connection opened", "principal_id", "u1", "conn_id", "c1", "extra_key", "v")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM logs").Scan(&count))
	assert.Equal(t, 1, count)

	var msg, level, principalID, connID string
	err = db.QueryRow("SELECT message, level, principal_id, conn_id FROM logs").
		Scan(&msg, &level, &principalID, &connID)
	require.NoError(t, err)
	assert.Equal(t, "connection opened", msg)
	assert.Equal(t, "INFO", level)
	assert.Equal(t, "u1", principalID)
	assert.Equal(t, "c1", connID)
}

func TestDBHandlerLevelFilter(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test-log.db")
	h, err := NewDBHandler(&Config{DBPath: dbPath}, slog.LevelWarn)
	require.NoError(t, err)
	defer h.Close()

	logger := slog.New(h)
	logger.Info("filtered out")
	logger.Warn("kept")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM logs").Scan(&count))
	assert.Equal(t, 1, count, "only the warn entry should be stored")
}
