package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql []string
	err error
}

func (r *recordingExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.sql = append(r.sql, sql)
	return pgconn.CommandTag{}, r.err
}

func TestEnsureSchemaAppliesAllTables(t *testing.T) {
	db := &recordingExecer{}
	require.NoError(t, ensureSchema(context.Background(), db))
	require.Len(t, db.sql, 1, "schema is one batched exec")

	applied := db.sql[0]
	for _, table := range []string{"launches", "liquidity_positions", "risk_alerts", "activity_log", "jobs"} {
		assert.Contains(t, applied, "CREATE TABLE IF NOT EXISTS "+table, "table %s missing", table)
	}
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	// Every DDL statement must survive a second start against the same
	// database, so nothing may create unconditionally.
	for _, line := range strings.Split(schema, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "CREATE ") {
			assert.Contains(t, trimmed, "IF NOT EXISTS", "statement %q is not idempotent", trimmed)
		}
	}
}

func TestEnsureSchemaWrapsExecError(t *testing.T) {
	cause := errors.New("permission denied")
	db := &recordingExecer{err: cause}
	err := ensureSchema(context.Background(), db)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ensure schema")
}
