package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/setrebal?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "setrebal", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/x?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "x", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestListQuery(t *testing.T) {
	since := time.Unix(100, 0)
	until := time.Unix(200, 0)

	q, args := listQuery("SELECT * FROM t WHERE 1=1", nil, domain.ListOpts{})
	assert.Equal(t, "SELECT * FROM t WHERE 1=1 ORDER BY created_at DESC", q)
	assert.Empty(t, args)

	q, args = listQuery("SELECT * FROM t WHERE a = $1", []any{"x"},
		domain.ListOpts{Since: &since, Until: &until, Limit: 10, Offset: 20})
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND created_at >= $2 AND created_at <= $3"+
		" ORDER BY created_at DESC LIMIT $4 OFFSET $5", q)
	require.Len(t, args, 5)
	assert.Equal(t, []any{"x", since, until, 10, 20}, args)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"001_submissions.sql", "002_audit_log.sql"}, names)
}
