package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/mall-checkout/internal/port"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"STORAGE", "STOCK_BACKEND", "SESSION_BACKEND", "MYSQL_DSN", "STATIC_TOKENS", "SHUTDOWN_TIMEOUT", "OTEL_SAMPLE_RATIO"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, StockFromStore, cfg.StockBackend)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.NeedsRedis())
	assert.Contains(t, cfg.MySQLDSN, "parseTime=true")
	assert.Equal(t, port.RoleAdmin, cfg.StaticTokens["admin-token"].Role)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE", "Postgres")
	t.Setenv("STOCK_BACKEND", "redis")
	t.Setenv("DB_MAX_OPEN_CONNS", "7")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("SEED_DEMO_DATA", "false")
	t.Setenv("OTEL_SAMPLE_RATIO", "0.25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.True(t, cfg.NeedsRedis())
	assert.Equal(t, 7, cfg.MaxOpenConns)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.SeedDemoData)
	assert.InDelta(t, 0.25, cfg.OTelSampleRatio, 1e-9)
}

func TestLoad_Rejects(t *testing.T) {
	tests := map[string]string{
		"STORAGE":           "mongo",
		"STOCK_BACKEND":     "etcd",
		"SESSION_BACKEND":   "ldap",
		"DB_MAX_OPEN_CONNS": "many",
		"SHUTDOWN_TIMEOUT":  "soon",
		"OTEL_SAMPLE_RATIO": "2",
		"STATIC_TOKENS":     "tok=alice:ROOT",
		"MYSQL_DSN":         "not a dsn",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestNormalizeMySQLDSN(t *testing.T) {
	dsn, err := normalizeMySQLDSN("app:secret@tcp(db:3306)/mall")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "clientFoundRows=true")
	assert.Contains(t, dsn, "tcp(db:3306)/mall")
}

func TestParseTokens(t *testing.T) {
	tokens, err := parseTokens("a=alice, b=bob:admin,,")
	require.NoError(t, err)
	assert.Equal(t, port.Principal{UserID: "alice", Role: port.RoleCustomer}, tokens["a"])
	assert.Equal(t, port.Principal{UserID: "bob", Role: port.RoleAdmin}, tokens["b"])

	_, err = parseTokens("missing-user=")
	assert.Error(t, err)
}
