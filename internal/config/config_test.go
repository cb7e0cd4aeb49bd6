package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	for _, k := range []string{"SERVER_PORT", "STORAGE_BACKEND", "DATABASE_URL", "INHIBIT_WINDOW", "INHIBIT_AGGREGATION", "QUERY_TIMEOUT_MS", "API_KEYS", "DECAY_INTERVAL"} {
		t.Setenv(k, "")
	}

	assert.Equal(t, ":8080", ServerAddr())
	assert.Equal(t, "badger", StorageBackend())
	assert.Equal(t, 3, InhibitWindow())
	assert.Equal(t, "max", InhibitAggregation())
	assert.Equal(t, 250*time.Millisecond, QueryTimeout())
	assert.Empty(t, APIKeys())
	assert.Equal(t, time.Hour, DecayInterval())
	assert.InDelta(t, 0.7, InhibitAbortThreshold(), 1e-9)
}

func TestOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/integrity")
	t.Setenv("INHIBIT_AGGREGATION", "EWMA")
	t.Setenv("INHIBIT_ABORT_THRESHOLD", "0.8")
	t.Setenv("API_KEYS", " a , ,b ")
	t.Setenv("DECAY_INTERVAL", "15m")
	t.Setenv("RATE_LIMIT_BURST", "-3")

	assert.Equal(t, 9090, ServerPort())
	assert.Equal(t, "postgres", StorageBackend())
	assert.Equal(t, "ewma", InhibitAggregation())
	assert.InDelta(t, 0.8, InhibitAbortThreshold(), 1e-9)
	assert.Equal(t, []string{"a", "b"}, APIKeys())
	assert.Equal(t, 15*time.Minute, DecayInterval())
	assert.Equal(t, 20, RateLimitBurst())
}

func TestLoadReadsEnvAndSecret(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(env, []byte("INTEGRITY_TEST_PLAIN=one\n"), 0o600))
	require.NoError(t, os.WriteFile(env+".secret", []byte("INTEGRITY_TEST_SECRET=two\n"), 0o600))

	t.Setenv("INTEGRITY_ENV", env)
	t.Setenv("INTEGRITY_TEST_PLAIN", "")
	t.Setenv("INTEGRITY_TEST_SECRET", "")
	os.Unsetenv("INTEGRITY_TEST_PLAIN")
	os.Unsetenv("INTEGRITY_TEST_SECRET")

	require.NoError(t, Load())
	assert.Equal(t, "one", os.Getenv("INTEGRITY_TEST_PLAIN"))
	assert.Equal(t, "two", os.Getenv("INTEGRITY_TEST_SECRET"))
}
