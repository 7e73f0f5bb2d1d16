package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
feed:
  key_id: "PKTEST"
  secret_key: "secret"
universes:
  bigtech: [aapl, msft, AAPL, " nvda "]
  empty: []
server:
  port: 8080
output:
  dir: out
  database: out/test.db
scan:
  universe: BigTech
  interval: 60
  gap_pct: 4.5
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "PKTEST", cfg.FeedKeyID)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "out", cfg.OutputDir)
	assert.Equal(t, "bigtech", cfg.ScanUniverse)
	assert.Equal(t, 60*time.Second, cfg.ScanInterval)
	assert.Equal(t, 4.5, cfg.ScanGapPct)

	// deduped, uppercased, sorted; empty universe dropped
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, cfg.Universe("bigtech"))
	assert.Nil(t, cfg.Universe("empty"))
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadFromFileBadYAML(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, "feed: [not a map"))
	require.Error(t, err)
}

func TestGetConfigDefaultsWithoutFile(t *testing.T) {
	cfg := GetConfig("")
	assert.Equal(t, DefaultConfig.Port, cfg.Port)
	assert.NotEmpty(t, cfg.Universe("bigtech"))
}

func TestGetConfigEnvFallback(t *testing.T) {
	t.Setenv("APCA_API_KEY_ID", "ENVKEY")
	t.Setenv("APCA_API_SECRET_KEY", "ENVSECRET")

	cfg := GetConfig("")
	assert.Equal(t, "ENVKEY", cfg.FeedKeyID)
	assert.Equal(t, "ENVSECRET", cfg.FeedSecretKey)

	// file wins over the environment
	cfg = GetConfig(writeConfig(t, sampleYAML))
	assert.Equal(t, "PKTEST", cfg.FeedKeyID)
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BRK.B", normalizeSymbol(" brk.b "))
	assert.Equal(t, "", normalizeSymbol("123bad"))
	assert.Equal(t, "", normalizeSymbol(""))
}

func TestWatcherReload(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	w, err := Watch(path, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, 8080, w.Snapshot().Port)

	changed := make(chan *Config, 4)
	w.Subscribe(func(c *Config) { changed <- c })
	<-changed // initial snapshot

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, 9090, cfg.Port)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload notification")
	}
	assert.Equal(t, 9090, w.Snapshot().Port)
}

func TestWatcherKeepsPreviousOnBadReload(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	w, err := Watch(path, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("feed: [broken"), 0o644))
	time.Sleep(3 * reloadDebounce)
	assert.Equal(t, 8080, w.Snapshot().Port)
}
