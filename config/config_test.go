package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsWhenFileMissing(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Equal(t, 12*time.Second, cfg.StartTimeout())
	assert.Equal(t, 5*time.Second, cfg.DedupWindow())
	assert.Equal(t, 30, cfg.WhatsApp.HistoryChatLimit)
	assert.Equal(t, 50, cfg.WhatsApp.HistoryMessageLimit)
	assert.Equal(t, filepath.Join(cfg.System.Workdir, "sessions"), cfg.SessionBaseDir())
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfile := filepath.Join(dir, "scrm.yml")
	content := `
web:
  host: 127.0.0.1
  port: 8088
whatsapp:
  session_dir: /data/wa
  start_timeout_sec: 3
  dedup_window_sec: 7
`
	require.NoError(t, os.WriteFile(cfile, []byte(content), 0o644))

	cfg := LoadConfig(cfile)
	assert.Equal(t, "127.0.0.1", cfg.Web.Host)
	assert.Equal(t, 8088, cfg.Web.Port)
	assert.Equal(t, "/data/wa", cfg.SessionBaseDir())
	assert.Equal(t, 3*time.Second, cfg.StartTimeout())
	assert.Equal(t, 7*time.Second, cfg.DedupWindow())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SCRM_WEB_PORT", "9000")
	t.Setenv("SCRM_WA_START_TIMEOUT", "2")

	cfg := LoadConfig("")
	assert.Equal(t, 9000, cfg.Web.Port)
	assert.Equal(t, 2*time.Second, cfg.StartTimeout())
}

func TestLoadConfigRejectsNonPositiveTunables(t *testing.T) {
	dir := t.TempDir()
	cfile := filepath.Join(dir, "scrm.yml")
	require.NoError(t, os.WriteFile(cfile, []byte("whatsapp:\n  start_timeout_sec: -1\n"), 0o644))

	cfg := LoadConfig(cfile)
	assert.Equal(t, 12*time.Second, cfg.StartTimeout())
}
