package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grblctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: /dev/ttyACM0
pollInterval: 250ms
jog:
  feed: 1200
  precise: true
`), 0644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", cfg.Port)
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, JogDefaults{Feed: 1200, Step: 1, Precise: true}, cfg.Jog)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.bindFlags(fs)
	require.NoError(t, fs.Parse([]string{"-port", "/dev/ttyUSB1", "-addr", ":8080"}))
	assert.Equal(t, "/dev/ttyUSB1", cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr)

	cfg, err = loadConfig(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)

	require.NoError(t, os.WriteFile(path, []byte("port: [\n"), 0644))
	_, err = loadConfig(path)
	assert.Error(t, err)
}
