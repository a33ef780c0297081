package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, "cambist.yaml", `
log_level: debug
data_file: rates.csv
base_numeraire: EUR
scenario_file: scenario.yaml
store:
  driver: sqlite
  dsn: test.db
checkpoint_dir: /tmp/checkpoints
metrics_addr: ":9100"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "rates.csv", cfg.DataFile)
	assert.Equal(t, "EUR", cfg.BaseNumeraire)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "test.db", cfg.Store.DSN)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeFile(t, "cambist.yaml", `
data_file: rates.csv
base_numeraire: EUR
scenario_file: scenario.yaml
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "cambist.db", cfg.Store.DSN)
}

func TestLoadConfigValidation(t *testing.T) {
	// Missing the required data file.
	path := writeFile(t, "cambist.yaml", `
base_numeraire: EUR
scenario_file: scenario.yaml
`)
	_, err := Load(path)
	assert.Error(t, err)

	// Unknown store driver.
	path = writeFile(t, "cambist.yaml", `
data_file: rates.csv
base_numeraire: EUR
scenario_file: scenario.yaml
store:
  driver: oracle
  dsn: x
`)
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
