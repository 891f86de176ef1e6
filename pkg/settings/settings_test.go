package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "/adcm", cfg.BaseDir)
	assert.Equal(t, 10*time.Millisecond, cfg.Status.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Runner.CancelWait)
	assert.Equal(t, "ansible-playbook", cfg.Runner.AnsiblePlaybook)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Runner.Command)
}

func TestLoadFileEnvAndOverrides(t *testing.T) {
	file := filepath.Join(t.TempDir(), "adcm.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
base_dir: /srv/adcm
log:
  level: debug
status:
  timeout: 50ms
runner:
  forks: 10
`), 0600))

	t.Setenv("ADCM_RUNNER_PYTHON", "/usr/bin/python3.11")

	cfg, err := Load(file, map[string]any{"log.json": true})
	require.NoError(t, err)

	assert.Equal(t, "/srv/adcm", cfg.BaseDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 50*time.Millisecond, cfg.Status.Timeout)
	assert.Equal(t, 10, cfg.Runner.Forks)
	assert.Equal(t, "/usr/bin/python3.11", cfg.Runner.Python)
	assert.Equal(t, 3, cfg.Status.MaxRetries)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{name: "bad level", overrides: map[string]any{"log.level": "loud"}},
		{name: "zero forks", overrides: map[string]any{"runner.forks": 0}},
		{name: "bad url", overrides: map[string]any{"status.url": "not a url"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("", tt.overrides)
			assert.Error(t, err)
		})
	}
}

func TestLayout(t *testing.T) {
	l := Layout{Base: t.TempDir()}
	require.NoError(t, l.Ensure())

	assert.Equal(t, filepath.Join(l.Base, "data", "run", "12"), l.JobDir(12))
	assert.Equal(t, filepath.Join(l.Base, "data", "log", "12-ansible-stdout.txt"), l.JobLogFile(12, "ansible", "stdout"))
	assert.Equal(t, filepath.Join(l.Base, "data", "var", "secrets.json"), l.SecretsFile())
	assert.DirExists(t, l.FileDir())
	assert.DirExists(t, l.VarDir())
}
