package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/adcm/pkg/planner"
	"github.com/cuemby/adcm/pkg/settings"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand(t *testing.T) {
	layout := settings.Layout{Base: "/srv/adcm"}
	opts := JobOptions{Layout: layout, AnsiblePlaybook: "ansible-playbook", Python: "python3"}

	conf := &planner.JobConfig{Job: planner.JobSection{
		ID:         12,
		ScriptType: types.ScriptAnsible,
		Playbook:   "/srv/adcm/data/bundle/abc/install.yaml",
		Params:     map[string]any{"ansible_tags": "setup"},
		Verbose:    true,
	}}
	assert.Equal(t, []string{
		"ansible-playbook",
		"--vault-password-file", "/srv/adcm/data/var/vault.secret",
		"-e", "@/srv/adcm/data/run/12/config.json",
		"-i", "/srv/adcm/data/run/12/inventory.json",
		"/srv/adcm/data/bundle/abc/install.yaml",
		"--tags=setup",
		"-vvvv",
	}, Command(opts, conf))

	conf.Job.Params, conf.Job.Verbose = nil, false
	assert.Len(t, Command(opts, conf), 8)

	conf.Job.ScriptType = types.ScriptPython
	conf.Job.Playbook = "/srv/adcm/data/bundle/abc/check.py"
	assert.Equal(t, []string{"python3", "/srv/adcm/data/bundle/abc/check.py"}, Command(opts, conf))
}

func TestEnviron(t *testing.T) {
	t.Setenv("PYTHONPATH", "/opt/lib")
	opts := JobOptions{Layout: settings.Layout{Base: "/srv/adcm"}}
	conf := &planner.JobConfig{
		Env: planner.Env{StackDir: "/srv/adcm/data/bundle/abc"},
		Job: planner.JobSection{ID: 3},
	}
	env := Environ(opts, conf)
	assert.Contains(t, env, "PYTHONPATH=./pmod:/srv/adcm/data/bundle/abc/pmod:/opt/lib")
	assert.Contains(t, env, "ANSIBLE_CONFIG=/srv/adcm/data/run/3/ansible.cfg")
}

// jobEnv writes the rendered files of job 7 with a fake ansible-playbook
// that prints its arguments, a file of the stack directory and PYTHONPATH
func jobEnv(t *testing.T, scriptType types.ScriptType, playbook string) JobOptions {
	t.Helper()
	layout := settings.Layout{Base: t.TempDir()}
	stack := layout.StackDir("abc")
	require.NoError(t, os.MkdirAll(stack, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(stack, "marker"), []byte("from-stack\n"), 0600))

	fake := filepath.Join(t.TempDir(), "ansible-playbook")
	script := "#!/bin/sh\necho \"$@\"\ncat marker\necho \"$PYTHONPATH\"\necho failing >&2\nexit 4\n"
	require.NoError(t, os.WriteFile(fake, []byte(script), 0755))

	files := planner.JobFiles{
		Config: &planner.JobConfig{
			Env: planner.Env{StackDir: stack},
			Job: planner.JobSection{ID: 7, ScriptType: scriptType, Playbook: playbook},
		},
		Inventory: &planner.Inventory{},
	}
	require.NoError(t, files.Write(layout.JobDir(7)))
	return JobOptions{Layout: layout, AnsiblePlaybook: fake, Python: "/bin/sh", GracePeriod: time.Second}
}

func TestRunJobAnsible(t *testing.T) {
	opts := jobEnv(t, types.ScriptAnsible, "install.yaml")

	code, err := RunJob(context.Background(), opts, 7)
	require.NoError(t, err)
	assert.Equal(t, 4, code)

	out, err := os.ReadFile(opts.Layout.JobLogFile(7, "ansible", "stdout"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "-i "+filepath.Join(opts.Layout.JobDir(7), "inventory.json"))
	assert.True(t, strings.HasSuffix(lines[0], "install.yaml"))
	assert.Equal(t, "from-stack", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "./pmod:"+opts.Layout.StackDir("abc")+"/pmod"))

	errOut, err := os.ReadFile(opts.Layout.JobLogFile(7, "ansible", "stderr"))
	require.NoError(t, err)
	assert.Equal(t, "failing\n", string(errOut))
}

func TestRunJobPython(t *testing.T) {
	opts := jobEnv(t, types.ScriptPython, "check.py")
	stack := opts.Layout.StackDir("abc")
	require.NoError(t, os.WriteFile(filepath.Join(stack, "check.py"), []byte("echo python-ok\n"), 0600))

	code, err := RunJob(context.Background(), opts, 7)
	require.NoError(t, err)
	assert.Zero(t, code)

	out, err := os.ReadFile(opts.Layout.JobLogFile(7, "python", "stdout"))
	require.NoError(t, err)
	assert.Equal(t, "python-ok\n", string(out))
}

func TestRunJobCancel(t *testing.T) {
	opts := jobEnv(t, types.ScriptPython, "sleep.py")
	stack := opts.Layout.StackDir("abc")
	require.NoError(t, os.WriteFile(filepath.Join(stack, "sleep.py"), []byte("exec sleep 30\n"), 0600))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	code, err := RunJob(ctx, opts, 7)
	require.NoError(t, err)
	assert.Equal(t, -1, code)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunJobMissingConfig(t *testing.T) {
	opts := JobOptions{Layout: settings.Layout{Base: t.TempDir()}}
	code, err := RunJob(context.Background(), opts, 99)
	assert.Error(t, err)
	assert.Equal(t, -1, code)
}
