package planner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// Job file names inside data/run/<job-id>
const (
	ConfigFile    = "config.json"
	InventoryFile = "inventory.json"
	AnsibleCfg    = "ansible.cfg"
	TmpDir        = "tmp"
)

// JobConfig is config.json, the contract between ADCM and a job runner
type JobConfig struct {
	ADCM    ADCMSection    `json:"adcm"`
	Context map[string]any `json:"context"`
	Env     Env            `json:"env"`
	Job     JobSection     `json:"job"`
}

// ADCMSection carries the global settings
type ADCMSection struct {
	Config map[string]any `json:"config"`
}

// Env carries the directories and token a job works with
type Env struct {
	RunDir         string `json:"run_dir"`
	LogDir         string `json:"log_dir"`
	TmpDir         string `json:"tmp_dir"`
	StackDir       string `json:"stack_dir"`
	StatusAPIToken string `json:"status_api_token"`
}

// JobSection describes the job and its target
type JobSection struct {
	ID         int64            `json:"id"`
	TaskID     int64            `json:"task_id"`
	Action     string           `json:"action"`
	JobName    string           `json:"job_name"`
	Command    string           `json:"command"`
	Script     string           `json:"script"`
	ScriptType types.ScriptType `json:"script_type"`
	Playbook   string           `json:"playbook"`
	Params     map[string]any   `json:"params"`
	Verbose    bool             `json:"verbose,omitempty"`

	ClusterID   int64  `json:"cluster_id,omitempty"`
	ServiceID   int64  `json:"service_id,omitempty"`
	ComponentID int64  `json:"component_id,omitempty"`
	ProviderID  int64  `json:"provider_id,omitempty"`
	HostID      int64  `json:"host_id,omitempty"`
	HostGroup   string `json:"hostgroup"`
	HostName    string `json:"hostname,omitempty"`

	Config map[string]any `json:"config,omitempty"`
}

// Normalize restores integer values after a JSON round trip
func (c *JobConfig) Normalize() {
	c.ADCM.Config = types.NormalizeMap(c.ADCM.Config)
	c.Context = types.NormalizeMap(c.Context)
	c.Job.Params = types.NormalizeMap(c.Job.Params)
	c.Job.Config = types.NormalizeMap(c.Job.Config)
}

// JobFiles are the rendered files of one job
type JobFiles struct {
	Config     *JobConfig
	Inventory  *Inventory
	AnsibleCfg string
}

// Write stores the files into dir, creating dir and its tmp directory
func (f *JobFiles) Write(dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, TmpDir), 0750); err != nil {
		return fmt.Errorf("failed to create job dir: %w", err)
	}
	for name, v := range map[string]any{ConfigFile: f.Config, InventoryFile: f.Inventory} {
		data, err := json.MarshalIndent(v, "", "    ")
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, AnsibleCfg), []byte(f.AnsibleCfg), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", AnsibleCfg, err)
	}
	return nil
}

// ReadJobConfig loads config.json of a job directory
func ReadJobConfig(dir string) (*JobConfig, error) {
	data, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read job config: %w", err)
	}
	var conf JobConfig
	if err := types.Decode(data, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse job config: %w", err)
	}
	return &conf, nil
}

// Render builds the files of job from the current state of the store
func (p *Planner) Render(tx *storage.Tx, task *types.TaskLog, job *types.JobLog) (*JobFiles, error) {
	obj, err := storage.GetObject(tx, task.Object)
	if err != nil {
		return nil, err
	}
	action, err := storage.Actions.Get(tx, task.ActionID)
	if err != nil {
		return nil, err
	}
	proto, err := storage.PrototypeOf(tx, obj)
	if err != nil {
		return nil, err
	}
	bundle, err := storage.Bundles.Get(tx, proto.BundleID)
	if err != nil {
		return nil, err
	}

	command, script, scriptType, params := action.Name, action.Script, action.ScriptType, action.Params
	if job.SubActionID != 0 {
		sub, err := storage.SubActions.Get(tx, job.SubActionID)
		if err != nil {
			return nil, err
		}
		command, script, scriptType, params = sub.Name, sub.Script, sub.ScriptType, sub.Params
	}
	if params == nil {
		params = map[string]any{}
	}

	adcm, err := p.adcmConfig(tx)
	if err != nil {
		return nil, err
	}
	actionCfg, err := p.actionConfig(tx, task)
	if err != nil {
		return nil, err
	}
	stackDir := p.StackDir(proto, bundle)
	conf := &JobConfig{
		ADCM:    ADCMSection{Config: adcm},
		Context: Context(task),
		Env: Env{
			RunDir:         p.opts.Layout.RunDir(),
			LogDir:         p.opts.Layout.LogDir(),
			TmpDir:         filepath.Join(p.opts.Layout.JobDir(job.ID), TmpDir),
			StackDir:       stackDir,
			StatusAPIToken: p.opts.StatusToken,
		},
		Job: JobSection{
			ID:         job.ID,
			TaskID:     task.ID,
			Action:     action.Name,
			JobName:    job.Name,
			Command:    command,
			Script:     script,
			ScriptType: scriptType,
			Playbook:   Playbook(stackDir, proto, script),
			Params:     params,
			Verbose:    task.Verbose,
			Config:     actionCfg,
		},
	}
	if err := setTarget(tx, &conf.Job, obj); err != nil {
		return nil, err
	}

	inv, err := p.inventory(tx, task, obj)
	if err != nil {
		return nil, err
	}
	return &JobFiles{Config: conf, Inventory: inv, AnsibleCfg: p.ansibleCfg()}, nil
}

// Context lists the target type and the ids of the target and its parents
func Context(task *types.TaskLog) map[string]any {
	ctx := map[string]any{"type": string(task.Object.Type)}
	for kind, id := range task.Selector {
		if kind == types.ObjectADCM {
			continue
		}
		ctx[string(kind)+"_id"] = id
	}
	return ctx
}

func setTarget(tx *storage.Tx, job *JobSection, obj *types.Object) error {
	switch obj.Type {
	case types.ObjectCluster:
		job.ClusterID = obj.ID
		job.HostGroup = GroupCluster
	case types.ObjectService:
		job.ClusterID, job.ServiceID = obj.ClusterID, obj.ID
		job.HostGroup = obj.Name
	case types.ObjectComponent:
		job.ClusterID, job.ServiceID, job.ComponentID = obj.ClusterID, obj.ServiceID, obj.ID
		svc, err := storage.GetTyped(tx, types.ObjectService, obj.ServiceID)
		if err != nil {
			return err
		}
		job.HostGroup = ComponentGroup(svc.Name, obj.Name)
	case types.ObjectProvider:
		job.ProviderID = obj.ID
		job.HostGroup = GroupProvider
	case types.ObjectHost:
		job.HostID, job.ProviderID = obj.ID, obj.ProviderID
		job.HostGroup = GroupHost
		job.HostName = obj.FQDN()
	case types.ObjectADCM:
		job.HostGroup = GroupLocal
	}
	return nil
}

// StackDir returns the directory scripts of proto are resolved in. The
// adcm prototype keeps its playbooks in the built-in conf directory.
func (p *Planner) StackDir(proto *types.Prototype, bundle *types.Bundle) string {
	if proto.Type == types.ObjectADCM {
		return p.opts.Layout.ConfDir()
	}
	return p.opts.Layout.StackDir(bundle.Hash)
}

// Playbook resolves a script path. "./x" is relative to the directory the
// prototype was declared in, anything else to the bundle root.
func Playbook(stackDir string, proto *types.Prototype, script string) string {
	if rel, ok := strings.CutPrefix(script, "./"); ok {
		return filepath.Join(stackDir, proto.Path, rel)
	}
	return filepath.Join(stackDir, script)
}

func (p *Planner) ansibleCfg() string {
	var b strings.Builder
	b.WriteString("[defaults]\n")
	b.WriteString("deprecation_warnings=False\n")
	b.WriteString("callback_whitelist=profile_tasks\n")
	b.WriteString("stdout_callback=yaml\n")
	fmt.Fprintf(&b, "forks=%d\n", p.opts.Forks)
	b.WriteString("\n[ssh_connection]\n")
	b.WriteString("pipelining=True\n")
	b.WriteString("retries=3\n")
	return b.String()
}
