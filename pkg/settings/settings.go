// Package settings loads the daemon configuration.
//
// Values come, in increasing priority, from struct defaults, an optional
// YAML file, ADCM_* environment variables and explicit overrides (command
// line flags). The result is validated before use.
//
//	┌─────────────────────────┬──────────────────────────────┬─────────────────────────────┐
//	│ Key                     │ Default                      │ Description                 │
//	├─────────────────────────┼──────────────────────────────┼─────────────────────────────┤
//	│ base_dir                │ /adcm                        │ root of data/ and conf/     │
//	│ adcm_version            │ 2.0.0                        │ checked against bundles     │
//	│ reconcile_interval      │ 30s                          │ stale task sweep period     │
//	│ log.level               │ info                         │ debug, info, warn, error    │
//	│ log.json                │ false                        │ JSON instead of console     │
//	│ status.url              │ http://localhost:8020/api/v1 │ status server base          │
//	│ status.timeout          │ 10ms                         │ per request                 │
//	│ status.max_retries      │ 3                            │ before an event is dropped  │
//	│ status.token            │ from secrets.json            │ Authorization token         │
//	│ runner.command          │ <self> job-runner            │ job runner argv prefix      │
//	│ runner.ansible_playbook │ ansible-playbook             │ playbook binary             │
//	│ runner.python           │ python3                      │ interpreter for python jobs │
//	│ runner.forks            │ 5                            │ ansible.cfg forks           │
//	│ runner.cancel_wait      │ 5s                           │ wait for a running job      │
//	│ runner.grace_period     │ 10s                          │ SIGTERM to SIGKILL          │
//	│ metrics.addr            │ :9100                        │ empty disables /metrics     │
//	└─────────────────────────┴──────────────────────────────┴─────────────────────────────┘
package settings

import (
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the daemon configuration
type Config struct {
	BaseDir           string        `mapstructure:"base_dir" default:"/adcm" validate:"required"`
	ADCMVersion       string        `mapstructure:"adcm_version" default:"2.0.0" validate:"required"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" default:"30s" validate:"gt=0"`

	Log     LogConfig     `mapstructure:"log"`
	Status  StatusConfig  `mapstructure:"status"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig selects log verbosity and format
type LogConfig struct {
	Level string `mapstructure:"level" default:"info" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// StatusConfig points at the status server events are pushed to
type StatusConfig struct {
	URL        string        `mapstructure:"url" default:"http://localhost:8020/api/v1" validate:"omitempty,url"`
	Timeout    time.Duration `mapstructure:"timeout" default:"10ms" validate:"gt=0"`
	MaxRetries int           `mapstructure:"max_retries" default:"3" validate:"gte=0,lte=20"`
	Token      string        `mapstructure:"token"`
}

// RunnerConfig controls how jobs are launched
type RunnerConfig struct {
	Command         []string      `mapstructure:"command"`
	AnsiblePlaybook string        `mapstructure:"ansible_playbook" default:"ansible-playbook" validate:"required"`
	Python          string        `mapstructure:"python" default:"python3" validate:"required"`
	Forks           int           `mapstructure:"forks" default:"5" validate:"gte=1"`
	CancelWait      time.Duration `mapstructure:"cancel_wait" default:"5s" validate:"gte=0"`
	GracePeriod     time.Duration `mapstructure:"grace_period" default:"10s" validate:"gt=0"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Addr string `mapstructure:"addr" default:":9100"`
}

var keys = []string{
	"base_dir", "adcm_version", "reconcile_interval",
	"log.level", "log.json",
	"status.url", "status.timeout", "status.max_retries", "status.token",
	"runner.command", "runner.ansible_playbook", "runner.python", "runner.forks",
	"runner.cancel_wait", "runner.grace_period",
	"metrics.addr",
}

var validate = validator.New()

// Default returns a configuration holding only defaults
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("settings defaults: %v", err))
	}
	return cfg
}

// Load reads the configuration. file may be empty; overrides are applied
// last and use the dotted keys of the table above.
func Load(file string, overrides map[string]any) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("ADCM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", k, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", file, err)
		}
	}
	for k, val := range overrides {
		v.Set(k, val)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Layout returns the on-disk layout rooted at BaseDir
func (c *Config) Layout() Layout {
	return Layout{Base: c.BaseDir}
}
