// Configuration: a YAML document with one top-level section per concern
// (gopkg.in/yaml.v3), with an optional environment-variable overlay layered
// on top via spf13/viper.

package tasksched_internal

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	SCHEDULER_CONFIG_SECTION_NAME = "scheduler_config"
	LOGGER_CONFIG_SECTION_NAME    = "log_config"

	SCHEDULER_CONFIG_ENV_PREFIX_DEFAULT = "TASKSCHED"
)

// PoolConfig configures one of the scheduler's four WorkerPools.
type PoolConfig struct {
	InitialMaxTasks      int           `yaml:"initial_max_tasks" mapstructure:"initial_max_tasks"`
	MaxBestEffortTasks   int           `yaml:"max_best_effort_tasks" mapstructure:"max_best_effort_tasks"`
	SuggestedReclaimTime time.Duration `yaml:"suggested_reclaim_time" mapstructure:"suggested_reclaim_time"`
	MayBlockThreshold    time.Duration `yaml:"may_block_threshold" mapstructure:"may_block_threshold"`
}

func (c PoolConfig) toWorkerPoolConfig(label string) WorkerPoolConfig {
	return WorkerPoolConfig{
		Label:                label,
		InitialMaxTasks:      c.InitialMaxTasks,
		MaxBestEffortTasks:   c.MaxBestEffortTasks,
		SuggestedReclaimTime: c.SuggestedReclaimTime,
		MayBlockThreshold:    c.MayBlockThreshold,
	}
}

func defaultPoolConfig(label string) PoolConfig {
	d := DefaultWorkerPoolConfig(label)
	return PoolConfig{
		InitialMaxTasks:      d.InitialMaxTasks,
		MaxBestEffortTasks:   d.MaxBestEffortTasks,
		SuggestedReclaimTime: d.SuggestedReclaimTime,
		MayBlockThreshold:    d.MayBlockThreshold,
	}
}

// SchedulerConfig is the scheduler_config YAML section: one PoolConfig per
// environment plus the process-wide overrides spec §5 lists (redirect-all-
// to-user-blocking, env var prefix for the viper overlay).
type SchedulerConfig struct {
	Foreground         PoolConfig `yaml:"foreground" mapstructure:"foreground"`
	ForegroundBlocking PoolConfig `yaml:"foreground_blocking" mapstructure:"foreground_blocking"`
	BestEffort         PoolConfig `yaml:"best_effort" mapstructure:"best_effort"`
	BestEffortBlocking PoolConfig `yaml:"best_effort_blocking" mapstructure:"best_effort_blocking"`

	// AllTasksUserBlocking redirects every posted task's effective priority
	// to USER_BLOCKING: an escape hatch for diagnosing priority-inversion
	// bugs by disabling priority scheduling altogether (spec §4.8).
	AllTasksUserBlocking bool `yaml:"all_tasks_user_blocking" mapstructure:"all_tasks_user_blocking"`

	// EnvVarPrefix names the viper environment overlay applied by
	// LoadConfig, e.g. TASKSCHED_FOREGROUND_INITIAL_MAX_TASKS.
	EnvVarPrefix string `yaml:"env_var_prefix" mapstructure:"-"`

	// Heartbeat configures the periodic self-probe tasks used to sample
	// HeartbeatLatency (spec §9 Open Question: "exact interval is not
	// specified... implementers should choose a value and make it
	// configurable").
	Heartbeat HeartbeatConfig `yaml:"heartbeat" mapstructure:"heartbeat"`
}

// HeartbeatConfig controls the service thread's periodic self-probe.
type HeartbeatConfig struct {
	// Interval between heartbeat rounds; zero disables heartbeats entirely.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

const HEARTBEAT_INTERVAL_DEFAULT = 10 * time.Second

func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{Interval: HEARTBEAT_INTERVAL_DEFAULT}
}

func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Foreground:           defaultPoolConfig("foreground"),
		ForegroundBlocking:   defaultPoolConfig("foreground_blocking"),
		BestEffort:           defaultPoolConfig("best_effort"),
		BestEffortBlocking:   defaultPoolConfig("best_effort_blocking"),
		AllTasksUserBlocking: false,
		EnvVarPrefix:         SCHEDULER_CONFIG_ENV_PREFIX_DEFAULT,
		Heartbeat:            DefaultHeartbeatConfig(),
	}
}

// TaskSchedConfig is the root YAML document: one named section per concern.
type TaskSchedConfig struct {
	SchedulerConfig *SchedulerConfig `yaml:"scheduler_config"`
	LoggerConfig    *LoggerConfig    `yaml:"log_config"`
}

func DefaultTaskSchedConfig() *TaskSchedConfig {
	return &TaskSchedConfig{
		SchedulerConfig: DefaultSchedulerConfig(),
		LoggerConfig:    DefaultLoggerConfig(),
	}
}

// LoadConfig reads cfgFile (or buf, for testing) as a YAML document with a
// scheduler_config and a log_config section, applies defaults for anything
// missing, then overlays matching TASKSCHED_* environment variables.
func LoadConfig(cfgFile string, buf []byte) (*TaskSchedConfig, error) {
	if buf == nil {
		f, err := os.Open(cfgFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		buf, err = io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("file: %q: %v", cfgFile, err)
		}
	}

	cfg := DefaultTaskSchedConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("file: %q: %v", cfgFile, err)
	}
	if cfg.SchedulerConfig == nil {
		cfg.SchedulerConfig = DefaultSchedulerConfig()
	}
	if cfg.LoggerConfig == nil {
		cfg.LoggerConfig = DefaultLoggerConfig()
	}

	if err := applyEnvOverlay(cfg.SchedulerConfig); err != nil {
		return nil, fmt.Errorf("env overlay: %v", err)
	}
	return cfg, nil
}

// applyEnvOverlay lets environment variables override a loaded
// SchedulerConfig, layering viper.AutomaticEnv() on top of the file-sourced
// struct. Only TASKSCHED_<POOL>_INITIAL_MAX_TASKS,
// TASKSCHED_<POOL>_MAX_BEST_EFFORT_TASKS and TASKSCHED_ALL_TASKS_USER_BLOCKING
// are read; other fields are not overridable from the environment.
func applyEnvOverlay(sc *SchedulerConfig) error {
	prefix := sc.EnvVarPrefix
	if prefix == "" {
		prefix = SCHEDULER_CONFIG_ENV_PREFIX_DEFAULT
	}

	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	sections := map[string]*PoolConfig{
		"foreground":           &sc.Foreground,
		"foreground_blocking":  &sc.ForegroundBlocking,
		"best_effort":          &sc.BestEffort,
		"best_effort_blocking": &sc.BestEffortBlocking,
	}
	for section, pc := range sections {
		if val := v.GetString(section + ".initial_max_tasks"); val != "" {
			if _, err := fmt.Sscanf(val, "%d", &pc.InitialMaxTasks); err != nil {
				return err
			}
		}
		if val := v.GetString(section + ".max_best_effort_tasks"); val != "" {
			if _, err := fmt.Sscanf(val, "%d", &pc.MaxBestEffortTasks); err != nil {
				return err
			}
		}
	}
	if v.IsSet("all_tasks_user_blocking") {
		sc.AllTasksUserBlocking = v.GetBool("all_tasks_user_blocking")
	}
	return nil
}
