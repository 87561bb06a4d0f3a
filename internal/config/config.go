// Package config merges command-line flags, RUNONCE_* environment variables
// and an optional TOML file into a validated run configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/loykin/runonce/internal/env"
	"github.com/loykin/runonce/internal/logger"
	"github.com/loykin/runonce/internal/task"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "RUNONCE"

	DefaultLogDir      = "/var/log/runonce"
	DefaultTmpDir      = "/tmp"
	DefaultKillGrace   = 5 * time.Second
	DefaultSettleDelay = time.Second
	DefaultProcTable   = "native"
)

var (
	// ErrConfig marks invocations that must print usage and exit 1.
	ErrConfig = errors.New("invalid configuration")
	// ErrPermission is returned when the log or temp directory cannot be used.
	ErrPermission = errors.New("directory not writable")
)

// Config is the merged view of every configuration source. Field tags double
// as TOML keys.
type Config struct {
	Cmd     string `mapstructure:"cmd"`
	Name    string `mapstructure:"name"`
	Active  bool   `mapstructure:"active"`
	Timeout int    `mapstructure:"timeout"` // seconds
	LogDir  string `mapstructure:"log_dir"`
	TmpDir  string `mapstructure:"tmp_dir"`
	WorkDir string `mapstructure:"work_dir"`
	Debug   bool   `mapstructure:"debug"`

	History         string        `mapstructure:"history"`
	MetricsTextfile string        `mapstructure:"metrics_textfile"`
	ProcTable       string        `mapstructure:"proctable"`
	KillGrace       time.Duration `mapstructure:"kill_grace"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`

	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
	UseOSEnv bool     `mapstructure:"use_os_env"`

	Log logger.Config `mapstructure:"log"`

	// TimeoutSet records whether any source supplied a timeout explicitly.
	TimeoutSet bool `mapstructure:"-"`
}

// AddFlags registers the command-line flags understood by Load.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "optional TOML configuration file")
	fs.String("cmd", "", "command to run (required)")
	fs.String("name", "", "task name used for the lock and log file (required)")
	fs.Bool("active", false, "stay in the foreground, supervise the command and clear the lock on exit")
	fs.Int("timeout", 0, "seconds after which a running instance is killed; omit for no limit")
	fs.String("log-dir", DefaultLogDir, "directory of the task log file")
	fs.String("tmp-dir", DefaultTmpDir, "directory of the lock file")
	fs.String("work-dir", "", "working directory of the command")
	fs.Bool("debug", false, "verbose logging on the console")
	fs.String("history", "", "run history sink DSN (sqlite://, postgres://, clickhouse://)")
	fs.String("metrics-textfile", "", "write prometheus metrics to this file at exit")
	fs.String("proctable", DefaultProcTable, "process table implementation: native or ps")
	fs.Duration("kill-grace", DefaultKillGrace, "wait between SIGTERM and SIGKILL")
	fs.StringSlice("env", nil, "extra KEY=VALUE for the command environment (repeatable)")
	fs.StringSlice("env-file", nil, ".env file loaded into the command environment (repeatable)")
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"cmd":              "cmd",
	"name":             "name",
	"active":           "active",
	"timeout":          "timeout",
	"log-dir":          "log_dir",
	"tmp-dir":          "tmp_dir",
	"work-dir":         "work_dir",
	"debug":            "debug",
	"history":          "history",
	"metrics-textfile": "metrics_textfile",
	"proctable":        "proctable",
	"kill-grace":       "kill_grace",
	"env":              "env",
	"env-file":         "env_files",
}

// NewViper returns a viper instance with defaults, RUNONCE_* environment
// lookup and, when fs is not nil, the flags of fs bound.
// Precedence is flag > environment > file > default.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// no default for timeout: IsSet must only see explicit values
	v.SetDefault("log_dir", DefaultLogDir)
	v.SetDefault("tmp_dir", DefaultTmpDir)
	v.SetDefault("proctable", DefaultProcTable)
	v.SetDefault("kill_grace", DefaultKillGrace)
	v.SetDefault("settle_delay", DefaultSettleDelay)
	v.SetDefault("use_os_env", true)
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	for _, k := range []string{"cmd", "name", "active", "timeout", "work_dir", "debug", "history", "metrics_textfile", "env", "env_files"} {
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}

	if fs != nil {
		for flag, key := range flagKeys {
			f := fs.Lookup(flag)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}

// Load merges all sources. file may be empty; otherwise it must be a TOML file.
func Load(fs *pflag.FlagSet, file string) (*Config, error) {
	v, err := NewViper(fs)
	if err != nil {
		return nil, err
	}
	if file == "" {
		file = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, file, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	c.TimeoutSet = v.IsSet("timeout")
	return &c, nil
}

// RunConfig validates c and derives the immutable run configuration.
func (c *Config) RunConfig() (task.RunConfig, error) {
	if strings.TrimSpace(c.Cmd) == "" {
		return task.RunConfig{}, fmt.Errorf("%w: --cmd is required", ErrConfig)
	}
	if c.Name == "" {
		return task.RunConfig{}, fmt.Errorf("%w: --name is required", ErrConfig)
	}
	name, err := task.Sanitize(c.Name)
	if err != nil {
		return task.RunConfig{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if c.TimeoutSet && c.Timeout <= 0 {
		return task.RunConfig{}, fmt.Errorf("%w: --timeout must be a positive number of seconds, got %d", ErrConfig, c.Timeout)
	}
	if c.KillGrace < 0 || c.SettleDelay < 0 {
		return task.RunConfig{}, fmt.Errorf("%w: durations must not be negative", ErrConfig)
	}
	switch c.ProcTable {
	case "", "native", "ps":
	default:
		return task.RunConfig{}, fmt.Errorf("%w: unknown process table %q", ErrConfig, c.ProcTable)
	}

	spec := env.Spec{InheritOS: c.UseOSEnv, Files: c.EnvFiles, Set: c.Env}
	var childEnv []string
	if !spec.Empty() {
		if childEnv, err = spec.Compose(); err != nil {
			return task.RunConfig{}, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	grace, settle := c.KillGrace, c.SettleDelay
	if grace == 0 {
		grace = task.NoWait
	}
	if settle == 0 {
		settle = task.NoWait
	}

	timeout := time.Duration(0)
	if c.TimeoutSet {
		timeout = time.Duration(c.Timeout) * time.Second
	}
	return task.RunConfig{
		Command:     c.Cmd,
		Name:        name,
		Timeout:     timeout,
		Active:      c.Active,
		LogDir:      c.LogDir,
		TmpDir:      c.TmpDir,
		WorkDir:     c.WorkDir,
		Env:         childEnv,
		KillGrace:   grace,
		SettleDelay: settle,
	}, nil
}

// CheckDirs verifies that the log and temp directories of rc are usable.
func CheckDirs(rc task.RunConfig) error {
	if err := CheckWritable(rc.LogDir); err != nil {
		return err
	}
	return CheckWritable(rc.TmpDir)
}

// CheckWritable probes dir by creating and removing a temporary file.
func CheckWritable(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrPermission, dir)
	}
	f, err := os.CreateTemp(dir, ".runonce-probe-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return nil
}
