// Package config loads harness settings from defaults, an optional YAML
// file, a .env file, ALLOCBENCH_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/weiihann/allocbench/bencher"
	"github.com/weiihann/allocbench/builder"
	"github.com/weiihann/allocbench/process"
	"github.com/weiihann/allocbench/registry"
)

// EnvPrefix namespaces environment overrides, e.g. ALLOCBENCH_TRIALS.
const EnvPrefix = "ALLOCBENCH"

// DefaultFile is looked up in the working directory when no file is given.
const DefaultFile = "allocbench.yaml"

// Server tunes the dependent-server lifecycle.
type Server struct {
	StartupGrace  time.Duration `mapstructure:"startup_grace"`
	TeardownGrace time.Duration `mapstructure:"teardown_grace"`
}

// Config is the resolved harness configuration.
type Config struct {
	SourceRoot  string                `mapstructure:"source_root"`
	BenchDir    string                `mapstructure:"bench_dir"`
	SuiteDir    string                `mapstructure:"suite_dir"`
	AgdaDir     string                `mapstructure:"agda_dir"`
	Threads     int                   `mapstructure:"threads"`
	Trials      int                   `mapstructure:"trials"`
	Average     bool                  `mapstructure:"average"`
	Build       bool                  `mapstructure:"build"`
	Parallel    int                   `mapstructure:"parallel"`
	TimeCommand []string              `mapstructure:"time_command"`
	IsolatedEnv bool                  `mapstructure:"isolated_env"`
	Server      Server                `mapstructure:"server"`
	Store       string                `mapstructure:"store"`
	MetricsFile string                `mapstructure:"metrics_file"`
	Builders    []registry.CMakeEntry `mapstructure:"builders"`
}

func setDefaults(v *viper.Viper) {
	bench := bencher.DefaultOptions()

	v.SetDefault("source_root", "allocators")
	v.SetDefault("bench_dir", bench.BenchDir)
	v.SetDefault("suite_dir", bench.SuiteDir)
	v.SetDefault("agda_dir", bench.AgdaDir)
	v.SetDefault("threads", bench.Threads)
	v.SetDefault("trials", 1)
	v.SetDefault("average", true)
	v.SetDefault("build", false)
	v.SetDefault("parallel", builder.DefaultParallel())
	v.SetDefault("time_command", process.DefaultTimeCommand)
	v.SetDefault("isolated_env", false)
	v.SetDefault("server.startup_grace", bencher.DefaultStartupGrace)
	v.SetDefault("server.teardown_grace", bencher.DefaultTeardownGrace)
	v.SetDefault("store", "allocbench.db")
	v.SetDefault("metrics_file", "")
}

// Load resolves the configuration. file may be empty, in which case
// allocbench.yaml is read if present. flags may be nil; a flag named
// "source-root" overrides the key "source_root" once it is set.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigFile(DefaultFile)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", DefaultFile, err)
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if err := v.BindPFlag(key, f); err != nil {
				bindErr = errors.Join(bindErr, err)
			}
		})

		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Environment values arrive as one string; split it on whitespace.
	cfg.TimeCommand = v.GetStringSlice("time_command")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the harness cannot run with.
func (c *Config) Validate() error {
	if c.Trials < 1 {
		return fmt.Errorf("trials must be at least 1, got %d", c.Trials)
	}

	if len(c.TimeCommand) == 0 {
		return errors.New("time_command must not be empty")
	}

	if c.Server.StartupGrace < 0 || c.Server.TeardownGrace < 0 {
		return errors.New("server grace periods must not be negative")
	}

	return nil
}

// BenchOptions returns the catalogue options.
func (c *Config) BenchOptions() bencher.Options {
	return bencher.Options{
		BenchDir:      c.BenchDir,
		SuiteDir:      c.SuiteDir,
		AgdaDir:       c.AgdaDir,
		Threads:       c.Threads,
		StartupGrace:  c.Server.StartupGrace,
		TeardownGrace: c.Server.TeardownGrace,
	}
}

// Paths returns the registry inputs for toolchain tc.
func (c *Config) Paths(tc builder.Toolchain) registry.Paths {
	return registry.Paths{
		SourceRoot: c.SourceRoot,
		Parallel:   c.Parallel,
		Toolchain:  tc,
		Bench:      c.BenchOptions(),
	}
}
