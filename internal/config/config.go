// Package config loads libdeploy's settings from defaults, an optional
// YAML or JSONC file, PYTHON_LIB_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/libdeploy/internal/archive"
	"github.com/shinji-kodama/libdeploy/internal/demo"
	"github.com/shinji-kodama/libdeploy/internal/docker"
	"github.com/shinji-kodama/libdeploy/internal/fetch"
	"github.com/shinji-kodama/libdeploy/internal/logging"
	"github.com/shinji-kodama/libdeploy/internal/model"
	"github.com/shinji-kodama/libdeploy/internal/source"
	"github.com/shinji-kodama/libdeploy/internal/venv"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PYTHON_LIB"

// minTimeout is the smallest accepted non-zero timeout.
const minTimeout = time.Second

// RepoURLEnv is the environment variable holding the repository reference.
// It does not follow the key-derived naming of the other variables.
const RepoURLEnv = EnvPrefix + "_GITHUB_URL"

// Config holds every setting of a run.
type Config struct {
	RepoURL          string        `mapstructure:"repo_url"`
	Branch           string        `mapstructure:"branch"`
	Backend          model.Backend `mapstructure:"backend"`
	Python           string        `mapstructure:"python"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout"`
	MaxDownloadBytes int64         `mapstructure:"max_download_bytes"`
	WorkDir          string        `mapstructure:"work_dir"`
	Extract          ExtractConfig `mapstructure:"extract"`
	Docker           DockerConfig  `mapstructure:"docker"`
	Demo             DemoConfig    `mapstructure:"demo"`
	Log              LogConfig     `mapstructure:"log"`
}

// ExtractConfig bounds archive expansion.
type ExtractConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
	MaxFiles int   `mapstructure:"max_files"`
}

// DockerConfig configures the docker backend.
type DockerConfig struct {
	Image string `mapstructure:"image"`
}

// DemoConfig configures the demonstration script.
type DemoConfig struct {
	Message string `mapstructure:"message"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string         `mapstructure:"level"`
	Format logging.Format `mapstructure:"format"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Branch:           source.DefaultBranch,
		Backend:          model.BackendVenv,
		Python:           venv.DefaultPython(),
		HTTPTimeout:      fetch.DefaultTimeout,
		CommandTimeout:   10 * time.Minute,
		MaxDownloadBytes: fetch.DefaultMaxBytes,
		WorkDir:          os.TempDir(),
		Extract: ExtractConfig{
			MaxBytes: archive.DefaultMaxBytes,
			MaxFiles: archive.DefaultMaxFiles,
		},
		Docker: DockerConfig{Image: docker.DefaultImage},
		Demo:   DemoConfig{Message: demo.DefaultMessage},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
	}
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"repo":    "repo_url",
	"branch":  "branch",
	"backend": "backend",
}

// LoadOptions configures Load.
type LoadOptions struct {
	// ConfigFile is an optional .yaml, .yml, .json or .jsonc file.
	ConfigFile string

	// Flags holds the command-line flags named in FlagKeys. Only flags the
	// user actually set override other sources. May be nil.
	Flags *pflag.FlagSet
}

// Load resolves the configuration. Configuration problems are reported as
// model.KindMissingConfiguration errors. An empty repository reference is
// not an error here; the source locator reports it during the run.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	d := Defaults()
	v.SetDefault("repo_url", "")
	v.SetDefault("branch", d.Branch)
	v.SetDefault("backend", string(d.Backend))
	v.SetDefault("python", d.Python)
	v.SetDefault("http_timeout", d.HTTPTimeout)
	v.SetDefault("command_timeout", d.CommandTimeout)
	v.SetDefault("max_download_bytes", d.MaxDownloadBytes)
	v.SetDefault("work_dir", d.WorkDir)
	v.SetDefault("extract.max_bytes", d.Extract.MaxBytes)
	v.SetDefault("extract.max_files", d.Extract.MaxFiles)
	v.SetDefault("docker.image", d.Docker.Image)
	v.SetDefault("demo.message", d.Demo.Message)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", string(d.Log.Format))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("repo_url", RepoURLEnv); err != nil {
		return nil, model.WrapError(model.KindInternal, "failed to bind environment", err)
	}

	if opts.ConfigFile != "" {
		if err := mergeFile(v, opts.ConfigFile); err != nil {
			return nil, model.WrapError(model.KindMissingConfiguration,
				fmt.Sprintf("failed to load config file %s", opts.ConfigFile), err)
		}
	}

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			flag := opts.Flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, model.WrapError(model.KindInternal,
					fmt.Sprintf("failed to bind flag --%s", name), err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, model.WrapError(model.KindMissingConfiguration, "failed to parse configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, model.WrapError(model.KindMissingConfiguration, "invalid configuration", err)
	}
	return &cfg, nil
}

// Validate normalizes and checks the loaded values.
func (c *Config) Validate() error {
	c.RepoURL = strings.TrimSpace(c.RepoURL)
	c.Branch = strings.TrimSpace(c.Branch)

	backend, err := model.ParseBackend(string(c.Backend))
	if err != nil {
		return err
	}
	c.Backend = backend

	switch {
	case strings.TrimSpace(c.Python) == "":
		return fmt.Errorf("python must not be empty")
	case c.HTTPTimeout < 0:
		return fmt.Errorf("http_timeout must not be negative")
	case c.CommandTimeout < 0:
		return fmt.Errorf("command_timeout must not be negative")
	case c.MaxDownloadBytes < 0:
		return fmt.Errorf("max_download_bytes must not be negative")
	case c.Extract.MaxBytes < 0 || c.Extract.MaxFiles < 0:
		return fmt.Errorf("extract limits must not be negative")
	}

	// A bare number in a config file decodes as nanoseconds.
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"http_timeout", c.HTTPTimeout},
		{"command_timeout", c.CommandTimeout},
	} {
		if d.value > 0 && d.value < minTimeout {
			return fmt.Errorf("%s %s is below %s (use a unit suffix, e.g. \"30s\")", d.key, d.value, minTimeout)
		}
	}

	c.Log.Format = logging.Format(strings.ToLower(string(c.Log.Format)))
	return nil
}

// mergeFile decodes path according to its extension and merges the result
// into v. JSON files may contain comments and trailing commas.
func mergeFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	values := map[string]any{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("invalid YAML: %w", err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &values); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q (use .yaml, .yml, .json or .jsonc)", ext)
	}

	return v.MergeConfigMap(values)
}
