// Package config loads vidoc configuration from defaults, a YAML file and
// VIDOC_ environment variables, and hot-reloads it on file changes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/vidoc/internal/detect"
	"github.com/jackzampolin/vidoc/internal/docbuild"
	"github.com/jackzampolin/vidoc/internal/ocr"
	"github.com/jackzampolin/vidoc/internal/types"
)

// EnvPrefix is prepended to environment overrides: ocr.language is read
// from VIDOC_OCR_LANGUAGE.
const EnvPrefix = "VIDOC"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
	logger    *slog.Logger
}

// NewManager creates a config manager and loads the initial config. An
// explicit cfgFile must exist; otherwise config.yaml is looked up in the
// current directory and then in searchDirs.
func NewManager(cfgFile string, searchDirs ...string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
		logger:    slog.Default(),
	}

	if err := cm.initViper(cfgFile, searchDirs); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string, searchDirs []string) error {
	for _, e := range DefaultEntries() {
		cm.v.SetDefault(e.Key, e.Value)
	}

	cm.v.SetEnvPrefix(EnvPrefix)
	cm.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cm.v.AutomaticEnv()

	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		for _, dir := range searchDirs {
			cm.v.AddConfigPath(dir)
		}
	}

	// Try to read config file (not required unless given explicitly)
	if err := cm.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a validated Config.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetLogger sets the logger used to report reload failures.
func (cm *Manager) SetLogger(l *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if l != nil {
		cm.logger = l.With("component", "config")
	}
}

// BindFlag makes a command-line flag override key when it is set.
func (cm *Manager) BindFlag(key string, flag *pflag.Flag) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return cm.v.BindPFlag(key, flag)
}

// Reload re-reads the merged configuration, for instance after binding flags.
func (cm *Manager) Reload() (*Config, error) {
	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.mu.Lock()
	cm.config = cfg
	cm.mu.Unlock()
	return cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the path of the loaded config file, if any.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. An edit that fails to
// parse or validate is logged and the previous config stays active.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			cm.mu.RLock()
			logger := cm.logger
			cm.mu.RUnlock()
			logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// Validate checks every value against its allowed range.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	unit := func(f float64) bool { return !math.IsNaN(f) && f >= 0 && f <= 1 }

	check(unit(c.Sensitivity), "sensitivity %v outside [0,1]", c.Sensitivity)
	check(c.DebounceWindow >= 1, "debounce_window %d must be >= 1", c.DebounceWindow)
	check(c.DuplicateTolerance >= 0 && c.DuplicateTolerance <= types.HashBits,
		"duplicate_tolerance %d outside [0,%d]", c.DuplicateTolerance, types.HashBits)
	if cutoff := detect.Cutoff(c.Sensitivity); cutoff > 0 && unit(c.Sensitivity) {
		check(c.DuplicateTolerance < cutoff,
			"duplicate_tolerance %d must be below the split cutoff %d", c.DuplicateTolerance, cutoff)
	}
	check(c.RegionTolerance >= 0 && c.RegionTolerance <= types.HashBits,
		"region_tolerance %d outside [0,%d]", c.RegionTolerance, types.HashBits)
	check(c.HistorySize >= 1, "history_size %d must be >= 1", c.HistorySize)
	check(unit(c.TableMinConfidence), "table_min_confidence %v outside [0,1]", c.TableMinConfidence)
	check(unit(c.FigureMinScore), "figure_min_score %v outside [0,1]", c.FigureMinScore)
	check(c.Workers >= 0, "workers %d must not be negative", c.Workers)
	check(c.DecodeTimeoutSeconds >= 0, "decode_timeout_seconds must not be negative")
	check(c.MaxDecodeGaps >= 0, "max_decode_gaps must not be negative")
	check(c.SampleFPS >= 0, "sample_fps must not be negative")
	check(c.DirFPS >= 0, "dir_fps must not be negative")

	switch c.OCR.Engine {
	case ocr.KindTesseract, ocr.KindDocker, ocr.KindOpenAI, ocr.KindNone, "":
	default:
		errs = append(errs, fmt.Errorf("unknown ocr.engine %q", c.OCR.Engine))
	}
	check(c.OCR.TimeoutSeconds >= 0, "ocr.timeout_seconds must not be negative")
	check(c.OCR.MaxRetries >= 0, "ocr.max_retries must not be negative")
	check(c.OCR.RateLimit >= 0, "ocr.rate_limit must not be negative")
	check(c.OCR.MaxConcurrency >= 0, "ocr.max_concurrency must not be negative")

	if _, err := docbuild.ParseFormats(c.Output.Formats); err != nil {
		errs = append(errs, err)
	}
	switch c.Output.IndexFormat {
	case "json", "yaml", "yml", "":
	default:
		errs = append(errs, fmt.Errorf("unknown output.index_format %q", c.Output.IndexFormat))
	}
	check(c.Watch.SettleSeconds >= 0, "watch.settle_seconds must not be negative")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", types.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Formats returns the parsed output formats.
func (c *Config) Formats() []docbuild.Format {
	f, _ := docbuild.ParseFormats(c.Output.Formats)
	return f
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	var header strings.Builder
	header.WriteString("# vidoc configuration\n")
	header.WriteString("# Every key can be overridden with a VIDOC_ environment variable,\n")
	header.WriteString("# e.g. VIDOC_OCR_LANGUAGE=deu. API keys use ${ENV_VAR} syntax.\n#\n")
	for _, e := range DefaultEntries() {
		fmt.Fprintf(&header, "# %s: %s\n", e.Key, e.Description)
	}
	header.WriteString("\n")

	return os.WriteFile(path, append([]byte(header.String()), data...), 0o644)
}
