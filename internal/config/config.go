// Package config loads reqscan settings from .reqscan.toml, REQSCAN_*
// environment variables, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/phobologic/reqscan/internal/discover"
	"github.com/phobologic/reqscan/internal/install"
	"github.com/phobologic/reqscan/internal/registry"
	"github.com/phobologic/reqscan/internal/resolve"
)

const (
	// FileName is the project config file looked up in the scan root.
	FileName = ".reqscan.toml"
	// EnvPrefix prefixes environment overrides, e.g. REQSCAN_OUTPUT.
	EnvPrefix = "REQSCAN"
)

// Config is the loaded configuration. Treat it as read-only once loaded.
type Config struct {
	Output               string `mapstructure:"output"`
	Backups              int    `mapstructure:"backups"`
	Python               string `mapstructure:"python"`
	DetectDynamicImports bool   `mapstructure:"detect_dynamic_imports"`
	MaxFileSize          int64  `mapstructure:"max_file_size"`

	Scan     ScanConfig                    `mapstructure:"scan"`
	Resolve  ResolveConfig                 `mapstructure:"resolve"`
	Registry RegistryConfig                `mapstructure:"registry"`
	Install  InstallConfig                 `mapstructure:"install"`
	Policies map[string]install.PolicySpec `mapstructure:"policies"`
}

// ScanConfig controls file discovery.
type ScanConfig struct {
	ExcludeDirs      []string `mapstructure:"exclude_dirs"`
	ExcludeFiles     []string `mapstructure:"exclude_files"`
	ExcludePatterns  []string `mapstructure:"exclude_patterns"`
	NoRecurse        bool     `mapstructure:"no_recurse"`
	RespectGitignore bool     `mapstructure:"respect_gitignore"`
}

// ResolveConfig extends the built-in name tables. Mappings are lists of
// tables so module names keep their case.
type ResolveConfig struct {
	Mapping            []MappingEntry `mapstructure:"mapping"`
	Pattern            []PatternEntry `mapstructure:"pattern"`
	MaxVariantAttempts int            `mapstructure:"max_variant_attempts"`
}

// MappingEntry maps one module name to a distribution.
type MappingEntry struct {
	Module string `mapstructure:"module" toml:"module"`
	Dist   string `mapstructure:"dist" toml:"dist"`
}

// PatternEntry maps every module matching a regular expression.
type PatternEntry struct {
	Pattern string `mapstructure:"pattern" toml:"pattern"`
	Dist    string `mapstructure:"dist" toml:"dist"`
}

// RegistryConfig controls the PyPI fallback lookup.
type RegistryConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URL              string        `mapstructure:"url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	CachePath        string        `mapstructure:"cache_path"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	NegativeTTL      time.Duration `mapstructure:"negative_ttl"`
	LookupCandidates int           `mapstructure:"lookup_candidates"`
}

// InstallConfig bounds package-manager subprocesses.
type InstallConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	ShowTimeout time.Duration `mapstructure:"show_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Output:      "requirements.txt",
		Backups:     5,
		Python:      "python3",
		MaxFileSize: 1_000_000,
		Scan: ScanConfig{
			ExcludeDirs:      append([]string(nil), discover.DefaultExcludeDirs...),
			ExcludePatterns:  append([]string(nil), discover.DefaultExcludePatterns...),
			RespectGitignore: true,
		},
		Resolve: ResolveConfig{MaxVariantAttempts: 5},
		Registry: RegistryConfig{
			Enabled:          true,
			URL:              registry.DefaultURL,
			Timeout:          registry.DefaultTimeout,
			CachePath:        defaultCachePath(),
			CacheTTL:         registry.DefaultPositiveTTL,
			NegativeTTL:      registry.DefaultNegativeTTL,
			LookupCandidates: 3,
		},
		Install: InstallConfig{
			Timeout:     install.DefaultInstallTimeout,
			ShowTimeout: install.DefaultShowTimeout,
		},
	}
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "reqscan", "registry.db")
}

// Load reads configuration for a scan of root. An explicit path must exist;
// otherwise root/.reqscan.toml is used when present. It returns the config
// and the file it was read from, if any.
func Load(root, path string) (*Config, string, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	used := ""
	switch {
	case path != "":
		if _, err := os.Stat(path); err != nil {
			return nil, "", fmt.Errorf("config file %s: %w", path, err)
		}
		used = path
	default:
		candidate := filepath.Join(root, FileName)
		if _, err := os.Stat(candidate); err == nil {
			used = candidate
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("config file %s: %w", candidate, err)
		}
	}
	if used != "" {
		v.SetConfigFile(used)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("reading config %s: %w", used, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, used, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("output", d.Output)
	v.SetDefault("backups", d.Backups)
	v.SetDefault("python", d.Python)
	v.SetDefault("detect_dynamic_imports", d.DetectDynamicImports)
	v.SetDefault("max_file_size", d.MaxFileSize)
	v.SetDefault("scan.exclude_dirs", d.Scan.ExcludeDirs)
	v.SetDefault("scan.exclude_files", d.Scan.ExcludeFiles)
	v.SetDefault("scan.exclude_patterns", d.Scan.ExcludePatterns)
	v.SetDefault("scan.no_recurse", d.Scan.NoRecurse)
	v.SetDefault("scan.respect_gitignore", d.Scan.RespectGitignore)
	v.SetDefault("resolve.max_variant_attempts", d.Resolve.MaxVariantAttempts)
	v.SetDefault("registry.enabled", d.Registry.Enabled)
	v.SetDefault("registry.url", d.Registry.URL)
	v.SetDefault("registry.timeout", d.Registry.Timeout)
	v.SetDefault("registry.cache_path", d.Registry.CachePath)
	v.SetDefault("registry.cache_ttl", d.Registry.CacheTTL)
	v.SetDefault("registry.negative_ttl", d.Registry.NegativeTTL)
	v.SetDefault("registry.lookup_candidates", d.Registry.LookupCandidates)
	v.SetDefault("install.timeout", d.Install.Timeout)
	v.SetDefault("install.show_timeout", d.Install.ShowTimeout)
}

// Validate checks values that decoding alone cannot.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Output) == "" {
		errs = append(errs, errors.New("output: must not be empty"))
	}
	if c.Resolve.MaxVariantAttempts < 0 {
		errs = append(errs, errors.New("resolve.max_variant_attempts: must not be negative"))
	}
	if c.Registry.LookupCandidates < 0 {
		errs = append(errs, errors.New("registry.lookup_candidates: must not be negative"))
	}
	if c.Install.Timeout < 0 || c.Install.ShowTimeout < 0 || c.Registry.Timeout < 0 {
		errs = append(errs, errors.New("timeouts: must not be negative"))
	}
	if _, err := c.Tables(); err != nil {
		errs = append(errs, fmt.Errorf("resolve: %w", err))
	}
	if _, err := c.InstallPolicies(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// DiscoverOptions returns the scanner options.
func (c *Config) DiscoverOptions() discover.Options {
	return discover.Options{
		ExcludeDirs:      c.Scan.ExcludeDirs,
		ExcludeFiles:     c.Scan.ExcludeFiles,
		ExcludePatterns:  c.Scan.ExcludePatterns,
		NoRecurse:        c.Scan.NoRecurse,
		RespectGitignore: c.Scan.RespectGitignore,
	}
}

// Tables returns the built-in resolution tables extended by the configured
// mappings and patterns.
func (c *Config) Tables() (resolve.Tables, error) {
	mappings := make([]resolve.Mapping, 0, len(c.Resolve.Mapping))
	for _, m := range c.Resolve.Mapping {
		mappings = append(mappings, resolve.Mapping{Module: m.Module, Dist: m.Dist})
	}
	rules := make([]resolve.PatternRule, 0, len(c.Resolve.Pattern))
	for _, p := range c.Resolve.Pattern {
		rules = append(rules, resolve.PatternRule{Pattern: p.Pattern, Dist: p.Dist})
	}
	return resolve.WithOverrides(mappings, rules)
}

// InstallPolicies returns the built-in policies with configured ones layered
// on top. Policy keys are lower-cased by the config loader.
func (c *Config) InstallPolicies() (map[string]install.Policy, error) {
	overrides := make(map[string]install.Policy, len(c.Policies))
	for dist, spec := range c.Policies {
		p, err := install.ParsePolicy(spec)
		if err != nil {
			return nil, fmt.Errorf("policies.%s: %w", dist, err)
		}
		overrides[dist] = p
	}
	return install.MergePolicies(install.DefaultPolicies(), overrides), nil
}

// file is the on-disk shape written by Write. Durations are strings so the
// file stays readable and round-trips through Load.
type file struct {
	Output               string   `toml:"output"`
	Backups              int      `toml:"backups"`
	Python               string   `toml:"python"`
	DetectDynamicImports bool     `toml:"detect_dynamic_imports"`
	MaxFileSize          int64    `toml:"max_file_size"`
	Scan                 scanFile `toml:"scan"`
	Resolve              struct {
		MaxVariantAttempts int            `toml:"max_variant_attempts"`
		Mapping            []MappingEntry `toml:"mapping,omitempty"`
		Pattern            []PatternEntry `toml:"pattern,omitempty"`
	} `toml:"resolve"`
	Registry struct {
		Enabled          bool   `toml:"enabled"`
		URL              string `toml:"url"`
		Timeout          string `toml:"timeout"`
		CachePath        string `toml:"cache_path"`
		CacheTTL         string `toml:"cache_ttl"`
		NegativeTTL      string `toml:"negative_ttl"`
		LookupCandidates int    `toml:"lookup_candidates"`
	} `toml:"registry"`
	Install struct {
		Timeout     string `toml:"timeout"`
		ShowTimeout string `toml:"show_timeout"`
	} `toml:"install"`
}

type scanFile struct {
	ExcludeDirs      []string `toml:"exclude_dirs"`
	ExcludeFiles     []string `toml:"exclude_files"`
	ExcludePatterns  []string `toml:"exclude_patterns"`
	NoRecurse        bool     `toml:"no_recurse"`
	RespectGitignore bool     `toml:"respect_gitignore"`
}

const fileHeader = `# reqscan configuration.
#
# Extra module → distribution mappings:
#   [[resolve.mapping]]
#   module = "PIL"
#   dist = "pillow"
#
# Per-distribution install handling:
#   [policies.pywin32]
#   skip_verify = true
#   post_install = "pywin32_postinstall -install"
#   verify_mode = "any"
#   verify_delay = "2s"

`

// Write encodes c as a commented TOML config file.
func Write(w io.Writer, c Config) error {
	var f file
	f.Output = c.Output
	f.Backups = c.Backups
	f.Python = c.Python
	f.DetectDynamicImports = c.DetectDynamicImports
	f.MaxFileSize = c.MaxFileSize
	f.Scan = scanFile{
		ExcludeDirs:      nonNil(c.Scan.ExcludeDirs),
		ExcludeFiles:     nonNil(c.Scan.ExcludeFiles),
		ExcludePatterns:  nonNil(c.Scan.ExcludePatterns),
		NoRecurse:        c.Scan.NoRecurse,
		RespectGitignore: c.Scan.RespectGitignore,
	}
	f.Resolve.MaxVariantAttempts = c.Resolve.MaxVariantAttempts
	f.Resolve.Mapping = c.Resolve.Mapping
	f.Resolve.Pattern = c.Resolve.Pattern
	f.Registry.Enabled = c.Registry.Enabled
	f.Registry.URL = c.Registry.URL
	f.Registry.Timeout = c.Registry.Timeout.String()
	f.Registry.CachePath = c.Registry.CachePath
	f.Registry.CacheTTL = c.Registry.CacheTTL.String()
	f.Registry.NegativeTTL = c.Registry.NegativeTTL.String()
	f.Registry.LookupCandidates = c.Registry.LookupCandidates
	f.Install.Timeout = c.Install.Timeout.String()
	f.Install.ShowTimeout = c.Install.ShowTimeout.String()

	if _, err := io.WriteString(w, fileHeader); err != nil {
		return err
	}
	if err := toml.NewEncoder(w).Encode(f); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
