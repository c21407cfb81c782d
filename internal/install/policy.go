package install

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mvdan.cc/sh/v3/shell"
)

// VerifyMode selects how many of a distribution's modules must import.
type VerifyMode string

const (
	VerifyAny VerifyMode = "any"
	VerifyAll VerifyMode = "all"
)

// Policy is the per-distribution handling applied around an install.
type Policy struct {
	// SkipVerify replaces the import check with a package-manager show query,
	// for distributions whose modules cannot load until the process restarts.
	SkipVerify bool
	// PostInstall is run as `python -m <argv...>` after a successful install.
	PostInstall   []string
	VerifyMode    VerifyMode
	VerifyDelay   time.Duration
	VerifyModules []string
}

// PolicySpec is the config-file form of a Policy.
type PolicySpec struct {
	SkipVerify    bool          `mapstructure:"skip_verify" toml:"skip_verify"`
	PostInstall   string        `mapstructure:"post_install" toml:"post_install,omitempty"`
	VerifyMode    string        `mapstructure:"verify_mode" toml:"verify_mode,omitempty"`
	VerifyDelay   time.Duration `mapstructure:"verify_delay" toml:"verify_delay,omitempty"`
	VerifyModules []string      `mapstructure:"verify_modules" toml:"verify_modules,omitempty"`
}

// DefaultPolicies returns the built-in policies.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		"pywin32": {
			SkipVerify:  true,
			PostInstall: []string{"pywin32_postinstall", "-install"},
			VerifyMode:  VerifyAny,
		},
	}
}

// ParsePolicy validates spec and splits its post-install command line with
// shell quoting rules.
func ParsePolicy(spec PolicySpec) (Policy, error) {
	p := Policy{
		SkipVerify:    spec.SkipVerify,
		VerifyDelay:   spec.VerifyDelay,
		VerifyModules: append([]string(nil), spec.VerifyModules...),
	}
	switch mode := VerifyMode(strings.ToLower(strings.TrimSpace(spec.VerifyMode))); mode {
	case "", VerifyAny:
		p.VerifyMode = VerifyAny
	case VerifyAll:
		p.VerifyMode = VerifyAll
	default:
		return Policy{}, fmt.Errorf("verify_mode %q: want %q or %q", spec.VerifyMode, VerifyAny, VerifyAll)
	}
	if p.VerifyDelay < 0 {
		return Policy{}, fmt.Errorf("verify_delay %s: must not be negative", p.VerifyDelay)
	}
	if strings.TrimSpace(spec.PostInstall) != "" {
		argv, err := shell.Fields(spec.PostInstall, func(string) string { return "" })
		if err != nil {
			return Policy{}, fmt.Errorf("post_install %q: %w", spec.PostInstall, err)
		}
		p.PostInstall = argv
	}
	return p, nil
}

// MergePolicies returns base with every entry of overrides replacing the
// entry of the same distribution name.
func MergePolicies(base, overrides map[string]Policy) map[string]Policy {
	out := make(map[string]Policy, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// present runs the presence check for dist without any delay.
func (p Policy) present(ctx context.Context, pm PackageManager, dist string, modules []string) bool {
	if p.SkipVerify {
		return pm.Show(ctx, dist)
	}
	targets := modules
	if len(p.VerifyModules) > 0 {
		targets = p.VerifyModules
	}
	if len(targets) == 0 {
		return false
	}
	for _, m := range targets {
		ok := pm.Importable(ctx, m)
		if ok && p.VerifyMode != VerifyAll {
			return true
		}
		if !ok && p.VerifyMode == VerifyAll {
			return false
		}
	}
	return p.VerifyMode == VerifyAll
}
