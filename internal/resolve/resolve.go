// Package resolve maps imported module names to the distribution names they
// are published under.
package resolve

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
)

// Registry answers whether a distribution name exists upstream.
type Registry interface {
	Exists(ctx context.Context, name string) (canonical string, ok bool, err error)
}

// Options tunes the retry path.
type Options struct {
	// MaxVariantAttempts caps RetryCandidates. Zero means 5.
	MaxVariantAttempts int
	// LookupCandidates caps how many names Lookup asks the registry about.
	// Zero means 3.
	LookupCandidates int
	Logger           *log.Logger
}

// Resolver resolves module names using immutable tables and an optional
// registry fallback.
type Resolver struct {
	direct   map[string]string
	rules    []Rule
	registry Registry
	opts     Options
	logger   *log.Logger
}

// New builds a resolver. registry may be nil to disable remote lookups.
func New(t Tables, registry Registry, opts Options) *Resolver {
	direct := make(map[string]string, len(t.Direct))
	for k, v := range t.Direct {
		direct[k] = v
	}
	if opts.MaxVariantAttempts <= 0 {
		opts.MaxVariantAttempts = 5
	}
	if opts.LookupCandidates <= 0 {
		opts.LookupCandidates = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Resolver{
		direct:   direct,
		rules:    append([]Rule(nil), t.Rules...),
		registry: registry,
		opts:     opts,
		logger:   logger,
	}
}

// Resolve returns the distribution name for module: a direct mapping, else
// the first matching rule, else the module name itself.
func (r *Resolver) Resolve(module string) string {
	if dist, ok := r.direct[module]; ok {
		return dist
	}
	for _, rule := range r.rules {
		if rule.Pattern.MatchString(module) {
			return rule.Dist
		}
	}
	return module
}

// RetryCandidates lists names to try after failed could not be found. It
// draws variants from the module name and from failed, drops both of those,
// and caps the list at MaxVariantAttempts.
func (r *Resolver) RetryCandidates(module, failed string) []string {
	skip := map[string]struct{}{module: {}, failed: {}}
	var out []string
	for _, src := range []string{module, failed} {
		for _, v := range Variants(src) {
			if _, ok := skip[v]; ok {
				continue
			}
			skip[v] = struct{}{}
			out = append(out, v)
			if len(out) == r.opts.MaxVariantAttempts {
				return out
			}
		}
	}
	return out
}

// Lookup asks the registry about up to LookupCandidates variants of module
// that are not in tried, and returns the canonical name of the first one that
// exists. Registry errors count as misses.
func (r *Resolver) Lookup(ctx context.Context, module string, tried []string) (string, bool) {
	if r.registry == nil {
		return "", false
	}
	skip := make(map[string]struct{}, len(tried))
	for _, t := range tried {
		skip[t] = struct{}{}
	}
	asked := 0
	for _, v := range Variants(module) {
		if _, ok := skip[v]; ok {
			continue
		}
		if asked == r.opts.LookupCandidates {
			break
		}
		asked++
		canonical, ok, err := r.registry.Exists(ctx, v)
		if err != nil {
			r.logger.Debug("registry lookup failed", "name", v, "err", err)
			continue
		}
		if ok {
			if canonical == "" {
				canonical = v
			}
			return canonical, true
		}
	}
	return "", false
}
