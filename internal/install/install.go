// Package install drives the package manager through the
// check → install → post-install → verify state machine, one distribution at
// a time.
package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/phobologic/reqscan/internal/model"
)

// Retrier supplies alternative distribution names after a not-found failure.
type Retrier interface {
	RetryCandidates(module, failed string) []string
	Lookup(ctx context.Context, module string, tried []string) (string, bool)
}

// Group is one distribution and every module that resolved to it.
type Group struct {
	Dist    string
	Modules []string
}

// Groups coalesces module → distribution pairs into one Group per
// distribution, sorted by distribution name with sorted modules.
func Groups(resolved map[string]string) []Group {
	byDist := make(map[string][]string)
	for module, dist := range resolved {
		byDist[dist] = append(byDist[dist], module)
	}
	out := make([]Group, 0, len(byDist))
	for dist, modules := range byDist {
		slices.Sort(modules)
		out = append(out, Group{Dist: dist, Modules: modules})
	}
	slices.SortFunc(out, func(a, b Group) int { return strings.Compare(a.Dist, b.Dist) })
	return out
}

// Options configures an Installer.
type Options struct {
	Policies map[string]Policy
	Logger   *log.Logger
	// Sleep waits before verification. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration)
}

// Installer runs the state machine for each group. It is not safe for
// concurrent use.
type Installer struct {
	pm       PackageManager
	retrier  Retrier
	policies map[string]Policy
	logger   *log.Logger
	sleep    func(ctx context.Context, d time.Duration)

	// attempts records every install already run, by distribution name.
	attempts map[string]error
}

// New returns an Installer. retrier may be nil to disable the retry path.
func New(pm PackageManager, retrier Retrier, opts Options) *Installer {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	policies := opts.Policies
	if policies == nil {
		policies = DefaultPolicies()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return &Installer{
		pm:       pm,
		retrier:  retrier,
		policies: policies,
		logger:   logger,
		sleep:    sleep,
		attempts: make(map[string]error),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (in *Installer) policy(dist string) Policy {
	p, ok := in.policies[dist]
	if !ok {
		p, ok = in.policies[strings.ToLower(dist)]
	}
	if ok {
		if p.VerifyMode == "" {
			p.VerifyMode = VerifyAny
		}
		return p
	}
	return Policy{VerifyMode: VerifyAny}
}

// Run processes every group in order and returns one terminal outcome per
// group. A failed group never stops the others.
func (in *Installer) Run(ctx context.Context, groups []Group) []model.Outcome {
	out := make([]model.Outcome, 0, len(groups))
	for i, g := range groups {
		in.logger.Debug("checking distribution", "dist", g.Dist, "modules", g.Modules, "n", i+1, "of", len(groups))
		o := in.runGroup(ctx, g)
		switch o.Kind() {
		case model.AlreadySatisfied:
			in.logger.Debug("already installed", "dist", g.Dist)
		case model.Installed:
			in.logger.Info("installed", "dist", g.Dist)
		case model.InstalledViaVariant:
			in.logger.Info("installed", "dist", o.Variant, "requested", g.Dist)
		default:
			in.logger.Warn("install failed", "dist", g.Dist, "reason", o.Reason)
		}
		out = append(out, o)
	}
	return out
}

func (in *Installer) runGroup(ctx context.Context, g Group) model.Outcome {
	o := model.Outcome{
		Dist:    g.Dist,
		Modules: append([]string(nil), g.Modules...),
		State:   model.Unchecked,
	}

	if in.policy(g.Dist).present(ctx, in.pm, g.Dist, g.Modules) {
		o.State = model.AlreadyInstalled
		return o
	}
	o.State = model.NeedsInstall

	final, err := in.installWithRetry(ctx, g, &o)
	if err != nil {
		o.State = model.InstallFailed
		o.Reason = err.Error()
		return o
	}
	if final != g.Dist {
		o.Variant = final
	}
	o.State = model.InstallSucceeded

	p := in.policy(final)
	if len(p.PostInstall) > 0 {
		if err := in.pm.PostInstall(ctx, p.PostInstall); err != nil {
			in.logger.Warn("post-install step failed", "dist", final, "err", err)
		}
	}

	in.sleep(ctx, p.VerifyDelay)
	if p.present(ctx, in.pm, final, g.Modules) {
		o.State = model.Verified
	} else {
		o.State = model.VerifyFailed
		o.Reason = in.diagnose(ctx, final, g.Modules)
	}
	return o
}

// diagnose explains a failed verification with the top-level modules dist
// actually installed.
func (in *Installer) diagnose(ctx context.Context, dist string, modules []string) string {
	reason := fmt.Sprintf("installed %s but verification failed", dist)
	info, err := in.pm.Info(ctx, dist)
	if err != nil {
		in.logger.Debug("no package info", "dist", dist, "err", err)
		return reason
	}
	if len(info.TopLevel) == 0 {
		return fmt.Sprintf("%s: %s provides no top-level modules", reason, dist)
	}
	var missing []string
	for _, m := range modules {
		if !slices.Contains(info.TopLevel, m) {
			missing = append(missing, m)
		}
	}
	provides := fmt.Sprintf("%s: %s provides %s", reason, dist, strings.Join(info.TopLevel, ", "))
	if len(missing) == 0 {
		return provides
	}
	return fmt.Sprintf("%s, not %s", provides, strings.Join(missing, ", "))
}

// installWithRetry installs g.Dist, falling back to name variants of every
// module in the group and then a registry lookup when the index reports the
// name as unknown. It returns the distribution name that installed.
func (in *Installer) installWithRetry(ctx context.Context, g Group, o *model.Outcome) (string, error) {
	firstErr := in.install(ctx, g.Dist, o)
	if firstErr == nil {
		return g.Dist, nil
	}
	var ie *Error
	if !errors.As(firstErr, &ie) || !ie.NotFound || in.retrier == nil || len(g.Modules) == 0 {
		return "", firstErr
	}

	for _, module := range g.Modules {
		for _, candidate := range in.retrier.RetryCandidates(module, g.Dist) {
			if slices.Contains(o.Attempted, candidate) {
				continue
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			in.logger.Debug("trying variant", "module", module, "dist", candidate)
			if err := in.install(ctx, candidate, o); err == nil {
				return candidate, nil
			}
		}
	}

	for _, module := range g.Modules {
		name, ok := in.retrier.Lookup(ctx, module, o.Attempted)
		if !ok {
			continue
		}
		in.logger.Debug("registry suggested", "module", module, "dist", name)
		if err := in.install(ctx, name, o); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("%s (tried: %s)", ie.Summary, strings.Join(o.Attempted, ", "))
}

// install runs the package manager at most once per distribution name per
// run, replaying the earlier result otherwise.
func (in *Installer) install(ctx context.Context, dist string, o *model.Outcome) error {
	if !slices.Contains(o.Attempted, dist) {
		o.Attempted = append(o.Attempted, dist)
	}
	if err, done := in.attempts[dist]; done {
		return err
	}
	in.logger.Info("installing", "dist", dist)
	err := in.pm.Install(ctx, dist)
	in.attempts[dist] = err
	return err
}
