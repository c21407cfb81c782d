// Package pipeline runs a full scan: discover files, extract imports, track
// them, set aside local modules, resolve and install the rest, and write the
// manifest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/reqscan/internal/config"
	"github.com/phobologic/reqscan/internal/discover"
	"github.com/phobologic/reqscan/internal/install"
	"github.com/phobologic/reqscan/internal/lang"
	"github.com/phobologic/reqscan/internal/local"
	"github.com/phobologic/reqscan/internal/logging"
	"github.com/phobologic/reqscan/internal/manifest"
	"github.com/phobologic/reqscan/internal/model"
	"github.com/phobologic/reqscan/internal/parse"
	"github.com/phobologic/reqscan/internal/ranking"
	"github.com/phobologic/reqscan/internal/registry"
	"github.com/phobologic/reqscan/internal/report"
	"github.com/phobologic/reqscan/internal/resolve"
	"github.com/phobologic/reqscan/internal/source"
	"github.com/phobologic/reqscan/internal/track"
)

// ManualFile names the source of imports given as text rather than files.
const ManualFile = "manual_imports"

// Options configures Run.
type Options struct {
	Root    string
	Config  *config.Config
	Project string // defaults to the root directory name
	// Output overrides Config.Output. Relative paths are under Root.
	Output    string
	NoInstall bool
	// NoManifest skips writing the manifest; Result.Manifest is nil.
	NoManifest bool
	// Manual replaces the directory scan with the imports in Snippet, which
	// are recorded under the pseudo-file ManualFile. Root still anchors a
	// relative Output. No local-module check runs in this mode.
	Manual  bool
	Snippet string
	// Top limits the usage table; zero lists every module.
	Top int

	// PackageManager replaces pip, for tests.
	PackageManager install.PackageManager
	// Registry replaces the PyPI client and its cache.
	Registry registry.Lookuper
	Logger   *log.Logger
	Now      func() time.Time
}

// Result is everything a run produced.
type Result struct {
	Summary  *model.Summary
	Manifest *manifest.Result
	Tracker  *track.Tracker
	Outcomes []model.Outcome
}

// Run executes the pipeline. Unreadable files and failed installs are logged
// and recorded; only a manifest that cannot be written, or a cancelled
// context, makes Run fail.
func Run(ctx context.Context, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	cfg := opts.Config
	if cfg == nil {
		d := config.Default()
		cfg = &d
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	project := opts.Project
	if project == "" {
		project = filepath.Base(root)
		if opts.Manual {
			project = ManualFile
		}
	}

	tr := track.New(lang.Python.IsBuiltin)
	var (
		files    int
		locals   []model.LocalModule
		external []string
	)
	if opts.Manual {
		for _, rec := range parse.Imports(opts.Snippet, ManualFile) {
			tr.Add(rec)
		}
		if tr.Len() == 0 {
			logger.Warn("no import statements found")
		}
		files = len(tr.Files())
		external = tr.External()
	} else {
		files, locals, external, err = scanTree(ctx, root, cfg, tr, logger)
		if err != nil {
			return nil, err
		}
	}
	logger.Debug("imports extracted", "records", tr.Len(), "modules", len(tr.Modules()))

	tables, err := cfg.Tables()
	if err != nil {
		return nil, err
	}
	// The registry only serves the install retry path.
	var lookuper resolve.Registry
	if !opts.NoInstall {
		l, closeRegistry := openRegistry(cfg, opts.Registry, logger)
		defer closeRegistry()
		lookuper = l
	}
	resolver := resolve.New(tables, lookuper, resolve.Options{
		MaxVariantAttempts: cfg.Resolve.MaxVariantAttempts,
		LookupCandidates:   cfg.Registry.LookupCandidates,
		Logger:             logger,
	})

	resolved := make(map[string]string, len(external))
	for _, m := range external {
		dist := resolver.Resolve(m)
		tr.SetResolved(m, dist)
		resolved[m] = dist
	}
	groups := install.Groups(resolved)

	var outcomes []model.Outcome
	if opts.NoInstall {
		logger.Info("skipping installation", "packages", len(groups))
	} else {
		policies, err := cfg.InstallPolicies()
		if err != nil {
			return nil, err
		}
		pm := opts.PackageManager
		if pm == nil {
			pm = install.NewPip(cfg.Python, cfg.Install.Timeout, cfg.Install.ShowTimeout)
		}
		installer := install.New(pm, resolver, install.Options{Policies: policies, Logger: logger})
		outcomes = installer.Run(ctx, groups)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	var failed []model.Outcome
	for _, o := range outcomes {
		if o.Kind() == model.Failed {
			failed = append(failed, o)
			continue
		}
		if o.Variant != "" {
			for _, m := range o.Modules {
				tr.SetResolved(m, o.Variant)
			}
		}
	}

	var mres *manifest.Result
	if opts.NoManifest {
		logger.Info("manifest generation disabled")
	} else {
		output := opts.Output
		if output == "" {
			output = cfg.Output
		}
		if !filepath.IsAbs(output) {
			output = filepath.Join(root, output)
		}
		mres, err = manifest.Write(tr, manifest.Options{
			Path:    output,
			Project: project,
			Failed:  failed,
			Local:   locals,
			Backups: cfg.Backups,
			Now:     now(),
		})
		if err != nil {
			return nil, err
		}
		if mres.Backup != "" {
			logger.Info("backed up previous manifest", "path", mres.Backup)
		}
		logger.Info("wrote manifest", "path", output, "packages", len(mres.Dists))
	}

	summary := &model.Summary{
		RunID:    report.NewRunID(),
		Project:  project,
		Root:     root,
		Files:    files,
		Packages: packageRows(tr, external, outcomes, failed, opts.NoInstall),
		Local:    locals,
		Failed:   failed,
		Usage:    ranking.Top(tr.AllStats(installable(external, failed)), opts.Top),
	}
	return &Result{Summary: summary, Manifest: mres, Tracker: tr, Outcomes: outcomes}, nil
}

// scanTree discovers the files under root, feeds their imports to tr, and
// splits the external modules into project-local ones and the rest.
func scanTree(ctx context.Context, root string, cfg *config.Config, tr *track.Tracker, logger *log.Logger) (int, []model.LocalModule, []string, error) {
	files, err := discover.Files(root, cfg.DiscoverOptions())
	if err != nil {
		logger.Error("scan failed", "root", root, "err", err)
	}
	files = filterBySize(root, files, cfg.MaxFileSize, logger)
	logger.Info("scanning", "root", root, "files", len(files))

	records, err := extract(ctx, root, files, cfg.DetectDynamicImports, logger)
	if err != nil {
		return 0, nil, nil, err
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
		for _, rec := range records[i] {
			tr.Add(rec)
		}
	}

	roots := local.SearchRoots(root, paths)
	var locals []model.LocalModule
	var external []string
	for _, m := range tr.External() {
		if p, ok := local.Find(m, roots); ok {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				rel = p
			}
			locals = append(locals, model.LocalModule{Module: m, Path: filepath.ToSlash(rel)})
			logger.Debug("local module", "module", m, "path", rel)
			continue
		}
		external = append(external, m)
	}
	return len(files), locals, external, nil
}

// extract reads and scans every file on a bounded worker pool. Results come
// back indexed by file so the caller can feed the tracker in scan order.
func extract(ctx context.Context, root string, files []discover.FileEntry, dynamic bool, logger *log.Logger) ([][]model.ImportRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]model.ImportRecord, len(files))
	if len(files) == 0 {
		return out, nil
	}

	var query *sitter.Query
	if dynamic {
		q, err := lang.Python.GetDynamicImportQuery()
		if err != nil {
			logger.Warn("dynamic import detection disabled", "err", err)
		} else {
			query = q
		}
	}

	numWorkers := min(runtime.GOMAXPROCS(0), len(files))
	work := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(work)
		for i := range files {
			select {
			case work <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for range numWorkers {
		g.Go(func() error {
			// Each worker gets its own parser.
			var parser *sitter.Parser
			if query != nil {
				parser = lang.Python.NewParser()
				defer parser.Close()
			}
			for idx := range work {
				f := files[idx]
				text, err := source.Read(filepath.Join(root, f.Path))
				if err != nil {
					logger.Warn("unreadable file", "file", f.Path, "err", err)
					continue
				}
				recs := parse.Imports(text, f.Path)
				if parser != nil {
					recs = append(recs, parse.Dynamic(parser, query, []byte(text), f.Path)...)
				}
				out[idx] = recs
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func filterBySize(root string, files []discover.FileEntry, maxSize int64, logger *log.Logger) []discover.FileEntry {
	if maxSize <= 0 {
		return files
	}
	var kept []discover.FileEntry
	for _, f := range files {
		fi, err := os.Stat(filepath.Join(root, f.Path))
		if err != nil {
			kept = append(kept, f) // keep if can't stat
			continue
		}
		if fi.Size() > maxSize {
			logger.Warn("skipped large file", "file", f.Path, "bytes", fi.Size(), "limit", maxSize)
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

func openRegistry(cfg *config.Config, override registry.Lookuper, logger *log.Logger) (resolve.Registry, func()) {
	if override != nil {
		return override, func() {}
	}
	if !cfg.Registry.Enabled {
		return nil, func() {}
	}
	client := registry.NewClient(cfg.Registry.URL, cfg.Registry.Timeout)
	if cfg.Registry.CachePath == "" {
		return client, func() {}
	}
	cache, err := registry.OpenCache(cfg.Registry.CachePath, client, registry.CacheOptions{
		PositiveTTL: cfg.Registry.CacheTTL,
		NegativeTTL: cfg.Registry.NegativeTTL,
		Logger:      logger,
	})
	if err != nil {
		logger.Warn("registry cache unavailable", "path", cfg.Registry.CachePath, "err", err)
		return client, func() {}
	}
	return cache, func() {
		if err := cache.Close(); err != nil {
			logger.Debug("closing registry cache", "err", err)
		}
	}
}

func installable(external []string, failed []model.Outcome) []string {
	skip := make(map[string]struct{})
	for _, o := range failed {
		for _, m := range o.Modules {
			skip[m] = struct{}{}
		}
	}
	var out []string
	for _, m := range external {
		if _, ok := skip[m]; !ok {
			out = append(out, m)
		}
	}
	return out
}

// packageRows builds one row per manifest distribution, carrying the
// outcome of its install.
func packageRows(tr *track.Tracker, external []string, outcomes []model.Outcome, failed []model.Outcome, noInstall bool) []model.PackageRow {
	kinds := make(map[string]model.OutcomeKind)
	for _, o := range outcomes {
		kinds[o.Final()] = o.Kind()
	}

	type agg struct {
		modules []string
		files   map[string]struct{}
		count   int
	}
	byDist := make(map[string]*agg)
	for _, m := range installable(external, failed) {
		dist := tr.Resolved(m)
		a, ok := byDist[dist]
		if !ok {
			a = &agg{files: make(map[string]struct{})}
			byDist[dist] = a
		}
		a.modules = append(a.modules, m)
		for _, r := range tr.Records(m) {
			a.files[r.File] = struct{}{}
			a.count++
		}
	}

	dists := make([]string, 0, len(byDist))
	for d := range byDist {
		dists = append(dists, d)
	}
	slices.SortFunc(dists, strings.Compare)

	rows := make([]model.PackageRow, 0, len(dists))
	for _, d := range dists {
		a := byDist[d]
		kind := model.Skipped
		if !noInstall {
			kind = kinds[d]
		}
		rows = append(rows, model.PackageRow{
			Dist:        d,
			Modules:     a.modules,
			Kind:        kind,
			Files:       len(a.files),
			Occurrences: a.count,
		})
	}
	return rows
}

// IsManifestError reports whether err came from writing the manifest.
func IsManifestError(err error) bool {
	var we *manifest.WriteError
	return errors.As(err, &we)
}
