// Package manifest writes the requirements file: bare install lines for each
// resolved distribution, surrounded by commented provenance sections.
package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/phobologic/reqscan/internal/model"
	"github.com/phobologic/reqscan/internal/track"
)

// DefaultBackups is how many backups are kept when Options.Backups is zero.
const DefaultBackups = 5

const backupLayout = "20060102_150405"

// WriteError is a manifest that could not be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing manifest %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Options configures Write.
type Options struct {
	Path    string
	Project string
	Failed  []model.Outcome
	Local   []model.LocalModule
	// Backups is the retention count; zero means DefaultBackups and a
	// negative value disables backups.
	Backups int
	Now     time.Time
}

// Result describes a written manifest.
type Result struct {
	Path   string
	Backup string   // empty when there was no prior manifest
	Dists  []string // install lines, sorted
}

// entry is one distribution heading.
type entry struct {
	dist    string
	modules []string
	records []model.ImportRecord
	files   int
}

// Write renders the manifest for every external module in t that is neither
// local nor failed, backing up any existing file at opts.Path first.
func Write(t *track.Tracker, opts Options) (*Result, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.Backups == 0 {
		opts.Backups = DefaultBackups
	}

	content, dists := Render(t, opts)

	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &WriteError{Path: opts.Path, Err: err}
		}
	}

	res := &Result{Path: opts.Path, Dists: dists}
	if opts.Backups > 0 {
		backup, err := backupExisting(opts.Path, opts.Now)
		if err != nil {
			return nil, &WriteError{Path: opts.Path, Err: err}
		}
		res.Backup = backup
		if backup != "" {
			pruneBackups(opts.Path, opts.Backups)
		}
	}

	if err := writeAtomic(opts.Path, content); err != nil {
		return nil, &WriteError{Path: opts.Path, Err: err}
	}
	return res, nil
}

// Render builds the manifest text without touching the filesystem. It also
// returns the install lines in order.
func Render(t *track.Tracker, opts Options) ([]byte, []string) {
	entries := collect(t, opts)

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	rule := "# " + strings.Repeat("=", 78)
	thin := "# " + strings.Repeat("-", 78)

	files := make(map[string]struct{})
	imports := 0
	for _, e := range entries {
		imports += len(e.records)
		for _, r := range e.records {
			files[r.File] = struct{}{}
		}
	}
	project := opts.Project
	if project == "" {
		project = "Unknown"
	}

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "# Python Package Requirements")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "# Generated: %s\n", opts.Now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "# Project:   %s\n", project)
	fmt.Fprintf(w, "# Files:     %d Python files with third-party imports\n", len(files))
	fmt.Fprintf(w, "# Packages:  %d third-party packages\n", len(entries))
	fmt.Fprintf(w, "# Imports:   %d import statements\n", imports)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "# DEPENDENCY OVERVIEW")
	fmt.Fprintln(w, thin)
	for _, e := range entries {
		fmt.Fprintf(w, "# %-20s → %d file(s), %d import(s)\n", e.dist, e.files, len(e.records))
	}
	fmt.Fprintln(w, thin)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "# DETAILED PACKAGE INFORMATION")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	dists := make([]string, 0, len(entries))
	for _, e := range entries {
		dists = append(dists, e.dist)
		fmt.Fprintf(w, "# %s\n", e.dist)
		fmt.Fprintf(w, "# %s\n", strings.Repeat("-", len(e.dist)))
		fmt.Fprintln(w, e.dist)
		if len(e.modules) > 1 || e.modules[0] != e.dist {
			fmt.Fprintf(w, "#   modules: %s\n", strings.Join(e.modules, ", "))
		}
		writeProvenance(w, e.records)
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "# FILE USAGE STATISTICS")
	fmt.Fprintln(w, rule)
	included := make(map[string]struct{})
	for _, e := range entries {
		for _, m := range e.modules {
			included[m] = struct{}{}
		}
	}
	for _, f := range t.Files() {
		var recs []model.ImportRecord
		for _, r := range t.FileRecords(f) {
			if _, ok := included[r.Module]; ok {
				recs = append(recs, r)
			}
		}
		if len(recs) == 0 {
			continue
		}
		sortRecords(recs)
		fmt.Fprintf(w, "# %s: %d third-party imports\n", f, len(recs))
		for _, r := range recs {
			fmt.Fprintf(w, "#     L%3d: %s (%s)\n", r.Line, r.Module, r.Resolved)
		}
		fmt.Fprintln(w, "#")
	}

	if len(opts.Local) > 0 {
		local := slices.Clone(opts.Local)
		slices.SortFunc(local, func(a, b model.LocalModule) int { return strings.Compare(a.Module, b.Module) })
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# LOCAL MODULES")
		fmt.Fprintln(w, rule)
		for _, l := range local {
			fmt.Fprintf(w, "# %-20s → Local module: %s\n", l.Module, filepath.ToSlash(l.Path))
		}
		fmt.Fprintln(w, "#")
	}

	if len(opts.Failed) > 0 {
		failed := slices.Clone(opts.Failed)
		slices.SortFunc(failed, func(a, b model.Outcome) int { return strings.Compare(a.Dist, b.Dist) })
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# INSTALLATION FAILED")
		fmt.Fprintln(w, rule)
		for _, o := range failed {
			fmt.Fprintf(w, "# %-20s → %s\n", o.Dist, oneLine(o.Reason))
			if len(o.Modules) > 0 {
				fmt.Fprintf(w, "#     modules: %s\n", strings.Join(o.Modules, ", "))
			}
		}
		fmt.Fprintln(w, "#")
	}

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "# End of requirements.txt")
	_ = w.Flush()
	return buf.Bytes(), dists
}

// collect groups the installable modules of t by resolved distribution.
func collect(t *track.Tracker, opts Options) []entry {
	skip := make(map[string]struct{})
	for _, l := range opts.Local {
		skip[l.Module] = struct{}{}
	}
	for _, o := range opts.Failed {
		for _, m := range o.Modules {
			skip[m] = struct{}{}
		}
	}

	byDist := make(map[string]*entry)
	for _, m := range t.External() {
		if _, ok := skip[m]; ok {
			continue
		}
		dist := t.Resolved(m)
		e, ok := byDist[dist]
		if !ok {
			e = &entry{dist: dist}
			byDist[dist] = e
		}
		e.modules = append(e.modules, m)
		e.records = append(e.records, t.Records(m)...)
	}

	out := make([]entry, 0, len(byDist))
	for _, d := range sortedKeys(byDist) {
		e := byDist[d]
		sortRecords(e.records)
		files := make(map[string]struct{})
		for _, r := range e.records {
			files[r.File] = struct{}{}
		}
		e.files = len(files)
		out = append(out, *e)
	}
	return out
}

func writeProvenance(w *bufio.Writer, recs []model.ImportRecord) {
	for i, r := range recs {
		if i == 0 || recs[i-1].File != r.File {
			fmt.Fprintf(w, "#   %s:\n", r.File)
		} else if recs[i-1].Line == r.Line && recs[i-1].Statement == r.Statement {
			// import a, b where both map here
			continue
		}
		lines := strings.Split(strings.ReplaceAll(r.Statement, "\r\n", "\n"), "\n")
		fmt.Fprintf(w, "#     L%3d: %s\n", r.Line, lines[0])
		for _, l := range lines[1:] {
			fmt.Fprintf(w, "#           %s\n", l)
		}
	}
}

func sortRecords(recs []model.ImportRecord) {
	slices.SortStableFunc(recs, func(a, b model.ImportRecord) int {
		if c := strings.Compare(a.File, b.File); c != 0 {
			return c
		}
		if a.Line != b.Line {
			return a.Line - b.Line
		}
		return strings.Compare(a.Module, b.Module)
	})
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown error"
	}
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\n", " ")), " ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func writeAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
