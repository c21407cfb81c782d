// Package track aggregates import records by module and by file.
package track

import (
	"sort"

	"github.com/phobologic/reqscan/internal/model"
)

// Tracker is an append-only index of import records. Every record is
// reachable both from its module and from its file. It is not safe for
// concurrent use; feed it from one goroutine.
type Tracker struct {
	byModule map[string][]*model.ImportRecord
	byFile   map[string][]*model.ImportRecord
	files    []string // first-seen order
	builtin  func(string) bool
}

// New returns an empty tracker. isBuiltin classifies modules that ship with
// the language runtime; nil treats every module as external.
func New(isBuiltin func(string) bool) *Tracker {
	if isBuiltin == nil {
		isBuiltin = func(string) bool { return false }
	}
	return &Tracker{
		byModule: make(map[string][]*model.ImportRecord),
		byFile:   make(map[string][]*model.ImportRecord),
		builtin:  isBuiltin,
	}
}

// Add appends one record. Identical records are kept; repetition feeds the
// occurrence counts.
func (t *Tracker) Add(rec model.ImportRecord) {
	if rec.Resolved == "" {
		rec.Resolved = rec.Module
	}
	r := &rec
	t.byModule[rec.Module] = append(t.byModule[rec.Module], r)
	if _, seen := t.byFile[rec.File]; !seen {
		t.files = append(t.files, rec.File)
	}
	t.byFile[rec.File] = append(t.byFile[rec.File], r)
}

// Modules returns every module name seen, sorted.
func (t *Tracker) Modules() []string {
	return sortedKeys(t.byModule)
}

// External returns the seen modules that are not built in, sorted.
func (t *Tracker) External() []string {
	var out []string
	for _, m := range t.Modules() {
		if !t.builtin(m) {
			out = append(out, m)
		}
	}
	return out
}

// Files returns every file that produced at least one record, sorted.
func (t *Tracker) Files() []string {
	out := append([]string(nil), t.files...)
	sort.Strings(out)
	return out
}

// Records returns copies of the records for module in insertion order.
func (t *Tracker) Records(module string) []model.ImportRecord {
	return copyRecords(t.byModule[module])
}

// FileRecords returns copies of the records for file in insertion order.
func (t *Tracker) FileRecords(file string) []model.ImportRecord {
	return copyRecords(t.byFile[file])
}

// Len returns the total number of records.
func (t *Tracker) Len() int {
	n := 0
	for _, recs := range t.byModule {
		n += len(recs)
	}
	return n
}

// Resolved returns the distribution name recorded for module, or "" if the
// module was never seen.
func (t *Tracker) Resolved(module string) string {
	recs := t.byModule[module]
	if len(recs) == 0 {
		return ""
	}
	return recs[0].Resolved
}

// SetResolved assigns dist as the distribution name of every record of
// module. Records are shared between both indexes, so the file view sees the
// change too.
func (t *Tracker) SetResolved(module, dist string) {
	for _, r := range t.byModule[module] {
		r.Resolved = dist
	}
}

// Stats returns usage counts for module; ok is false for unseen modules.
func (t *Tracker) Stats(module string) (model.ModuleStats, bool) {
	recs := t.byModule[module]
	if len(recs) == 0 {
		return model.ModuleStats{}, false
	}
	files := make(map[string]struct{})
	for _, r := range recs {
		files[r.File] = struct{}{}
	}
	return model.ModuleStats{
		Module:      module,
		Files:       len(files),
		Occurrences: len(recs),
		Resolved:    recs[0].Resolved,
	}, true
}

// AllStats returns stats for each listed module that has been seen, in the
// order given.
func (t *Tracker) AllStats(modules []string) []model.ModuleStats {
	out := make([]model.ModuleStats, 0, len(modules))
	for _, m := range modules {
		if s, ok := t.Stats(m); ok {
			out = append(out, s)
		}
	}
	return out
}

func copyRecords(recs []*model.ImportRecord) []model.ImportRecord {
	if len(recs) == 0 {
		return nil
	}
	out := make([]model.ImportRecord, len(recs))
	for i, r := range recs {
		out[i] = *r
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
