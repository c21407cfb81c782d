// Package ranking orders modules by how widely a project uses them.
package ranking

import (
	"cmp"
	"slices"

	"github.com/phobologic/reqscan/internal/model"
)

// ByUsage returns a sorted copy of stats: most importing files first, then
// most occurrences, then module name.
func ByUsage(stats []model.ModuleStats) []model.ModuleStats {
	out := slices.Clone(stats)
	slices.SortStableFunc(out, func(a, b model.ModuleStats) int {
		if c := cmp.Compare(b.Files, a.Files); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Occurrences, a.Occurrences); c != 0 {
			return c
		}
		return cmp.Compare(a.Module, b.Module)
	})
	return out
}

// Top returns the n most used modules. If n is <= 0 or >= len(stats), all
// modules are returned, still ranked.
func Top(stats []model.ModuleStats, n int) []model.ModuleStats {
	ranked := ByUsage(stats)
	if n <= 0 || n >= len(ranked) {
		return ranked
	}
	return ranked[:n]
}
