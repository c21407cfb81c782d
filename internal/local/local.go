// Package local detects imports that refer to modules inside the scanned
// project rather than to published distributions.
package local

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/phobologic/reqscan/internal/lang"
)

// Find looks for module under each root in order. A source file named after
// the module wins over a package directory in the same root; the first root
// with either is returned. Case sensitivity is whatever the filesystem does.
func Find(module string, roots []string) (string, bool) {
	module = strings.TrimSpace(module)
	if module == "" || strings.ContainsAny(module, `/\`) {
		return "", false
	}

	l := lang.Python
	for _, root := range roots {
		for _, ext := range l.Extensions {
			p := filepath.Join(root, module+ext)
			if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
				return p, true
			}
		}
		dir := filepath.Join(root, module)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if info, err := os.Stat(filepath.Join(dir, l.PackageMarker)); err == nil && info.Mode().IsRegular() {
			return dir, true
		}
	}
	return "", false
}

// SearchRoots returns root followed by every distinct directory that holds
// one of files (paths relative to root), sorted.
func SearchRoots(root string, files []string) []string {
	seen := map[string]struct{}{root: {}}
	var dirs []string
	for _, f := range files {
		d := filepath.Join(root, filepath.Dir(f))
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return append([]string{root}, dirs...)
}
