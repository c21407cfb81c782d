package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// backupExisting copies path to <path>.backup_<timestamp> if path exists and
// returns the backup name.
func backupExisting(path string, now time.Time) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading previous manifest: %w", err)
	}

	base := path + ".backup_" + now.Format(backupLayout)
	name := base
	for n := 1; ; n++ {
		if _, err := os.Lstat(name); errors.Is(err, fs.ErrNotExist) {
			break
		}
		name = fmt.Sprintf("%s_%d", base, n)
	}
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return "", fmt.Errorf("writing backup: %w", err)
	}
	return name, nil
}

// Backups lists the backups of path, newest first.
func Backups(path string) []string {
	matches, err := filepath.Glob(escapeGlob(path) + ".backup_*")
	if err != nil {
		return nil
	}
	type stamped struct {
		name string
		mod  time.Time
	}
	files := make([]stamped, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, stamped{m, info.ModTime()})
	}
	slices.SortFunc(files, func(a, b stamped) int {
		if c := b.mod.Compare(a.mod); c != 0 {
			return c
		}
		return strings.Compare(b.name, a.name)
	})
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.name
	}
	return out
}

// pruneBackups removes all but the keep newest backups. Failures are ignored.
func pruneBackups(path string, keep int) {
	backups := Backups(path)
	if len(backups) <= keep {
		return
	}
	for _, old := range backups[keep:] {
		_ = os.Remove(old)
	}
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`)
	if filepath.Separator == '\\' {
		return s
	}
	return r.Replace(s)
}
