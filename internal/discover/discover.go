// Package discover finds source files in a project tree.
package discover

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/reqscan/internal/lang"
)

// FileEntry represents a discovered source file.
type FileEntry struct {
	Path     string // Relative to project root
	Language string
}

// Options controls which files a scan returns. The zero value scans
// recursively with no exclusions and ignores .gitignore.
type Options struct {
	ExcludeDirs      []string // exact directory names, anywhere in the path
	ExcludeFiles     []string // exact file names
	ExcludePatterns  []string // case-insensitive file name substrings
	NoRecurse        bool
	RespectGitignore bool
}

// DefaultExcludeDirs are skipped unless the configuration says otherwise.
var DefaultExcludeDirs = []string{
	"__pycache__", ".git", ".hg", ".svn", ".venv", "venv", "env", ".env",
	"node_modules", ".idea", ".vscode", "build", "dist", ".tox",
	".pytest_cache", ".mypy_cache", ".ruff_cache",
}

// DefaultExcludePatterns drop installer scripts and test modules.
var DefaultExcludePatterns = []string{"install_packages", "package_installer", "test_"}

// ScanError reports a root that could not be scanned at all.
type ScanError struct {
	Root string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scanning %s: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ErrNotDirectory is wrapped by ScanError when the root is a regular file.
var ErrNotDirectory = errors.New("not a directory")

// Files discovers source files under root. A root that is missing, not a
// directory, or unreadable yields an empty list and a *ScanError; entries
// that fail mid-walk are skipped.
func Files(root string, opts Options) ([]FileEntry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &ScanError{Root: root, Err: ErrNotDirectory}
	}
	if _, err := os.ReadDir(root); err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}

	excludeDirs := toSet(opts.ExcludeDirs)
	excludeFiles := toSet(opts.ExcludeFiles)
	patterns := make([]string, 0, len(opts.ExcludePatterns))
	for _, p := range opts.ExcludePatterns {
		if p != "" {
			patterns = append(patterns, strings.ToLower(p))
		}
	}

	var gitFiles map[string]struct{}
	var gi *ignore.GitIgnore
	if opts.RespectGitignore {
		gitFiles = gitLsFiles(root)
		if gitFiles == nil {
			gi = loadGitignore(root)
		}
	}

	var results []FileEntry

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip errors
		}

		name := d.Name()

		if d.IsDir() {
			if path == root {
				return nil
			}
			if opts.NoRecurse {
				return filepath.SkipDir
			}
			if _, skip := excludeDirs[name]; skip || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".egg-info") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") {
			return nil
		}

		// Skip symlinks
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		langName := lang.ForExtension(filepath.Ext(name))
		if langName == "" {
			return nil
		}

		if _, skip := excludeFiles[name]; skip {
			return nil
		}
		lower := strings.ToLower(name)
		for _, p := range patterns {
			if strings.Contains(lower, p) {
				return nil
			}
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		if gitFiles != nil {
			if _, ok := gitFiles[filepath.ToSlash(rel)]; !ok {
				return nil
			}
		} else if gi != nil && gi.MatchesPath(filepath.ToSlash(rel)) {
			return nil
		}

		results = append(results, FileEntry{Path: rel, Language: langName})
		return nil
	})
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})

	return results, nil
}

func toSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

func gitLsFiles(root string) map[string]struct{} {
	gitDir := filepath.Join(root, ".git")
	info, err := os.Stat(gitDir)
	if err != nil || !info.IsDir() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	files := make(map[string]struct{})
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			files[line] = struct{}{}
		}
	}
	return files
}

func loadGitignore(root string) *ignore.GitIgnore {
	path := filepath.Join(root, ".gitignore")
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil
	}
	return gi
}
