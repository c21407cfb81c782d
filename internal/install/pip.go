package install

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Default subprocess bounds.
const (
	DefaultInstallTimeout = 5 * time.Minute
	DefaultShowTimeout    = 30 * time.Second
)

const (
	timeoutSummary  = "installation timed out"
	noOutputSummary = "unknown error (no error output)"
)

// Error is a failed install attempt.
type Error struct {
	Dist    string
	Summary string
	// NotFound is set when the package index has no distribution by this name.
	NotFound bool
	Timeout  bool
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("installing %s: %s", e.Dist, e.Summary)
}

func (e *Error) Unwrap() error { return e.Err }

// PackageManager installs and inspects distributions.
type PackageManager interface {
	Install(ctx context.Context, dist string) error
	Show(ctx context.Context, dist string) bool
	Importable(ctx context.Context, module string) bool
	PostInstall(ctx context.Context, argv []string) error
	// Info describes an installed distribution, including the top-level
	// modules its files provide.
	Info(ctx context.Context, dist string) (*PackageInfo, error)
}

// Pip drives `python -m pip`.
type Pip struct {
	Python         string
	InstallTimeout time.Duration
	ShowTimeout    time.Duration
}

// NewPip returns a Pip using the given interpreter. Zero timeouts take the
// defaults.
func NewPip(python string, installTimeout, showTimeout time.Duration) *Pip {
	if python == "" {
		python = "python3"
	}
	if installTimeout <= 0 {
		installTimeout = DefaultInstallTimeout
	}
	if showTimeout <= 0 {
		showTimeout = DefaultShowTimeout
	}
	return &Pip{Python: python, InstallTimeout: installTimeout, ShowTimeout: showTimeout}
}

type result struct {
	stdout, stderr string
	err            error
	timedOut       bool
}

func (p *Pip) run(ctx context.Context, timeout time.Duration, args ...string) result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Python, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	err := cmd.Run()
	return result{
		stdout:   stdout.String(),
		stderr:   stderr.String(),
		err:      err,
		timedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
}

// Install runs `pip install dist`.
func (p *Pip) Install(ctx context.Context, dist string) error {
	if strings.TrimSpace(dist) == "" {
		return &Error{Dist: dist, Summary: "empty distribution name"}
	}
	r := p.run(ctx, p.InstallTimeout, "-m", "pip", "install", dist)
	if r.timedOut {
		return &Error{Dist: dist, Summary: timeoutSummary, Timeout: true, Err: context.DeadlineExceeded}
	}
	if r.err == nil {
		return nil
	}
	return &Error{
		Dist:     dist,
		Summary:  Summarize(r.stderr),
		NotFound: IsNotFound(r.stderr + "\n" + r.stdout),
		Err:      r.err,
	}
}

// Show reports whether `pip show dist` succeeds.
func (p *Pip) Show(ctx context.Context, dist string) bool {
	if strings.TrimSpace(dist) == "" {
		return false
	}
	return p.run(ctx, p.ShowTimeout, "-m", "pip", "show", dist).err == nil
}

// PackageInfo is the subset of `pip show -f` output reqscan uses.
type PackageInfo struct {
	Name     string
	Version  string
	Location string
	// TopLevel lists the importable top-level names found among the files.
	TopLevel []string
}

// Info runs `pip show -f dist` and parses the result.
func (p *Pip) Info(ctx context.Context, dist string) (*PackageInfo, error) {
	if strings.TrimSpace(dist) == "" {
		return nil, errors.New("empty distribution name")
	}
	r := p.run(ctx, p.ShowTimeout, "-m", "pip", "show", "-f", dist)
	if r.timedOut {
		return nil, fmt.Errorf("pip show %s: timed out", dist)
	}
	if r.err != nil {
		return nil, fmt.Errorf("pip show %s: %s: %w", dist, Summarize(r.stderr), r.err)
	}
	return ParseShow(r.stdout), nil
}

// ParseShow parses `pip show -f` output for a single distribution.
func ParseShow(output string) *PackageInfo {
	info := &PackageInfo{}
	seen := make(map[string]struct{})
	inFiles := false
	for _, line := range strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n") {
		if inFiles && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) {
			if name := topLevelName(strings.TrimSpace(line)); name != "" {
				if _, ok := seen[name]; !ok {
					seen[name] = struct{}{}
					info.TopLevel = append(info.TopLevel, name)
				}
			}
			continue
		}
		inFiles = false
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Name":
			info.Name = value
		case "Version":
			info.Version = value
		case "Location":
			info.Location = value
		case "Files":
			inFiles = true
		}
	}
	slices.Sort(info.TopLevel)
	return info
}

// topLevelName maps one installed file path to the module it makes
// importable, or "" for metadata, scripts and caches.
func topLevelName(path string) string {
	path = filepath.ToSlash(path)
	head, rest, nested := strings.Cut(path, "/")
	if head == "" || strings.HasPrefix(head, ".") || head == "__pycache__" {
		return ""
	}
	for _, suffix := range []string{".dist-info", ".egg-info", ".data"} {
		if strings.HasSuffix(head, suffix) {
			return ""
		}
	}
	if nested && rest != "" {
		return head
	}
	switch ext := filepath.Ext(head); ext {
	case ".py", ".so", ".pyd":
		name, _, _ := strings.Cut(head, ".")
		return name
	}
	return ""
}

const findSpecScript = "import importlib.util, sys; sys.exit(0 if importlib.util.find_spec(sys.argv[1]) else 1)"

// Importable reports whether the interpreter can locate module.
func (p *Pip) Importable(ctx context.Context, module string) bool {
	if strings.TrimSpace(module) == "" {
		return false
	}
	return p.run(ctx, p.ShowTimeout, "-c", findSpecScript, module).err == nil
}

// PostInstall runs `python -m <argv...>`.
func (p *Pip) PostInstall(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return nil
	}
	r := p.run(ctx, p.InstallTimeout, append([]string{"-m"}, argv...)...)
	if r.timedOut {
		return fmt.Errorf("post-install %s: timed out", argv[0])
	}
	if r.err != nil {
		return fmt.Errorf("post-install %s: %s: %w", argv[0], Summarize(r.stderr), r.err)
	}
	return nil
}

var severityWords = []string{"ERROR", "FAILED", "EXCEPTION", "WARNING"}

// Summarize reduces package-manager error output to one message: the last
// line carrying a severity keyword, else the last three lines.
func Summarize(output string) string {
	output = strings.TrimSpace(strings.ReplaceAll(output, "\r\n", "\n"))
	if output == "" {
		return noOutputSummary
	}
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		upper := strings.ToUpper(lines[i])
		for _, w := range severityWords {
			if strings.Contains(upper, w) {
				return strings.TrimSpace(lines[i])
			}
		}
	}
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

var notFoundMarkers = []string{
	"no matching distribution found",
	"could not find a version that satisfies",
}

// IsNotFound reports whether output says the index has no such distribution.
func IsNotFound(output string) bool {
	lower := strings.ToLower(output)
	for _, m := range notFoundMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
