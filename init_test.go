package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phobologic/reqscan/internal/config"
)

// TestApplySectionCreate verifies that applySection on empty content wraps the
// section in sentinels with a trailing newline.
func TestApplySectionCreate(t *testing.T) {
	t.Parallel()
	section := sentinelStart + "\nbody\n" + sentinelEnd
	got := applySection("", section)
	if !strings.Contains(got, sentinelStart) {
		t.Error("missing sentinel start")
	}
	if !strings.Contains(got, sentinelEnd) {
		t.Error("missing sentinel end")
	}
	if !strings.Contains(got, "body") {
		t.Error("missing body")
	}
}

// TestApplySectionAppend verifies that existing content without a sentinel block
// is preserved and the section is appended.
func TestApplySectionAppend(t *testing.T) {
	t.Parallel()
	existing := "# My Project\n\nSome existing content.\n"
	section := sentinelStart + "\nnew content\n" + sentinelEnd
	got := applySection(existing, section)

	if !strings.HasPrefix(got, existing) {
		t.Errorf("existing content should be preserved at start:\n%s", got)
	}
	if !strings.Contains(got, "new content") {
		t.Error("new content missing")
	}
}

// TestApplySectionUpdate verifies that an existing sentinel block is replaced
// precisely, leaving surrounding content intact.
func TestApplySectionUpdate(t *testing.T) {
	t.Parallel()
	before := "# Project\n\n"
	after := "\n\n## Other Section\n"
	old := before + sentinelStart + "\nold content\n" + sentinelEnd + after

	section := sentinelStart + "\nnew content\n" + sentinelEnd
	got := applySection(old, section)

	if !strings.HasPrefix(got, before) {
		t.Errorf("content before sentinel should be preserved:\n%s", got)
	}
	if !strings.HasSuffix(got, after) {
		t.Errorf("content after sentinel should be preserved:\n%s", got)
	}
	if strings.Contains(got, "old content") {
		t.Error("old content should be replaced")
	}
	if !strings.Contains(got, "new content") {
		t.Error("new content missing")
	}
}

func TestInitCreatesFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	if err := runInit(dir, initFlags{}, &stdout, &stderr); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	cfg, err := os.ReadFile(filepath.Join(dir, config.FileName))
	if err != nil {
		t.Fatalf("config not created: %v", err)
	}
	if !strings.Contains(string(cfg), `output = "requirements.txt"`) {
		t.Errorf("config missing default output:\n%s", cfg)
	}

	ignore, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		t.Fatalf(".gitignore not created: %v", err)
	}
	for _, want := range []string{sentinelStart, "requirements.txt.backup_*", sentinelEnd} {
		if !strings.Contains(string(ignore), want) {
			t.Errorf(".gitignore missing %q:\n%s", want, ignore)
		}
	}
}

// TestInitConfigLoads verifies the written config is accepted by config.Load.
func TestInitConfigLoads(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	if err := runInit(dir, initFlags{}, &stdout, &stderr); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	cfg, used, err := config.Load(dir, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if used == "" {
		t.Error("written config was not picked up")
	}
	if cfg.Output != "requirements.txt" {
		t.Errorf("Output = %q", cfg.Output)
	}
}

// TestInitDryRun verifies that --dry-run prints both files and writes nothing.
func TestInitDryRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	if err := runInit(dir, initFlags{dryRun: true}, &stdout, &stderr); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	for _, name := range []string{config.FileName, ".gitignore"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			t.Errorf("--dry-run created %s", name)
		}
	}
	out := stdout.String()
	for _, want := range []string{"--- " + filepath.Join(dir, config.FileName), sentinelStart, "output ="} {
		if !strings.Contains(out, want) {
			t.Errorf("dry-run output missing %q:\n%s", want, out)
		}
	}
}

// TestInitKeepsExistingConfig verifies an existing config survives without
// --force and is replaced with it.
func TestInitKeepsExistingConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)
	custom := "output = \"deps.txt\"\n"
	if err := os.WriteFile(path, []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if err := runInit(dir, initFlags{}, &stdout, &stderr); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != custom {
		t.Errorf("config overwritten without --force:\n%s", data)
	}
	if !strings.Contains(stderr.String(), "--force") {
		t.Errorf("expected hint about --force, got %q", stderr.String())
	}

	if err := runInit(dir, initFlags{force: true}, &stdout, &stderr); err != nil {
		t.Fatalf("runInit --force: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) == custom {
		t.Error("--force did not overwrite config")
	}
}

// TestInitIdempotent verifies that repeated runs leave a single sentinel
// block and keep surrounding .gitignore content.
func TestInitIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ignorePath := filepath.Join(dir, ".gitignore")
	if err := os.WriteFile(ignorePath, []byte("__pycache__/\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	for i := 0; i < 2; i++ {
		if err := runInit(dir, initFlags{}, &stdout, &stderr); err != nil {
			t.Fatalf("runInit #%d: %v", i+1, err)
		}
	}
	first, _ := os.ReadFile(ignorePath)
	if err := runInit(dir, initFlags{}, &stdout, &stderr); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(ignorePath)

	if string(first) != string(second) {
		t.Errorf("not idempotent:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
	if n := strings.Count(string(second), sentinelStart); n != 1 {
		t.Errorf("sentinel start count = %d, want 1", n)
	}
	if !strings.HasPrefix(string(second), "__pycache__/\n") {
		t.Errorf("existing .gitignore content lost:\n%s", second)
	}
}

func TestGenerateSectionUsesOutputBase(t *testing.T) {
	t.Parallel()
	got := generateSection(filepath.Join("build", "deps.txt"))
	if !strings.Contains(got, "\ndeps.txt.backup_*\n") {
		t.Errorf("section = %q", got)
	}
	if !strings.HasPrefix(got, sentinelStart) || !strings.HasSuffix(got, sentinelEnd) {
		t.Errorf("section not wrapped in sentinels: %q", got)
	}
}

// TestInitCommand runs init through the CLI.
func TestInitCommand(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if _, stderr, err := runCLI(t, "init", dir); err != nil {
		t.Fatalf("init: %v\nstderr: %s", err, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, config.FileName)); err != nil {
		t.Errorf("config not written: %v", err)
	}
}

// TestInitUnreadableGitignore verifies that a .gitignore that exists but
// cannot be read stops init before anything is written.
func TestInitUnreadableGitignore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".gitignore"), 0o755); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	err := runInit(dir, initFlags{}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "reading") {
		t.Fatalf("expected read error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, config.FileName)); err == nil {
		t.Error("config written despite unreadable .gitignore")
	}
	if info, err := os.Stat(filepath.Join(dir, ".gitignore")); err != nil || !info.IsDir() {
		t.Error(".gitignore was replaced")
	}
}
