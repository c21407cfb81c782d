package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phobologic/reqscan/internal/config"
)

const (
	sentinelStart = "# reqscan:start"
	sentinelEnd   = "# reqscan:end"
)

type initFlags struct {
	dryRun bool
	force  bool
}

// newInitCmd implements `reqscan init`, which writes a default config file
// and keeps manifest backups out of version control.
func newInitCmd(stdout, stderr io.Writer) *cobra.Command {
	var f initFlags
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default " + config.FileName + " and ignore manifest backups",
		Long: `Write a default ` + config.FileName + ` into dir (default: current directory)
and add a .gitignore block for requirements backups. The .gitignore block is
wrapped in sentinel comments so it is replaced in place on later runs without
touching surrounding content. An existing config file is left alone unless
--force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(dir, f, stdout, stderr)
		},
	}
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print what would be written without modifying any file")
	cmd.Flags().BoolVar(&f.force, "force", false, "overwrite an existing "+config.FileName)
	return cmd
}

func runInit(dir string, f initFlags, stdout, stderr io.Writer) error {
	cfg := config.Default()
	var buf bytes.Buffer
	if err := config.Write(&buf, cfg); err != nil {
		return err
	}

	cfgPath := filepath.Join(dir, config.FileName)
	_, statErr := os.Stat(cfgPath)
	cfgExists := statErr == nil
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", cfgPath, statErr)
	}

	ignorePath := filepath.Join(dir, ".gitignore")
	existing, err := os.ReadFile(ignorePath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", ignorePath, err)
	}
	updated := applySection(string(existing), generateSection(cfg.Output))

	if f.dryRun {
		if !cfgExists || f.force {
			_, _ = fmt.Fprintf(stdout, "--- %s\n%s", cfgPath, buf.String())
		}
		_, _ = fmt.Fprintf(stdout, "--- %s\n%s", ignorePath, updated)
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if cfgExists && !f.force {
		_, _ = fmt.Fprintf(stderr, "%s exists, leaving it (use --force to overwrite)\n", cfgPath)
	} else {
		if err := os.WriteFile(cfgPath, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", cfgPath, err)
		}
		_, _ = fmt.Fprintf(stderr, "wrote %s\n", cfgPath)
	}

	if err := os.WriteFile(ignorePath, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", ignorePath, err)
	}
	_, _ = fmt.Fprintf(stderr, "wrote reqscan section to %s\n", ignorePath)
	return nil
}

// generateSection returns the sentinel-wrapped .gitignore block for backups
// of the manifest at output.
func generateSection(output string) string {
	lines := []string{
		sentinelStart,
		"# Backups of the generated requirements file.",
		filepath.ToSlash(filepath.Base(output)) + ".backup_*",
		sentinelEnd,
	}
	return strings.Join(lines, "\n")
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not. It is a pure function for easy testing.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	// Append, ensuring a blank line separator.
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if len(content) > 0 {
		content += "\n"
	}
	return content + section + "\n"
}
