// reqscan finds the third-party imports of a Python project, installs them,
// and writes a provenance-annotated requirements file.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/phobologic/reqscan/internal/config"
	"github.com/phobologic/reqscan/internal/logging"
	"github.com/phobologic/reqscan/internal/pipeline"
	"github.com/phobologic/reqscan/internal/report"
	"github.com/phobologic/reqscan/internal/toon"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// scanFlags holds the root command's flags.
type scanFlags struct {
	output     string
	configPath string
	noInstall  bool
	reportPath string
	top        int
	verbose    bool
	dynamic    bool
	fromStdin  bool
	noManifest bool
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := newRootCmd(stdin, stdout, stderr)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var f scanFlags

	cmd := &cobra.Command{
		Use:   "reqscan [path]",
		Short: "Install a Python project's imports and write requirements.txt",
		Long: `reqscan scans a Python project for import statements, separates
standard-library and project-local modules from third-party ones, maps the
rest to the distribution names they are published under, installs whatever is
missing with pip, and writes a requirements file annotated with the file and
line of every import.

With --from-stdin, import statements are read from standard input instead of
scanning path, and recorded under the pseudo-file "manual_imports". The
manifest is then written relative to path.

A summary is printed to stdout in TOON format.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			return scan(cmd.Context(), root, f, stdin, stdout, stderr)
		},
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("reqscan {{.Version}}\n")

	flags := cmd.Flags()
	flags.StringVarP(&f.output, "output", "o", "", "manifest path (default from config, requirements.txt)")
	flags.StringVarP(&f.configPath, "config", "c", "", "config file (default <path>/"+config.FileName+")")
	flags.BoolVar(&f.noInstall, "no-install", false, "resolve names only; do not run pip")
	flags.StringVar(&f.reportPath, "report", "", "also write a YAML run report to this file")
	flags.IntVarP(&f.top, "top", "n", 0, "limit the usage table to the n most imported modules")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVar(&f.dynamic, "dynamic", false, "also detect importlib.import_module and __import__ calls")
	flags.BoolVar(&f.fromStdin, "from-stdin", false, "read import statements from stdin instead of scanning path")
	flags.BoolVar(&f.noManifest, "no-manifest", false, "do not write the requirements file")

	cmd.AddCommand(newInitCmd(stdout, stderr), newVersionCmd(stdout))
	return cmd
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(stdout, "reqscan %s\n", version)
		},
	}
}

func scan(ctx context.Context, root string, f scanFlags, stdin io.Reader, stdout, stderr io.Writer) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", root)
	}

	logger := logging.New(stderr, f.verbose)

	cfg, used, err := config.Load(root, f.configPath)
	if err != nil {
		return err
	}
	if used != "" {
		logger.Debug("loaded config", "path", used)
	}
	if f.dynamic {
		cfg.DetectDynamicImports = true
	}

	opts := pipeline.Options{
		Root:       root,
		Config:     cfg,
		Output:     f.output,
		NoInstall:  f.noInstall,
		NoManifest: f.noManifest,
		Top:        f.top,
		Logger:     logger,
	}
	if f.fromStdin {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		opts.Manual = true
		opts.Snippet = string(data)
	}

	res, err := pipeline.Run(ctx, opts)
	if err != nil {
		if pipeline.IsManifestError(err) {
			return fmt.Errorf("manifest not written: %w", err)
		}
		return err
	}

	if f.reportPath != "" {
		manifestPath := ""
		if res.Manifest != nil {
			manifestPath = res.Manifest.Path
		}
		r := report.FromSummary(res.Summary, manifestPath, time.Now())
		if err := report.Write(f.reportPath, r); err != nil {
			return err
		}
		logger.Info("wrote report", "path", f.reportPath)
	}

	_, _ = fmt.Fprintln(stdout, toon.Encode(res.Summary))
	return nil
}
