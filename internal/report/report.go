// Package report writes a machine-readable YAML record of a run.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/reqscan/internal/model"
)

// NewRunID returns a fresh identifier for one run.
func NewRunID() string {
	return uuid.New().String()
}

// Report is the serialized form of a run.
type Report struct {
	RunID     string    `yaml:"run_id"`
	Generated time.Time `yaml:"generated"`
	Project   string    `yaml:"project"`
	Root      string    `yaml:"root"`
	Manifest  string    `yaml:"manifest,omitempty"`
	Files     int       `yaml:"files"`
	Packages  []Package `yaml:"packages"`
	Local     []Local   `yaml:"local,omitempty"`
	Failed    []Failure `yaml:"failed,omitempty"`
}

// Package is one resolved distribution.
type Package struct {
	Dist    string   `yaml:"dist"`
	Modules []string `yaml:"modules"`
	Status  string   `yaml:"status"`
	Files   int      `yaml:"files"`
	Imports int      `yaml:"imports"`
}

// Local is one project-local module.
type Local struct {
	Module string `yaml:"module"`
	Path   string `yaml:"path"`
}

// Failure is one distribution that could not be installed.
type Failure struct {
	Dist      string   `yaml:"dist"`
	Modules   []string `yaml:"modules"`
	State     string   `yaml:"state"`
	Reason    string   `yaml:"reason"`
	Attempted []string `yaml:"attempted,omitempty"`
}

// FromSummary converts a run summary.
func FromSummary(s *model.Summary, manifest string, now time.Time) Report {
	r := Report{
		RunID:     s.RunID,
		Generated: now.UTC().Truncate(time.Second),
		Project:   s.Project,
		Root:      s.Root,
		Manifest:  manifest,
		Files:     s.Files,
		Packages:  make([]Package, 0, len(s.Packages)),
	}
	for _, p := range s.Packages {
		r.Packages = append(r.Packages, Package{
			Dist:    p.Dist,
			Modules: p.Modules,
			Status:  string(p.Kind),
			Files:   p.Files,
			Imports: p.Occurrences,
		})
	}
	for _, l := range s.Local {
		r.Local = append(r.Local, Local{Module: l.Module, Path: filepath.ToSlash(l.Path)})
	}
	for _, o := range s.Failed {
		r.Failed = append(r.Failed, Failure{
			Dist:      o.Dist,
			Modules:   o.Modules,
			State:     string(o.State),
			Reason:    o.Reason,
			Attempted: o.Attempted,
		})
	}
	return r
}

// Write marshals r to path, creating parent directories.
func Write(path string, r Report) error {
	data, err := yaml.Marshal(&r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// Read loads a report written by Write.
func Read(path string) (Report, error) {
	var r Report
	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("reading report: %w", err)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decoding report %s: %w", path, err)
	}
	return r, nil
}
