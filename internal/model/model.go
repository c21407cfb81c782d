// Package model defines core data structures for reqscan.
package model

// ImportKind indicates the syntactic form an import was found in.
type ImportKind string

const (
	PlainImport   ImportKind = "import"
	FromImport    ImportKind = "from"
	DynamicImport ImportKind = "dynamic"
)

// ImportRecord is one observed import occurrence.
type ImportRecord struct {
	Module    string // first dotted segment only
	Kind      ImportKind
	Statement string // raw statement text, possibly multi-line, trimmed
	Line      int    // 1-based line of the statement's first line
	File      string // project-relative path
	Resolved  string // distribution name to install
}

// State is a step of the install/verify state machine.
type State string

const (
	Unchecked        State = "unchecked"
	AlreadyInstalled State = "already-installed"
	NeedsInstall     State = "needs-install"
	InstallSucceeded State = "install-succeeded"
	InstallFailed    State = "install-failed"
	Verified         State = "verified"
	VerifyFailed     State = "verify-failed"
)

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	switch s {
	case AlreadyInstalled, Verified, VerifyFailed, InstallFailed:
		return true
	}
	return false
}

// OutcomeKind summarizes how a distribution ended up.
type OutcomeKind string

const (
	AlreadySatisfied    OutcomeKind = "already-satisfied"
	Installed           OutcomeKind = "installed"
	InstalledViaVariant OutcomeKind = "installed-via-variant"
	Failed              OutcomeKind = "failed"
	Skipped             OutcomeKind = "skipped" // resolved without touching the package manager
)

// Outcome is the result of resolving one distribution (and every module
// that maps to it) to an installable unit.
type Outcome struct {
	Dist      string   // distribution name that was first tried
	Modules   []string // module names sharing Dist, sorted
	State     State
	Variant   string   // distribution name that actually installed, if not Dist
	Reason    string   // failure text for InstallFailed / VerifyFailed
	Attempted []string // every distribution name tried, in order
}

// Kind maps the terminal state onto the resolution outcome.
func (o Outcome) Kind() OutcomeKind {
	switch o.State {
	case AlreadyInstalled:
		return AlreadySatisfied
	case Verified:
		if o.Variant != "" {
			return InstalledViaVariant
		}
		return Installed
	}
	return Failed
}

// Final returns the distribution name that should appear in the manifest.
func (o Outcome) Final() string {
	if o.Variant != "" {
		return o.Variant
	}
	return o.Dist
}

// LocalModule maps a module name to the project file or package directory
// that provides it.
type LocalModule struct {
	Module string
	Path   string
}

// ModuleStats is the per-module usage summary built from the tracker.
type ModuleStats struct {
	Module      string
	Files       int // distinct files importing the module
	Occurrences int
	Resolved    string
}

// Summary is the analyzed run, ready for serialization.
type Summary struct {
	RunID    string
	Project  string
	Root     string
	Files    int
	Packages []PackageRow
	Local    []LocalModule
	Failed   []Outcome
	// Usage lists external modules by how widely they are imported.
	Usage []ModuleStats
}

// PackageRow is one resolved distribution in a Summary.
type PackageRow struct {
	Dist        string
	Modules     []string
	Kind        OutcomeKind
	Files       int
	Occurrences int
}
