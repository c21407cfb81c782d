package resolve

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestResolveDirect(t *testing.T) {
	t.Parallel()

	r := New(DefaultTables(), nil, Options{})
	tests := map[string]string{
		"PIL":           "pillow",
		"cv2":           "opencv-python",
		"sklearn":       "scikit-learn",
		"bs4":           "beautifulsoup4",
		"dotenv":        "python-dotenv",
		"yaml":          "pyyaml",
		"OpenSSL":       "pyopenssl",
		"Crypto":        "pycryptodome",
		"dateutil":      "python-dateutil",
		"MySQLdb":       "mysqlclient",
		"pkg_resources": "setuptools",
		"win32api":      "pywin32",
		"pythoncom":     "pywin32",
		"pywintypes":    "pywin32",
	}
	for module, want := range tests {
		if got := r.Resolve(module); got != want {
			t.Errorf("Resolve(%q) = %q, want %q", module, got, want)
		}
	}
}

func TestResolvePatternAndFallback(t *testing.T) {
	t.Parallel()

	r := New(DefaultTables(), nil, Options{})
	if got := r.Resolve("win32timezone"); got != "pywin32" {
		t.Errorf("Resolve(win32timezone) = %q", got)
	}
	if got := r.Resolve("win32serviceutil"); got != "pywin32" {
		t.Errorf("Resolve(win32serviceutil) = %q", got)
	}
	for _, m := range []string{"requests", "pandas", "some_unknown_package"} {
		if got := r.Resolve(m); got != m {
			t.Errorf("Resolve(%q) = %q, want itself", m, got)
		}
	}
}

func TestResolveDeterministic(t *testing.T) {
	t.Parallel()

	r := New(DefaultTables(), nil, Options{})
	for _, m := range []string{"PIL", "win32x", "requests", "yaml"} {
		if a, b := r.Resolve(m), r.Resolve(m); a != b {
			t.Errorf("Resolve(%q) not deterministic: %q vs %q", m, a, b)
		}
	}
}

func TestResolverCopiesTables(t *testing.T) {
	t.Parallel()

	tables := DefaultTables()
	r := New(tables, nil, Options{})
	tables.Direct["requests"] = "hijacked"
	if got := r.Resolve("requests"); got != "requests" {
		t.Errorf("Resolve saw later table mutation: %q", got)
	}
}

func TestWithOverrides(t *testing.T) {
	t.Parallel()

	tables, err := WithOverrides(
		[]Mapping{{Module: "PIL", Dist: "pillow-simd"}, {Module: "foo", Dist: "foo-dist"}},
		[]PatternRule{{Pattern: `^acme_`, Dist: "acme-sdk"}, {Pattern: `^win32special$`, Dist: "special"}},
	)
	if err != nil {
		t.Fatalf("WithOverrides: %v", err)
	}
	r := New(tables, nil, Options{})
	checks := map[string]string{
		"PIL":          "pillow-simd",
		"foo":          "foo-dist",
		"acme_core":    "acme-sdk",
		"win32special": "special",
		"win32api":     "pywin32",
		"win32other":   "pywin32",
	}
	for m, want := range checks {
		if got := r.Resolve(m); got != want {
			t.Errorf("Resolve(%q) = %q, want %q", m, got, want)
		}
	}

	if _, err := WithOverrides(nil, []PatternRule{{Pattern: "(", Dist: "x"}}); err == nil {
		t.Error("expected error for bad pattern")
	}
	if _, err := WithOverrides([]Mapping{{Module: "x"}}, nil); err == nil {
		t.Error("expected error for empty dist")
	}
}

func TestVariants(t *testing.T) {
	t.Parallel()

	v := Variants("package")
	if v[0] != "package" {
		t.Errorf("first variant = %q", v[0])
	}
	for _, want := range []string{"py-package", "python-package", "package-py", "package-python"} {
		if !slices.Contains(v, want) {
			t.Errorf("Variants(package) missing %q: %v", want, v)
		}
	}

	if v := Variants("my_package"); !slices.Contains(v, "my-package") {
		t.Errorf("Variants(my_package) = %v", v)
	}
	if v := Variants("my-package"); !slices.Contains(v, "my_package") {
		t.Errorf("Variants(my-package) = %v", v)
	}
	if v := Variants("2to3"); !slices.Contains(v, "to3") {
		t.Errorf("Variants(2to3) = %v", v)
	}
	if v := Variants("Foo"); !slices.Contains(v, "foo") {
		t.Errorf("Variants(Foo) = %v", v)
	}
	for _, x := range Variants("pypackage") {
		if x == "py-pypackage" || x == "python-pypackage" {
			t.Errorf("Variants(pypackage) added prefix: %v", Variants("pypackage"))
		}
	}
	if Variants("  ") != nil {
		t.Error("Variants of blank should be nil")
	}
}

func TestVariantsNoDuplicates(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"package", "my_package", "My-Pkg", "2to3", "py_thing"} {
		v := Variants(name)
		seen := map[string]bool{}
		for _, x := range v {
			if seen[x] {
				t.Errorf("Variants(%q) duplicates %q", name, x)
			}
			seen[x] = true
		}
	}
}

func TestRetryCandidates(t *testing.T) {
	t.Parallel()

	r := New(DefaultTables(), nil, Options{MaxVariantAttempts: 3})
	got := r.RetryCandidates("foo_util", "foo_util")
	if len(got) != 3 {
		t.Fatalf("RetryCandidates = %v, want 3 entries", got)
	}
	if got[0] != "foo-util" {
		t.Errorf("first candidate = %q", got[0])
	}
	for _, c := range got {
		if c == "foo_util" {
			t.Error("original name included")
		}
	}

	r = New(DefaultTables(), nil, Options{MaxVariantAttempts: 50})
	got = r.RetryCandidates("yaml", "pyyaml")
	if slices.Contains(got, "yaml") || slices.Contains(got, "pyyaml") {
		t.Errorf("RetryCandidates kept tried names: %v", got)
	}
	if !slices.Contains(got, "py-yaml") {
		t.Errorf("RetryCandidates = %v", got)
	}
}

type fakeRegistry struct {
	known map[string]string
	asked []string
	err   error
}

func (f *fakeRegistry) Exists(_ context.Context, name string) (string, bool, error) {
	f.asked = append(f.asked, name)
	if f.err != nil {
		return "", false, f.err
	}
	c, ok := f.known[name]
	return c, ok, nil
}

func TestLookup(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{known: map[string]string{"py-widget": "PyWidget"}}
	r := New(DefaultTables(), reg, Options{LookupCandidates: 5})

	got, ok := r.Lookup(context.Background(), "widget", []string{"widget"})
	if !ok || got != "PyWidget" {
		t.Fatalf("Lookup = %q, %v", got, ok)
	}
	if slices.Contains(reg.asked, "widget") {
		t.Errorf("asked about already tried name: %v", reg.asked)
	}
}

func TestLookupBounded(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{known: map[string]string{}}
	r := New(DefaultTables(), reg, Options{LookupCandidates: 2})
	if _, ok := r.Lookup(context.Background(), "thing", nil); ok {
		t.Fatal("expected miss")
	}
	if len(reg.asked) != 2 {
		t.Errorf("asked %d names, want 2: %v", len(reg.asked), reg.asked)
	}
}

func TestLookupErrorsAndNilRegistry(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{err: errors.New("offline")}
	r := New(DefaultTables(), reg, Options{})
	if _, ok := r.Lookup(context.Background(), "thing", nil); ok {
		t.Error("expected miss on registry error")
	}

	r = New(DefaultTables(), nil, Options{})
	if _, ok := r.Lookup(context.Background(), "thing", nil); ok {
		t.Error("expected miss with nil registry")
	}
}
