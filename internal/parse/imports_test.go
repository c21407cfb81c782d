package parse

import (
	"fmt"
	"strings"
	"testing"

	"github.com/phobologic/reqscan/internal/model"
)

func modules(recs []model.ImportRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Module
	}
	return out
}

func TestImportsBasicForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want []string
		kind model.ImportKind
	}{
		{"plain", "import requests", []string{"requests"}, model.PlainImport},
		{"dotted", "import os.path", []string{"os"}, model.PlainImport},
		{"alias", "import numpy as np", []string{"numpy"}, model.PlainImport},
		{"indented", "    import yaml", []string{"yaml"}, model.PlainImport},
		{"from", "from bs4 import BeautifulSoup", []string{"bs4"}, model.FromImport},
		{"from dotted", "from google.cloud import storage", []string{"google"}, model.FromImport},
		{"from star", "from flask import *", []string{"flask"}, model.FromImport},
		{"future", "from __future__ import annotations", []string{"__future__"}, model.FromImport},
		{"trailing comment", "import attr  # needed", []string{"attr"}, model.PlainImport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			recs := Imports(tt.src, "a.py")
			got := modules(recs)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("modules = %v, want %v", got, tt.want)
			}
			for _, r := range recs {
				if r.Kind != tt.kind {
					t.Errorf("kind = %q, want %q", r.Kind, tt.kind)
				}
				if r.Line != 1 {
					t.Errorf("line = %d, want 1", r.Line)
				}
				if r.File != "a.py" {
					t.Errorf("file = %q", r.File)
				}
				if r.Statement != strings.TrimSpace(tt.src) {
					t.Errorf("statement = %q", r.Statement)
				}
			}
		})
	}
}

func TestImportsCommaListSharesLineAndStatement(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 6; n++ {
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("mod%d", i)
		}
		src := "x = 1\nimport " + strings.Join(names, ", ")
		recs := Imports(src, "f.py")
		if len(recs) != n {
			t.Fatalf("n=%d: got %d records", n, len(recs))
		}
		for i, r := range recs {
			if r.Module != names[i] {
				t.Errorf("record %d module = %q, want %q", i, r.Module, names[i])
			}
			if r.Line != 2 || r.Statement != recs[0].Statement {
				t.Errorf("record %d: line=%d statement=%q", i, r.Line, r.Statement)
			}
		}
	}
}

func TestImportsCommaListWithAliases(t *testing.T) {
	t.Parallel()

	recs := Imports("import a.b as c, d as e,  f", "f.py")
	got := strings.Join(modules(recs), ",")
	if got != "a,d,f" {
		t.Errorf("modules = %s, want a,d,f", got)
	}
}

func TestImportsRelativeNeverRecorded(t *testing.T) {
	t.Parallel()

	for depth := 1; depth <= 5; depth++ {
		dots := strings.Repeat(".", depth)
		for _, src := range []string{
			"from " + dots + " import x",
			"from " + dots + "pkg import x",
			"from " + dots + "pkg.sub import (\n  x,\n  y,\n)",
		} {
			if recs := Imports(src, "f.py"); len(recs) != 0 {
				t.Errorf("%q produced %v", src, recs)
			}
		}
	}
}

func TestImportsOddQuotesSkipped(t *testing.T) {
	t.Parallel()

	tests := []string{
		`import os "`,
		`import requests '`,
		`from x import y  "`,
		`import a, b ' "`,
	}
	for _, src := range tests {
		if recs := Imports(src, "f.py"); len(recs) != 0 {
			t.Errorf("%q produced %v", src, recs)
		}
	}

	// Balanced quotes do not block a match.
	if recs := Imports(`import x  ; y = "s"`, "f.py"); len(recs) != 1 {
		t.Errorf("balanced quotes: got %v", recs)
	}
}

func TestImportsStringLiterals(t *testing.T) {
	t.Parallel()

	src := `doc = """
import fake
"""
s = "import also_fake"
import real
`
	got := modules(Imports(src, "f.py"))
	// The docstring delimiters are skipped for odd quote parity, but the body
	// line is indistinguishable from code. The one-line string does not start
	// with import.
	if strings.Join(got, ",") != "fake,real" {
		t.Errorf("modules = %v", got)
	}
}

func TestImportsMultiLineFrom(t *testing.T) {
	t.Parallel()

	src := `import os
from typing import (  # types
    Any,
    Dict,  # dict
)
import requests
`
	recs := Imports(src, "m.py")
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %+v", recs)
	}
	r := recs[1]
	if r.Module != "typing" || r.Kind != model.FromImport || r.Line != 2 {
		t.Errorf("record = %+v", r)
	}
	for _, part := range []string{"from typing import (", "Any,", "Dict,", ")"} {
		if !strings.Contains(r.Statement, part) {
			t.Errorf("statement %q missing %q", r.Statement, part)
		}
	}
	if strings.Count(r.Statement, "\n") != 3 {
		t.Errorf("statement should span 4 lines: %q", r.Statement)
	}
	if recs[2].Module != "requests" || recs[2].Line != 6 {
		t.Errorf("record after group = %+v", recs[2])
	}
}

func TestImportsMultiLinePlain(t *testing.T) {
	t.Parallel()

	recs := Imports("import (alpha,\n    beta.sub as b,\n    gamma)\n", "m.py")
	got := strings.Join(modules(recs), ",")
	if got != "alpha,beta,gamma" {
		t.Fatalf("modules = %s", got)
	}
	for _, r := range recs {
		if r.Line != 1 {
			t.Errorf("line = %d", r.Line)
		}
	}
}

func TestImportsNestedParens(t *testing.T) {
	t.Parallel()

	src := "from pkg import (a, (b),\n c)\nimport after\n"
	got := strings.Join(modules(Imports(src, "m.py")), ",")
	if got != "pkg,after" {
		t.Errorf("modules = %s", got)
	}
}

func TestImportsUnclosedParenTerminates(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("from huge import (\n")
	for i := 0; i < 3*MaxContinuationLines; i++ {
		b.WriteString("    name,\n")
	}
	b.WriteString("import tail\n")

	recs := Imports(b.String(), "big.py")
	if len(recs) == 0 || recs[0].Module != "huge" {
		t.Fatalf("expected a record for huge, got %d records", len(recs))
	}
	lines := strings.Count(recs[0].Statement, "\n") + 1
	if lines != MaxContinuationLines+1 {
		t.Errorf("statement spans %d lines, want %d", lines, MaxContinuationLines+1)
	}
}

func TestImportsLongGroupUnderCap(t *testing.T) {
	t.Parallel()

	n := 500
	var b strings.Builder
	b.WriteString("from wide import (\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "    n%d,\n", i)
	}
	b.WriteString(")\n")

	recs := Imports(b.String(), "w.py")
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if !strings.Contains(recs[0].Statement, fmt.Sprintf("n%d,", n-1)) {
		t.Error("statement missing last line")
	}
}

func TestImportsEmptyInput(t *testing.T) {
	t.Parallel()

	for _, src := range []string{"", "   ", "\n\n\t\n"} {
		if recs := Imports(src, "e.py"); recs != nil {
			t.Errorf("Imports(%q) = %v", src, recs)
		}
	}
}

func TestImportsNotImports(t *testing.T) {
	t.Parallel()

	src := `importlib.reload(x)
fromage = 1
# import commented
x = 1  # from y import z
`
	if recs := Imports(src, "n.py"); len(recs) != 0 {
		t.Errorf("got %v", recs)
	}
}

func TestImportsProseParenDoesNotSwallow(t *testing.T) {
	t.Parallel()

	src := "def f():\n    \"\"\"\n    from (the docs, see below:\n    \"\"\"\n\nimport requests\nimport numpy\n"
	recs := Imports(src, "a.py")
	if got := strings.Join(modules(recs), ","); got != "requests,numpy" {
		t.Fatalf("modules = %s", got)
	}
	if recs[0].Line != 6 || recs[1].Line != 7 {
		t.Errorf("lines = %d, %d", recs[0].Line, recs[1].Line)
	}
}

func TestImportsCommentMarkerInStringTruncates(t *testing.T) {
	t.Parallel()

	// The '#' inside the string ends the line lexically, leaving an odd
	// quote count, so the whole line is dropped.
	if recs := Imports(`import a, b; s = "#"`, "c.py"); len(recs) != 0 {
		t.Errorf("got %v", recs)
	}

	// Here the cut happens to leave balanced quotes and the import survives.
	recs := Imports(`import a ; t = '"' + "#"`, "c.py")
	if len(recs) != 1 || recs[0].Module != "a" {
		t.Fatalf("got %v", recs)
	}
	if recs[0].Statement != `import a ; t = '"' + "#"` {
		t.Errorf("statement = %q", recs[0].Statement)
	}
}

func TestImportsCRLF(t *testing.T) {
	t.Parallel()

	recs := Imports("import a\r\nfrom b import c\r\n", "w.py")
	got := strings.Join(modules(recs), ",")
	if got != "a,b" {
		t.Errorf("modules = %s", got)
	}
}
