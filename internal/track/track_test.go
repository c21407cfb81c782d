package track

import (
	"testing"

	"github.com/phobologic/reqscan/internal/lang"
	"github.com/phobologic/reqscan/internal/model"
)

func rec(module, file string, line int) model.ImportRecord {
	return model.ImportRecord{
		Module:    module,
		Kind:      model.PlainImport,
		Statement: "import " + module,
		Line:      line,
		File:      file,
	}
}

func TestAddIsAppendOnly(t *testing.T) {
	t.Parallel()

	tr := New(nil)
	r := rec("requests", "a.py", 1)
	tr.Add(r)
	tr.Add(r)

	if got := len(tr.Records("requests")); got != 2 {
		t.Errorf("Records = %d, want 2", got)
	}
	if got := len(tr.FileRecords("a.py")); got != 2 {
		t.Errorf("FileRecords = %d, want 2", got)
	}
	s, ok := tr.Stats("requests")
	if !ok {
		t.Fatal("Stats not found")
	}
	if s.Occurrences != 2 || s.Files != 1 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestIndexesAgree(t *testing.T) {
	t.Parallel()

	tr := New(nil)
	tr.Add(rec("a", "x.py", 1))
	tr.Add(rec("b", "x.py", 2))
	tr.Add(rec("a", "y.py", 5))

	total := 0
	for _, f := range tr.Files() {
		for _, r := range tr.FileRecords(f) {
			found := false
			for _, mr := range tr.Records(r.Module) {
				if mr == r {
					found = true
				}
			}
			if !found {
				t.Errorf("record %+v missing from module index", r)
			}
			total++
		}
	}
	if total != tr.Len() {
		t.Errorf("file index has %d records, module index %d", total, tr.Len())
	}
}

func TestExternalExcludesBuiltins(t *testing.T) {
	t.Parallel()

	tr := New(lang.Python.IsBuiltin)
	for i, m := range []string{"os", "requests", "sys", "numpy", "json", "requests"} {
		tr.Add(rec(m, "m.py", i+1))
	}

	ext := tr.External()
	want := []string{"numpy", "requests"}
	if len(ext) != len(want) {
		t.Fatalf("External = %v, want %v", ext, want)
	}
	for i := range want {
		if ext[i] != want[i] {
			t.Errorf("External[%d] = %q, want %q", i, ext[i], want[i])
		}
	}
	for _, m := range ext {
		if lang.Python.IsBuiltin(m) {
			t.Errorf("External contains builtin %q", m)
		}
	}
	if len(tr.Modules()) != 5 {
		t.Errorf("Modules = %v", tr.Modules())
	}
}

func TestStatsUnseen(t *testing.T) {
	t.Parallel()

	tr := New(nil)
	if s, ok := tr.Stats("ghost"); ok || s != (model.ModuleStats{}) {
		t.Errorf("Stats(ghost) = %+v, %v", s, ok)
	}
	if tr.Records("ghost") != nil {
		t.Error("Records(ghost) should be nil")
	}
	if tr.Resolved("ghost") != "" {
		t.Error("Resolved(ghost) should be empty")
	}
}

func TestStatsCountsDistinctFiles(t *testing.T) {
	t.Parallel()

	tr := New(nil)
	tr.Add(rec("yaml", "a.py", 1))
	tr.Add(rec("yaml", "a.py", 9))
	tr.Add(rec("yaml", "b.py", 3))

	s, _ := tr.Stats("yaml")
	if s.Files != 2 || s.Occurrences != 3 || s.Resolved != "yaml" {
		t.Errorf("Stats = %+v", s)
	}

	all := tr.AllStats([]string{"yaml", "missing"})
	if len(all) != 1 || all[0].Module != "yaml" {
		t.Errorf("AllStats = %+v", all)
	}
}

func TestSetResolvedVisibleFromBothIndexes(t *testing.T) {
	t.Parallel()

	tr := New(nil)
	r := rec("PIL", "img.py", 1)
	r.Resolved = "pillow"
	tr.Add(r)
	tr.Add(rec("other", "img.py", 2))

	if tr.Resolved("PIL") != "pillow" {
		t.Fatalf("Resolved = %q", tr.Resolved("PIL"))
	}
	tr.SetResolved("PIL", "Pillow-SIMD")

	for _, fr := range tr.FileRecords("img.py") {
		if fr.Module == "PIL" && fr.Resolved != "Pillow-SIMD" {
			t.Errorf("file view Resolved = %q", fr.Resolved)
		}
		if fr.Module == "other" && fr.Resolved != "other" {
			t.Errorf("unrelated record changed: %+v", fr)
		}
	}
	if tr.Len() != 2 {
		t.Errorf("SetResolved changed record count: %d", tr.Len())
	}
}

func TestFilesSorted(t *testing.T) {
	t.Parallel()

	tr := New(nil)
	tr.Add(rec("a", "z.py", 1))
	tr.Add(rec("a", "b/m.py", 1))
	tr.Add(rec("a", "a.py", 1))

	files := tr.Files()
	if len(files) != 3 || files[0] != "a.py" || files[1] != "b/m.py" || files[2] != "z.py" {
		t.Errorf("Files = %v", files)
	}
}
