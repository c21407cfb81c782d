package resolve

import (
	"fmt"
	"regexp"
)

// Rule maps every module name matching Pattern to Dist.
type Rule struct {
	Pattern *regexp.Regexp
	Dist    string
}

// Tables holds the direct and pattern mappings. Build it once and do not
// mutate it afterwards; Resolver keeps its own copy.
type Tables struct {
	Direct map[string]string
	Rules  []Rule
}

// DefaultDirect lists modules whose distribution name differs from the
// import name.
var DefaultDirect = map[string]string{
	"PIL":            "pillow",
	"cv2":            "opencv-python",
	"sklearn":        "scikit-learn",
	"skimage":        "scikit-image",
	"bs4":            "beautifulsoup4",
	"dotenv":         "python-dotenv",
	"yaml":           "pyyaml",
	"OpenSSL":        "pyopenssl",
	"Crypto":         "pycryptodome",
	"dateutil":       "python-dateutil",
	"MySQLdb":        "mysqlclient",
	"_mysql":         "mysqlclient",
	"pkg_resources":  "setuptools",
	"serial":         "pyserial",
	"usb":            "pyusb",
	"magic":          "python-magic",
	"jwt":            "pyjwt",
	"docx":           "python-docx",
	"pptx":           "python-pptx",
	"fitz":           "pymupdf",
	"attr":           "attrs",
	"win32api":       "pywin32",
	"win32con":       "pywin32",
	"win32gui":       "pywin32",
	"win32clipboard": "pywin32",
	"win32com":       "pywin32",
	"pythoncom":      "pywin32",
	"pywintypes":     "pywin32",
}

// DefaultRules cover module families shipped in a single distribution.
var DefaultRules = []Rule{
	{Pattern: regexp.MustCompile(`^win32`), Dist: "pywin32"},
	{Pattern: regexp.MustCompile(`^_win32`), Dist: "pywin32"},
}

// DefaultTables returns a fresh copy of the built-in tables.
func DefaultTables() Tables {
	direct := make(map[string]string, len(DefaultDirect))
	for k, v := range DefaultDirect {
		direct[k] = v
	}
	return Tables{Direct: direct, Rules: append([]Rule(nil), DefaultRules...)}
}

// Mapping is a configured direct mapping entry.
type Mapping struct {
	Module string
	Dist   string
}

// PatternRule is a configured pattern rule before compilation.
type PatternRule struct {
	Pattern string
	Dist    string
}

// WithOverrides returns the default tables with configured entries applied.
// Configured mappings replace built-in ones; configured rules are tried
// before built-in rules.
func WithOverrides(mappings []Mapping, rules []PatternRule) (Tables, error) {
	t := DefaultTables()
	for _, m := range mappings {
		if m.Module == "" || m.Dist == "" {
			return Tables{}, fmt.Errorf("mapping %q -> %q: module and dist are required", m.Module, m.Dist)
		}
		t.Direct[m.Module] = m.Dist
	}
	compiled := make([]Rule, 0, len(rules)+len(t.Rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return Tables{}, fmt.Errorf("pattern %q: %w", r.Pattern, err)
		}
		if r.Dist == "" {
			return Tables{}, fmt.Errorf("pattern %q: dist is required", r.Pattern)
		}
		compiled = append(compiled, Rule{Pattern: re, Dist: r.Dist})
	}
	t.Rules = append(compiled, t.Rules...)
	return t, nil
}
