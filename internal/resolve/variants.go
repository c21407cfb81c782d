package resolve

import (
	"strings"
	"unicode"
)

// Variants guesses distribution names for name. The original name comes
// first; the rest follow a fixed order with duplicates removed.
func Variants(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	var out []string
	seen := make(map[string]struct{})
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	add(name)
	add(strings.ReplaceAll(name, "_", "-"))
	add(strings.ReplaceAll(name, "-", "_"))
	lower := strings.ToLower(name)
	add(lower)
	add(strings.ReplaceAll(lower, "_", "-"))

	base := strings.ReplaceAll(lower, "_", "-")
	if !strings.HasPrefix(lower, "py") {
		add("py-" + base)
		add("python-" + base)
		add("py" + strings.ReplaceAll(base, "-", ""))
	}
	add(base + "-py")
	add(base + "-python")

	if stripped := strings.TrimLeftFunc(name, unicode.IsDigit); stripped != name {
		add(strings.TrimLeft(stripped, "-_"))
	}
	return out
}
