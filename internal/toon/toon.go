// Package toon implements TOON (Token-Oriented Object Notation) encoding of
// a run summary.
package toon

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/phobologic/reqscan/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode converts a Summary into TOON format. The usage table is omitted
// when empty; the other tables always appear.
func Encode(s *model.Summary) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("project: %s", encodeValue(s.Project)))
	parts = append(parts, fmt.Sprintf("root: %s", encodeValue(s.Root)))
	parts = append(parts, fmt.Sprintf("files: %d", s.Files))

	var pkgRows [][]string
	for i := range s.Packages {
		p := &s.Packages[i]
		pkgRows = append(pkgRows, []string{
			p.Dist,
			strings.Join(p.Modules, " "),
			string(p.Kind),
			fmt.Sprintf("%d", p.Files),
			fmt.Sprintf("%d", p.Occurrences),
		})
	}
	parts = append(parts, formatTabular("packages", []string{"dist", "modules", "status", "files", "imports"}, pkgRows))

	var localRows [][]string
	for i := range s.Local {
		l := &s.Local[i]
		localRows = append(localRows, []string{l.Module, l.Path})
	}
	parts = append(parts, formatTabular("local", []string{"module", "path"}, localRows))

	var failedRows [][]string
	for i := range s.Failed {
		o := &s.Failed[i]
		failedRows = append(failedRows, []string{
			o.Dist,
			strings.Join(o.Modules, " "),
			string(o.State),
			o.Reason,
		})
	}
	parts = append(parts, formatTabular("failed", []string{"dist", "modules", "state", "reason"}, failedRows))

	if len(s.Usage) > 0 {
		var usageRows [][]string
		for i := range s.Usage {
			u := &s.Usage[i]
			usageRows = append(usageRows, []string{
				u.Module,
				u.Resolved,
				fmt.Sprintf("%d", u.Files),
				fmt.Sprintf("%d", u.Occurrences),
			})
		}
		parts = append(parts, formatTabular("usage", []string{"module", "dist", "files", "imports"}, usageRows))
	}

	return strings.Join(parts, "\n")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
