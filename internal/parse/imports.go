// Package parse extracts import records from source text.
//
// The extractor is line-oriented and deliberately approximate: it never needs
// a full parser, so it keeps working on invalid or half-edited files. Two
// approximations are part of its contract:
//
//   - A line whose comment-stripped text holds an odd number of either quote
//     character is assumed to be inside a string literal and is skipped.
//   - Comment stripping is purely lexical. The first unescaped '#' ends the
//     line even when it sits inside a string whose quotes happen to balance.
package parse

import (
	"regexp"
	"strings"

	"github.com/phobologic/reqscan/internal/model"
)

// MaxContinuationLines bounds how far an unclosed parenthesis group is
// followed. The capped text is treated as the full statement.
const MaxContinuationLines = 1000

var (
	fromRe   = regexp.MustCompile(`^\s*from\s+([\pL_.][\pL\pN_.]*)\s+import\b`)
	importRe = regexp.MustCompile(`^\s*import\s+(.+)$`)
	aliasRe  = regexp.MustCompile(`\s+as\s+`)
	identRe  = regexp.MustCompile(`^[\pL_][\pL\pN_]*$`)
)

// Imports returns one record per imported module name found in text. file is
// stored on each record as-is.
func Imports(text, file string) []model.ImportRecord {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	var records []model.ImportRecord

	i := 0
	for i < len(lines) {
		line := stripComment(lines[i])
		lineNum := i + 1

		if line == "" || oddQuotes(line) || !isImport(line) {
			i++
			continue
		}

		// Collect the logical statement. Only a line that already reads as an
		// import may open a parenthesized continuation.
		logical := line
		end := i + 1
		if strings.Contains(line, "(") {
			logical, end = continuation(lines, i, line)
		}
		raw := strings.TrimSpace(strings.Join(lines[i:end], "\n"))
		i = end
		// Only the first simple statement on the line is considered.
		logical, _, _ = strings.Cut(logical, ";")

		if m := fromRe.FindStringSubmatch(logical); m != nil {
			name := m[1]
			if strings.HasPrefix(name, ".") {
				continue
			}
			if mod := topLevel(name); mod != "" {
				records = append(records, model.ImportRecord{
					Module:    mod,
					Kind:      model.FromImport,
					Statement: raw,
					Line:      lineNum,
					File:      file,
				})
			}
			continue
		}

		m := importRe.FindStringSubmatch(logical)
		if m == nil {
			continue
		}
		names := strings.NewReplacer("(", "", ")", "").Replace(m[1])
		for _, item := range strings.Split(names, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			item = strings.TrimSpace(aliasRe.Split(item, 2)[0])
			mod := topLevel(item)
			if mod == "" {
				continue
			}
			records = append(records, model.ImportRecord{
				Module:    mod,
				Kind:      model.PlainImport,
				Statement: raw,
				Line:      lineNum,
				File:      file,
			})
		}
	}

	return records
}

func isImport(line string) bool {
	return fromRe.MatchString(line) || importRe.MatchString(line)
}

// continuation follows an open parenthesis group starting at lines[start]
// (already comment-stripped as first) and returns the joined logical
// statement and the index of the first line after it.
func continuation(lines []string, start int, first string) (string, int) {
	parts := []string{first}
	depth := strings.Count(first, "(") - strings.Count(first, ")")
	j := start + 1
	for j < len(lines) && depth > 0 && j-start <= MaxContinuationLines {
		next := stripComment(lines[j])
		parts = append(parts, next)
		depth += strings.Count(next, "(") - strings.Count(next, ")")
		j++
	}
	return strings.Join(parts, " "), j
}

// stripComment cuts line at the first '#' not preceded by a backslash and
// trims surrounding whitespace.
func stripComment(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] == '#' && (i == 0 || line[i-1] != '\\') {
			line = line[:i]
			break
		}
	}
	return strings.TrimSpace(line)
}

func oddQuotes(line string) bool {
	return strings.Count(line, `"`)%2 != 0 || strings.Count(line, `'`)%2 != 0
}

// topLevel returns the first dotted segment of name if it is an identifier.
func topLevel(name string) string {
	head, _, _ := strings.Cut(strings.TrimSpace(name), ".")
	if !identRe.MatchString(head) {
		return ""
	}
	return head
}
