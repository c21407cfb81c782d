package parse

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/reqscan/internal/lang"
	"github.com/phobologic/reqscan/internal/model"
)

// Dynamic finds imports performed at runtime through importlib.import_module
// or __import__ with a plain string literal argument. The parser must be
// created for the correct language and query compiled for it.
func Dynamic(parser *sitter.Parser, query *sitter.Query, source []byte, filePath string) []model.ImportRecord {
	if len(source) == 0 {
		return nil
	}

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, tree.RootNode())

	var records []model.ImportRecord

	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, source)

		var nameNode, callNode *sitter.Node
		for _, c := range match.Captures {
			switch query.CaptureNameForId(c.Index) {
			case "name":
				nameNode = c.Node
			case "reference.dynamic":
				callNode = c.Node
			}
		}
		if nameNode == nil || callNode == nil {
			continue
		}

		target, ok := stringLiteral(lang.NodeText(nameNode, source))
		if !ok || strings.HasPrefix(target, ".") {
			continue
		}
		mod := topLevel(target)
		if mod == "" {
			continue
		}

		records = append(records, model.ImportRecord{
			Module:    mod,
			Kind:      model.DynamicImport,
			Statement: collapseWhitespace(lang.NodeText(callNode, source)),
			Line:      int(callNode.StartPoint().Row) + 1,
			File:      filePath,
		})
	}

	return records
}

// stringLiteral unquotes a simple Python string literal. Formatted strings
// and literals with escapes are rejected since their value is not static.
func stringLiteral(lit string) (string, bool) {
	prefix := 0
	for prefix < len(lit) && strings.ContainsRune("rRbBuU", rune(lit[prefix])) {
		prefix++
	}
	if prefix < len(lit) && strings.ContainsRune("fF", rune(lit[prefix])) {
		return "", false
	}
	body := lit[prefix:]
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(body) >= 2*len(q) && strings.HasPrefix(body, q) && strings.HasSuffix(body, q) {
			inner := body[len(q) : len(body)-len(q)]
			if strings.ContainsAny(inner, "\\{}") {
				return "", false
			}
			return strings.TrimSpace(inner), true
		}
	}
	return "", false
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
