package validate

import (
	"regexp"
	"strings"

	"github.com/blastrain/vitess-sqlparser/sqlparser"

	mimir "github.com/user/mimir"
)

// ExtractTables returns the base tables referenced by sql. It parses with
// the vitess grammar and walks FROM/JOIN table expressions; SQL the
// grammar cannot handle falls back to a FROM/JOIN scanner.
func ExtractTables(sql string) []string {
	stmt, err := sqlparser.Parse(bindPlaceholders(sql))
	if err != nil {
		return scanTables(sql)
	}

	seen := map[string]bool{}
	var tables []string
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		ate, ok := node.(*sqlparser.AliasedTableExpr)
		if !ok {
			return true, nil
		}
		tn, ok := ate.Expr.(sqlparser.TableName)
		if !ok {
			return true, nil
		}
		name := tn.Name.String()
		if name != "" && !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
		return true, nil
	}, stmt)

	if len(tables) == 0 {
		return scanTables(sql)
	}
	return tables
}

// bindPlaceholders rewrites %(name)s placeholders to :name bind variables
// so the parser can accept generated SQL.
func bindPlaceholders(sql string) string {
	return placeholderToBindRe.ReplaceAllString(sql, ":$1")
}

var placeholderToBindRe = regexp.MustCompile(`%\((\w+)\)s`)

var fromJoinRe = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)

// scanTables is the regex fallback: any identifier following FROM or JOIN.
func scanTables(sql string) []string {
	seen := map[string]bool{}
	var tables []string
	for _, m := range fromJoinRe.FindAllStringSubmatch(sql, -1) {
		name := m[1]
		// Strip a schema qualifier; the whitelist holds bare table names.
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}

// Whitelisted reports whether every table referenced by the artifact's SQL
// is in the given whitelist. Convenience for callers outside the validator.
func Whitelisted(artifact mimir.SQLArtifact, whitelist []string) bool {
	wl := map[string]bool{}
	for _, t := range whitelist {
		wl[strings.ToLower(t)] = true
	}
	for _, t := range ExtractTables(artifact.SQL) {
		if !wl[strings.ToLower(t)] {
			return false
		}
	}
	return true
}
