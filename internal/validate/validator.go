// Package validate is the safety firewall between generated SQL and the
// read replica. Rules are ANDed; any failure rejects, and a verdict's
// reasons carry rule ids only, never the offending SQL.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	mimir "github.com/user/mimir"
)

// Rule ids attached to verdicts.
const (
	ReasonTooLong           = "too_long"
	ReasonNonSelect         = "non_select"
	ReasonDestructive       = "destructive"
	ReasonSystemAccess      = "system_access"
	ReasonInjection         = "injection"
	ReasonUnauthorizedTable = "unauthorized_table"
	ReasonLimitExceeded     = "limit_exceeded"
)

const maxSQLBytes = 10 * 1024

type Validator struct {
	whitelist map[string]bool
	maxRows   int
}

// NewValidator builds a validator over the allowed-table whitelist.
// maxRows is the mandatory LIMIT cap (default 100 when <= 0).
func NewValidator(whitelist []string, maxRows int) *Validator {
	if maxRows <= 0 {
		maxRows = 100
	}
	wl := make(map[string]bool, len(whitelist))
	for _, t := range whitelist {
		wl[strings.ToLower(t)] = true
	}
	return &Validator{whitelist: wl, maxRows: maxRows}
}

var destructiveRe = regexp.MustCompile(`(?i)(^|[^a-z0-9_])(drop|delete|update|insert|truncate|alter|create|grant|revoke|copy)([^a-z0-9_]|$)`)

var systemAccessRe = regexp.MustCompile(`(?i)(pg_sleep|pg_read_file|lo_import|lo_export|current_user|session_user|version\s*\(\s*\)|information_schema|pg_catalog)`)

var commentedVerbRe = regexp.MustCompile(`(?i)(--|/\*).*\b(select|drop|delete|update|insert|truncate|alter|create|grant|revoke|union|copy)\b`)

var limitRe = regexp.MustCompile(`(?i)\blimit\s+(\d+)`)

// Validate applies the full rule set and returns the verdict. The
// normalized SQL carries the enforced LIMIT when the input had none.
func (v *Validator) Validate(sql string) mimir.Verdict {
	var reasons []string
	add := func(r string) {
		for _, have := range reasons {
			if have == r {
				return
			}
		}
		reasons = append(reasons, r)
	}

	trimmed := strings.TrimSpace(sql)
	normalized := trimmed

	// Length cap.
	if len(sql) > maxSQLBytes {
		add(ReasonTooLong)
	}

	// Must read as SELECT or WITH once leading comments are stripped.
	body := stripLeadingComments(trimmed)
	head := strings.ToLower(body)
	if !strings.HasPrefix(head, "select") && !strings.HasPrefix(head, "with") {
		add(ReasonNonSelect)
	}

	// Destructive verbs as whole tokens.
	if destructiveRe.MatchString(sql) {
		add(ReasonDestructive)
	}

	// System-access functions and catalogs.
	if systemAccessRe.MatchString(sql) {
		add(ReasonSystemAccess)
	}

	// Lexical injection patterns.
	if oddQuoteCount(sql) {
		add(ReasonInjection)
	}
	if hasStackedStatement(sql) {
		add(ReasonInjection)
	}
	// Leading comments were already allowed through above; only comments
	// inside the statement body can hide verbs.
	if commentedVerbRe.MatchString(body) {
		add(ReasonInjection)
	}
	if bad, ok := v.unionOutsideWhitelist(sql); ok && bad {
		add(ReasonInjection)
	}

	// Every referenced base table must be whitelisted.
	for _, table := range ExtractTables(sql) {
		if !v.whitelist[strings.ToLower(table)] {
			add(ReasonUnauthorizedTable)
			break
		}
	}

	// Mandatory LIMIT <= cap; absent LIMIT is appended. Every LIMIT in
	// the statement (subqueries included) must respect the cap.
	if ms := limitRe.FindAllStringSubmatch(sql, -1); ms != nil {
		for _, m := range ms {
			if n, err := strconv.Atoi(m[1]); err != nil || n > v.maxRows {
				add(ReasonLimitExceeded)
				break
			}
		}
	} else if len(reasons) == 0 {
		normalized = fmt.Sprintf("%s LIMIT %d", strings.TrimRight(trimmed, "; \t\n"), v.maxRows)
	}

	return mimir.Verdict{
		Accepted:      len(reasons) == 0,
		Reasons:       reasons,
		NormalizedSQL: normalized,
	}
}

// MaxRows returns the enforced row cap.
func (v *Validator) MaxRows() int { return v.maxRows }

// stripLeadingComments removes leading whitespace, -- line comments and
// /* block comments for the statement-prefix check only.
func stripLeadingComments(sql string) string {
	for {
		sql = strings.TrimLeft(sql, " \t\r\n")
		switch {
		case strings.HasPrefix(sql, "--"):
			if i := strings.IndexByte(sql, '\n'); i >= 0 {
				sql = sql[i+1:]
			} else {
				return ""
			}
		case strings.HasPrefix(sql, "/*"):
			if i := strings.Index(sql, "*/"); i >= 0 {
				sql = sql[i+2:]
			} else {
				return ""
			}
		default:
			return sql
		}
	}
}

// oddQuoteCount reports whether the count of unescaped single quotes is
// odd. Doubled quotes (”) count as an escaped pair.
func oddQuoteCount(sql string) bool {
	count := 0
	for i := 0; i < len(sql); i++ {
		if sql[i] != '\'' {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == '\'' {
			i++
			continue
		}
		count++
	}
	return count%2 == 1
}

// hasStackedStatement reports whether a ';' is followed by anything other
// than whitespace or a trailing comment.
func hasStackedStatement(sql string) bool {
	for i := 0; i < len(sql); i++ {
		if sql[i] != ';' {
			continue
		}
		rest := strings.TrimLeft(sql[i+1:], " \t\r\n")
		if rest == "" {
			continue
		}
		if strings.HasPrefix(rest, "--") || strings.HasPrefix(rest, "/*") {
			// Comments after the terminator are caught by the
			// commented-verb rule when they hide statements.
			continue
		}
		return true
	}
	return false
}

// unionOutsideWhitelist inspects tables referenced after each UNION
// keyword. Returns (violation found, union present).
func (v *Validator) unionOutsideWhitelist(sql string) (bool, bool) {
	lower := strings.ToLower(sql)
	idx := 0
	present := false
	for {
		i := strings.Index(lower[idx:], "union")
		if i < 0 {
			return false, present
		}
		present = true
		rest := sql[idx+i+len("union"):]
		for _, table := range ExtractTables(rest) {
			if !v.whitelist[strings.ToLower(table)] {
				return true, true
			}
		}
		idx += i + len("union")
	}
}
