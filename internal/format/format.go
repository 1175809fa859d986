// Package format highlights matched query tokens in result rows and
// paginates the result set. Values are HTML-escaped before markers are
// applied so injected angle brackets in user data stay inert.
package format

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	mimir "github.com/user/mimir"
	"github.com/user/mimir/pkg/textutil"
)

type Formatter struct {
	open  string
	close string
}

// New creates a formatter with the given marker pair. Empty markers fall
// back to the « » defaults.
func New(open, close string) *Formatter {
	if open == "" {
		open = "«"
	}
	if close == "" {
		close = "»"
	}
	return &Formatter{open: open, close: close}
}

// Highlight wraps query-token matches in string columns of every row.
// Rows are modified in place; call on a copy owned by the request.
func (f *Formatter) Highlight(rows []mimir.Row, query string) bool {
	re := matchPattern(query)
	if re == nil {
		return false
	}

	highlighted := false
	for _, row := range rows {
		for col, val := range row {
			s, ok := val.(string)
			if !ok {
				continue
			}
			escaped := html.EscapeString(s)
			replaced := re.ReplaceAllStringFunc(escaped, func(m string) string {
				return f.open + m + f.close
			})
			if replaced != escaped {
				highlighted = true
			}
			row[col] = replaced
		}
	}
	return highlighted
}

// matchPattern builds one case-insensitive alternation over the query's
// significant tokens. Returns nil when nothing is worth matching.
func matchPattern(query string) *regexp.Regexp {
	tokens := textutil.Keywords(query)
	if len(tokens) == 0 {
		return nil
	}
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		quoted = append(quoted, regexp.QuoteMeta(html.EscapeString(t)))
	}
	re, err := regexp.Compile("(?i)(" + strings.Join(quoted, "|") + ")")
	if err != nil {
		return nil
	}
	return re
}

// Paginate slices rows to [offset, offset+limit) and fills the page info.
// limit <= 0 disables slicing and yields a single page.
func Paginate(rows []mimir.Row, offset, limit int) ([]mimir.Row, *mimir.PageInfo) {
	total := len(rows)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return rows, &mimir.PageInfo{
			Offset: 0, Limit: total, Total: total,
			Page: 1, Pages: 1,
		}
	}

	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	pages := (total + limit - 1) / limit
	if pages == 0 {
		pages = 1
	}
	info := &mimir.PageInfo{
		Offset:  offset,
		Limit:   limit,
		Total:   total,
		Page:    offset/limit + 1,
		Pages:   pages,
		HasNext: end < total,
		HasPrev: start > 0,
	}
	return rows[start:end], info
}

// Summary renders the one-line result description.
func Summary(rowCount int, execMs int64) string {
	noun := "rows"
	if rowCount == 1 {
		noun = "row"
	}
	return fmt.Sprintf("%d %s in %dms", rowCount, noun, execMs)
}
