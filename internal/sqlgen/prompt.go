package sqlgen

import (
	"fmt"
	"sort"
	"strings"

	mimir "github.com/user/mimir"
)

// schemaSummary is the static description of the readable schema shown to
// the LLM. Kept as a data asset; regenerating it from the database is a
// migration-side concern.
const schemaSummary = `customers(id bigint, name text, region text, birth_date date, phone text, created_at timestamptz)
customer_memos(id bigint, customer_id bigint, content text, refined_content text, created_at timestamptz)
customer_products(id bigint, customer_id bigint, product_name text, premium numeric, signed_at date)
users(id bigint, email text, name text, created_at timestamptz)
events(id bigint, user_id bigint, kind text, payload jsonb, created_at timestamptz)`

const systemPrompt = `You translate natural-language questions about an insurance agent's customers into a single PostgreSQL SELECT statement.

Rules:
- Only SELECT or WITH statements. Never modify data.
- Only these tables:
%s
- Bind every user-supplied value as a %%(name)s placeholder; never inline values.
- Always include LIMIT %d or lower.
- Respond with JSON only, no prose, in the form:
  {"sql": "...", "parameters": {"name": value}, "explanation": "...", "confidence": 0.0}

Examples:
Q: customers named 홍길동
A: {"sql": "SELECT * FROM customers WHERE name = %%(name)s LIMIT 100", "parameters": {"name": "홍길동"}, "explanation": "exact name lookup", "confidence": 0.9}
Q: 지난 달 메모
A: {"sql": "SELECT m.content, m.created_at, c.name FROM customer_memos m JOIN customers c ON c.id = m.customer_id WHERE m.created_at >= %%(since)s ORDER BY m.created_at DESC LIMIT 100", "parameters": {"since": "2025-07-01"}, "explanation": "memos written since the start of last month", "confidence": 0.85}`

// renderSystemPrompt fills the schema and row cap into the directive.
func renderSystemPrompt(maxRows int) string {
	return fmt.Sprintf(systemPrompt, schemaSummary, maxRows)
}

// renderUserPrompt flattens the query and its classified intent for the model.
func renderUserPrompt(query string, in mimir.Intent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", query)
	fmt.Fprintf(&b, "Classified intent: %s\n", in.Kind)
	if len(in.Entities) > 0 {
		kinds := make([]string, 0, len(in.Entities))
		for k := range in.Entities {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(&b, "Entity %s: %s\n", k, strings.Join(in.Entities[k], ", "))
		}
	}
	if len(in.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(in.Keywords, ", "))
	}
	return b.String()
}
