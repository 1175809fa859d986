// Package sqlgen turns a classified intent into a parameterized SQL
// artifact, either deterministically from a template table or through the
// LLM service. Values are always bound as parameters, never inlined.
package sqlgen

import (
	"context"
	"strings"

	mimir "github.com/user/mimir"
)

// template is one pattern->SQL translation. match inspects the intent and
// returns the parameter bindings when the template applies.
type template struct {
	name       string
	kinds      []mimir.IntentKind
	confidence float64
	match      func(in mimir.Intent) (map[string]any, bool)
	sql        string
	explain    string
}

// RuleGenerator is the deterministic generator. Its confidence per
// artifact is the matched template's fixed constant.
type RuleGenerator struct {
	templates []template
	logger    mimir.Logger
}

func NewRuleGenerator(logger mimir.Logger) *RuleGenerator {
	return &RuleGenerator{templates: defaultTemplates(), logger: logger}
}

// Generate returns the first matching template's artifact, or an error of
// kind no_rule_match.
func (g *RuleGenerator) Generate(ctx context.Context, query string, in mimir.Intent) (mimir.SQLArtifact, error) {
	for _, t := range g.templates {
		if !kindMatches(t.kinds, in.Kind) {
			continue
		}
		params, ok := t.match(in)
		if !ok {
			continue
		}
		if g.logger != nil {
			g.logger.Debug("rule template matched", "template", t.name, "kind", in.Kind)
		}
		art := mimir.SQLArtifact{
			SQL:         t.sql,
			Parameters:  params,
			Explanation: t.explain,
			Confidence:  t.confidence,
			Source:      mimir.SourceRule,
		}
		if err := art.CheckParameters(); err != nil {
			// A template whose bindings disagree with its SQL is a
			// programming error; skip it rather than emit a broken artifact.
			if g.logger != nil {
				g.logger.Error("rule template parameter mismatch", "template", t.name, "error", err)
			}
			continue
		}
		return art, nil
	}
	return mimir.SQLArtifact{}, mimir.Errf(mimir.KindNoRuleMatch, "no rule template matches intent kind %s", in.Kind)
}

func kindMatches(kinds []mimir.IntentKind, k mimir.IntentKind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

func firstEntity(in mimir.Intent, kind string) (string, bool) {
	vals := in.Entities[kind]
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func hasKeyword(in mimir.Intent, words ...string) bool {
	for _, kw := range in.Keywords {
		for _, w := range words {
			if strings.Contains(kw, w) {
				return true
			}
		}
	}
	return false
}

func defaultTemplates() []template {
	return []template{
		{
			name:       "memos_by_customer",
			kinds:      []mimir.IntentKind{mimir.IntentJoin},
			confidence: 0.75,
			match: func(in mimir.Intent) (map[string]any, bool) {
				name, ok := firstEntity(in, mimir.EntityCustomerName)
				if !ok {
					return nil, false
				}
				return map[string]any{"customer_name": name}, true
			},
			sql:     "SELECT c.name, m.content, m.created_at FROM customers c JOIN customer_memos m ON m.customer_id = c.id WHERE c.name = %(customer_name)s ORDER BY m.created_at DESC",
			explain: "memos for one customer, newest first",
		},
		{
			name:       "avg_premium_by_region",
			kinds:      []mimir.IntentKind{mimir.IntentAggregation},
			confidence: 0.7,
			match: func(in mimir.Intent) (map[string]any, bool) {
				if !hasKeyword(in, "평균", "average", "avg", "premium", "보험료") {
					return nil, false
				}
				return map[string]any{}, true
			},
			sql:     "SELECT c.region, AVG(p.premium) AS avg_premium FROM customers c JOIN customer_products p ON p.customer_id = c.id GROUP BY c.region ORDER BY avg_premium DESC",
			explain: "average product premium grouped by customer region",
		},
		{
			name:       "count_customers_by_region",
			kinds:      []mimir.IntentKind{mimir.IntentAggregation},
			confidence: 0.7,
			match: func(in mimir.Intent) (map[string]any, bool) {
				if loc, ok := firstEntity(in, mimir.EntityLocation); ok {
					return map[string]any{"region": loc}, true
				}
				return nil, false
			},
			sql:     "SELECT COUNT(*) AS customer_count FROM customers WHERE region = %(region)s",
			explain: "customer head count for one region",
		},
		{
			name:       "count_customers",
			kinds:      []mimir.IntentKind{mimir.IntentAggregation},
			confidence: 0.65,
			match: func(in mimir.Intent) (map[string]any, bool) {
				if !hasKeyword(in, "개수", "건수", "count", "how many", "몇") {
					return nil, false
				}
				return map[string]any{}, true
			},
			sql:     "SELECT COUNT(*) AS customer_count FROM customers",
			explain: "total customer head count",
		},
		{
			name:       "customer_by_name",
			kinds:      []mimir.IntentKind{mimir.IntentSimpleQuery, mimir.IntentFiltering},
			confidence: 0.8,
			match: func(in mimir.Intent) (map[string]any, bool) {
				name, ok := firstEntity(in, mimir.EntityCustomerName)
				if !ok {
					return nil, false
				}
				return map[string]any{"customer_name": name}, true
			},
			sql:     "SELECT * FROM customers WHERE name = %(customer_name)s",
			explain: "customer lookup by exact name",
		},
		{
			name:       "customers_by_region",
			kinds:      []mimir.IntentKind{mimir.IntentSimpleQuery, mimir.IntentFiltering},
			confidence: 0.7,
			match: func(in mimir.Intent) (map[string]any, bool) {
				loc, ok := firstEntity(in, mimir.EntityLocation)
				if !ok {
					return nil, false
				}
				return map[string]any{"region": loc}, true
			},
			sql:     "SELECT * FROM customers WHERE region = %(region)s ORDER BY created_at DESC",
			explain: "customers in one region",
		},
		{
			name:       "products_over_amount",
			kinds:      []mimir.IntentKind{mimir.IntentFiltering},
			confidence: 0.65,
			match: func(in mimir.Intent) (map[string]any, bool) {
				amt, ok := firstEntity(in, mimir.EntityAmount)
				if !ok {
					return nil, false
				}
				return map[string]any{"amount": parseAmount(amt)}, true
			},
			sql:     "SELECT c.name, p.product_name, p.premium FROM customers c JOIN customer_products p ON p.customer_id = c.id WHERE p.premium >= %(amount)s ORDER BY p.premium DESC",
			explain: "customers holding products at or above an amount",
		},
		{
			name:       "recent_customers",
			kinds:      []mimir.IntentKind{mimir.IntentSimpleQuery, mimir.IntentFiltering},
			confidence: 0.6,
			match: func(in mimir.Intent) (map[string]any, bool) {
				date, ok := firstEntity(in, mimir.EntityDate)
				if !ok {
					return nil, false
				}
				return map[string]any{"since": resolveDate(date)}, true
			},
			sql:     "SELECT * FROM customers WHERE created_at >= %(since)s ORDER BY created_at DESC",
			explain: "customers registered since a date",
		},
		{
			name:       "memos_by_keyword",
			kinds:      []mimir.IntentKind{mimir.IntentSimpleQuery, mimir.IntentFiltering, mimir.IntentJoin},
			confidence: 0.6,
			match: func(in mimir.Intent) (map[string]any, bool) {
				if !hasKeyword(in, "메모", "memo") {
					return nil, false
				}
				kw := significantKeyword(in)
				if kw == "" {
					return nil, false
				}
				return map[string]any{"pattern": "%" + kw + "%"}, true
			},
			sql:     "SELECT m.content, m.created_at, c.name FROM customer_memos m JOIN customers c ON c.id = m.customer_id WHERE m.content ILIKE %(pattern)s ORDER BY m.created_at DESC",
			explain: "memo full-text lookup by keyword",
		},
	}
}

// significantKeyword returns the first keyword that is not itself a
// memo/customer marker word.
func significantKeyword(in mimir.Intent) string {
	marker := map[string]bool{"메모": true, "memo": true, "memos": true, "고객": true, "customer": true, "customers": true}
	for _, kw := range in.Keywords {
		if !marker[kw] {
			return kw
		}
	}
	return ""
}
