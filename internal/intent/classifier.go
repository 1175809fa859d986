// Package intent classifies natural-language queries into a structured
// intent: kind, extracted entities, keywords, complexity, confidence.
// Classification never fails; low-signal queries come back with
// confidence <= 0.2.
package intent

import (
	"context"
	"fmt"
	"strings"

	mimir "github.com/user/mimir"
	"github.com/user/mimir/pkg/textutil"
)

type Classifier struct {
	morph  mimir.MorphAnalyzer
	logger mimir.Logger
}

// NewClassifier creates a pattern-based classifier. morph is the optional
// morphological analyzer hook; pass nil to rely on pattern matching alone.
func NewClassifier(morph mimir.MorphAnalyzer, logger mimir.Logger) *Classifier {
	return &Classifier{morph: morph, logger: logger}
}

// Classify extracts entities from the normalized query and classifies it.
// Kind precedence when several match: aggregation > join > filtering >
// simple_query.
func (c *Classifier) Classify(ctx context.Context, query string) mimir.Intent {
	query = textutil.Normalize(query)

	entities := extractEntities(query)
	if c.morph != nil {
		mergeMorphemes(entities, c.morph.Morphemes(query))
	}

	aggs := countMatches(aggregationSignals, query)
	joins := countMatches(joinSignals, query)
	filters := countMatches(filterSignals, query)

	kind := mimir.IntentSimpleQuery
	reasoning := "no structural signals; treating as direct lookup"
	switch {
	case aggs > 0:
		kind = mimir.IntentAggregation
		reasoning = fmt.Sprintf("%d aggregation signal(s)", aggs)
	case joins > 0:
		kind = mimir.IntentJoin
		reasoning = fmt.Sprintf("%d join signal(s)", joins)
	case filters > 0 || entities[mimir.EntityAmount] != nil || entities[mimir.EntityDate] != nil:
		kind = mimir.IntentFiltering
		reasoning = fmt.Sprintf("%d filter signal(s)", filters)
	}

	keywords := textutil.Keywords(query)

	entityCount := 0
	for _, vals := range entities {
		entityCount += len(vals)
	}

	in := mimir.Intent{
		Kind:       kind,
		Entities:   entities,
		Keywords:   keywords,
		Complexity: 0.1*float64(entityCount) + 0.2*float64(joins) + 0.15*float64(aggs) + 0.05*float64(len(query))/100,
		Confidence: confidence(entityCount, aggs+joins+filters, len(keywords)),
		Reasoning:  reasoning,
	}
	in.Clamp()

	if c.logger != nil {
		c.logger.Debug("intent classified", "kind", in.Kind, "entities", entityCount, "confidence", in.Confidence)
	}
	return in
}

// confidence grows with extracted evidence. Queries with no entities or
// signals get 0.2, or 0.1 when they have no keywords either.
func confidence(entities, signals, keywords int) float64 {
	if entities == 0 && signals == 0 {
		if keywords == 0 {
			return 0.1
		}
		return 0.2
	}
	conf := 0.45 + 0.1*float64(entities) + 0.08*float64(signals)
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

func countMatches(patterns []string, query string) int {
	n := 0
	for _, p := range patterns {
		if strings.Contains(query, p) {
			n++
		}
	}
	return n
}

// mergeMorphemes folds analyzer output into the keyword entity bucket
// without duplicating pattern hits.
func mergeMorphemes(entities map[string][]string, morphemes []string) {
	seen := map[string]bool{}
	for _, vals := range entities {
		for _, v := range vals {
			seen[v] = true
		}
	}
	for _, m := range morphemes {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		entities[mimir.EntityKeyword] = append(entities[mimir.EntityKeyword], m)
	}
}
