package intent

import (
	"context"
	"testing"

	mimir "github.com/user/mimir"
	"github.com/user/mimir/pkg/logging"
)

func newTestClassifier() *Classifier {
	return NewClassifier(nil, logging.Nop{})
}

func TestClassifyCustomerByName(t *testing.T) {
	in := newTestClassifier().Classify(context.Background(), "customers named 홍길동")

	if in.Kind != mimir.IntentSimpleQuery {
		t.Errorf("Kind = %s, want simple_query", in.Kind)
	}
	names := in.Entities[mimir.EntityCustomerName]
	if len(names) != 1 || names[0] != "홍길동" {
		t.Errorf("customer_name = %v, want [홍길동]", names)
	}
}

func TestClassifyKoreanNameMarker(t *testing.T) {
	in := newTestClassifier().Classify(context.Background(), "김철수 고객의 메모")
	names := in.Entities[mimir.EntityCustomerName]
	if len(names) != 1 || names[0] != "김철수" {
		t.Errorf("customer_name = %v, want [김철수]", names)
	}
}

func TestClassifyAggregation(t *testing.T) {
	in := newTestClassifier().Classify(context.Background(), "average premium by region for 30대")
	if in.Kind != mimir.IntentAggregation {
		t.Errorf("Kind = %s, want aggregation", in.Kind)
	}
}

func TestClassifyPrecedenceAggregationOverJoin(t *testing.T) {
	// Contains both a join signal and an aggregation signal.
	in := newTestClassifier().Classify(context.Background(), "고객별 메모 개수")
	if in.Kind != mimir.IntentAggregation {
		t.Errorf("Kind = %s, want aggregation (precedence)", in.Kind)
	}
}

func TestClassifyJoin(t *testing.T) {
	in := newTestClassifier().Classify(context.Background(), "customers with their memos")
	if in.Kind != mimir.IntentJoin {
		t.Errorf("Kind = %s, want join", in.Kind)
	}
}

func TestClassifyFilteringFromAmount(t *testing.T) {
	in := newTestClassifier().Classify(context.Background(), "보험료 50만원 이상 고객")
	if in.Kind != mimir.IntentFiltering {
		t.Errorf("Kind = %s, want filtering", in.Kind)
	}
	if len(in.Entities[mimir.EntityAmount]) == 0 {
		t.Error("amount entity not extracted")
	}
}

func TestClassifyDateEntities(t *testing.T) {
	in := newTestClassifier().Classify(context.Background(), "지난 주 등록된 고객")
	if len(in.Entities[mimir.EntityDate]) == 0 {
		t.Error("date entity not extracted")
	}
	if in.Kind != mimir.IntentFiltering {
		t.Errorf("Kind = %s, want filtering", in.Kind)
	}
}

func TestClassifyNeverFails(t *testing.T) {
	for _, q := range []string{"", "   ", "ㅁㄴㅇㄹ", "???", "x"} {
		in := newTestClassifier().Classify(context.Background(), q)
		if in.Confidence > 0.2 {
			t.Errorf("Classify(%q) confidence = %v, want <= 0.2", q, in.Confidence)
		}
	}
}

func TestClampBounds(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "평균 합계 개수 메모와 함께 이상 이하 서울 부산 2024-01-01 "
	}
	in := newTestClassifier().Classify(context.Background(), long)
	if in.Complexity < 0 || in.Complexity > 1 {
		t.Errorf("Complexity = %v, out of [0,1]", in.Complexity)
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		t.Errorf("Confidence = %v, out of [0,1]", in.Confidence)
	}
}

func TestEmptyEntityListsOmitted(t *testing.T) {
	in := newTestClassifier().Classify(context.Background(), "hello world")
	for kind, vals := range in.Entities {
		if len(vals) == 0 {
			t.Errorf("entity kind %s has empty list, should be omitted", kind)
		}
	}
}

type fakeMorph struct{ out []string }

func (f fakeMorph) Morphemes(q string) []string { return f.out }

func TestMorphHookMergesKeywords(t *testing.T) {
	c := NewClassifier(fakeMorph{out: []string{"보험금", "청구"}}, logging.Nop{})
	in := c.Classify(context.Background(), "보험금 청구 내역")
	kws := in.Entities[mimir.EntityKeyword]
	found := map[string]bool{}
	for _, k := range kws {
		found[k] = true
	}
	if !found["보험금"] || !found["청구"] {
		t.Errorf("morpheme keywords missing: %v", kws)
	}
}
