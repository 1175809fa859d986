package strategy

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	mimir "github.com/user/mimir"
	"github.com/user/mimir/pkg/logging"
	"github.com/user/mimir/pkg/retry"
)

type stubGen struct {
	art   mimir.SQLArtifact
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (s *stubGen) Generate(ctx context.Context, query string, in mimir.Intent) (mimir.SQLArtifact, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return mimir.SQLArtifact{}, mimir.WrapErr(mimir.KindCanceled, ctx.Err())
		}
	}
	return s.art, s.err
}

func ruleArt(conf float64) mimir.SQLArtifact {
	return mimir.SQLArtifact{SQL: "SELECT 1", Confidence: conf, Source: mimir.SourceRule}
}

func llmArt(conf float64) mimir.SQLArtifact {
	return mimir.SQLArtifact{SQL: "SELECT 2", Confidence: conf, Source: mimir.SourceLLM}
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, Retriable: mimir.IsRetriable}
}

func newScheduler(rule, llm mimir.Generator, attempts int) *Scheduler {
	return NewScheduler(rule, llm, fastPolicy(attempts), logging.Nop{})
}

func TestRuleOnlyNoFallback(t *testing.T) {
	rule := &stubGen{err: mimir.Errf(mimir.KindNoRuleMatch, "none")}
	llm := &stubGen{art: llmArt(0.9)}
	s := newScheduler(rule, llm, 1)

	_, err := s.Generate(context.Background(), "q", mimir.Intent{}, mimir.StrategyRuleOnly)
	if mimir.KindOf(err) != mimir.KindGenerationFailed {
		t.Fatalf("kind = %s, want generation_failed", mimir.KindOf(err))
	}
	if llm.calls.Load() != 0 {
		t.Error("rule_only invoked the LLM")
	}
}

func TestLLMOnlyRetriesThenFails(t *testing.T) {
	rule := &stubGen{art: ruleArt(0.8)}
	llm := &stubGen{err: mimir.Errf(mimir.KindLLMTimeout, "slow")}
	s := newScheduler(rule, llm, 3)

	_, err := s.Generate(context.Background(), "q", mimir.Intent{}, mimir.StrategyLLMOnly)
	if mimir.KindOf(err) != mimir.KindGenerationFailed {
		t.Fatalf("kind = %s, want generation_failed", mimir.KindOf(err))
	}
	if got := llm.calls.Load(); got != 3 {
		t.Errorf("llm calls = %d, want 3", got)
	}
	if rule.calls.Load() != 0 {
		t.Error("llm_only invoked the rule generator")
	}
}

func TestRuleFirstHighConfidenceSkipsLLM(t *testing.T) {
	rule := &stubGen{art: ruleArt(0.8)}
	llm := &stubGen{art: llmArt(0.9)}
	s := newScheduler(rule, llm, 1)

	art, err := s.Generate(context.Background(), "q", mimir.Intent{}, mimir.StrategyRuleFirst)
	if err != nil {
		t.Fatalf("Generate returned %v", err)
	}
	if art.Source != mimir.SourceRule {
		t.Errorf("Source = %s, want rule", art.Source)
	}
	if llm.calls.Load() != 0 {
		t.Error("LLM invoked despite confident rule match")
	}
}

func TestRuleFirstLowConfidenceFallsBack(t *testing.T) {
	rule := &stubGen{art: ruleArt(0.4)}
	llm := &stubGen{art: llmArt(0.9)}
	s := newScheduler(rule, llm, 1)

	art, err := s.Generate(context.Background(), "q", mimir.Intent{}, mimir.StrategyRuleFirst)
	if err != nil {
		t.Fatalf("Generate returned %v", err)
	}
	if art.Source != mimir.SourceLLM {
		t.Errorf("Source = %s, want llm", art.Source)
	}
}

func TestRuleFirstKeepsLowConfidenceRuleWhenLLMFails(t *testing.T) {
	rule := &stubGen{art: ruleArt(0.4)}
	llm := &stubGen{err: mimir.Errf(mimir.KindLLMUnavailable, "no key")}
	s := newScheduler(rule, llm, 1)

	art, err := s.Generate(context.Background(), "q", mimir.Intent{}, mimir.StrategyRuleFirst)
	if err != nil {
		t.Fatalf("Generate returned %v", err)
	}
	if art.Source != mimir.SourceRule {
		t.Errorf("Source = %s, want rule", art.Source)
	}
}

func TestLLMFirstFallsBackToRules(t *testing.T) {
	rule := &stubGen{art: ruleArt(0.7)}
	llm := &stubGen{err: mimir.Errf(mimir.KindLLMMalformed, "garbage")}
	s := newScheduler(rule, llm, 2)

	art, err := s.Generate(context.Background(), "q", mimir.Intent{}, mimir.StrategyLLMFirst)
	if err != nil {
		t.Fatalf("Generate returned %v", err)
	}
	if art.Source != mimir.SourceRule {
		t.Errorf("Source = %s, want rule", art.Source)
	}
	if got := llm.calls.Load(); got != 2 {
		t.Errorf("llm calls = %d, want 2 (retried before falling back)", got)
	}
}

func TestHybridPicksHigherConfidence(t *testing.T) {
	rule := &stubGen{art: ruleArt(0.7)}
	llm := &stubGen{art: llmArt(0.9)}
	s := newScheduler(rule, llm, 1)

	art, err := s.Generate(context.Background(), "q", mimir.Intent{}, mimir.StrategyHybrid)
	if err != nil {
		t.Fatalf("Generate returned %v", err)
	}
	if art.Source != mimir.SourceLLM {
		t.Errorf("Source = %s, want llm", art.Source)
	}
	if art.Confidence < 0.9 {
		t.Errorf("Confidence = %v, want >= max of both branches", art.Confidence)
	}
}

func TestHybridTieFavorsRule(t *testing.T) {
	rule := &stubGen{art: ruleArt(0.8)}
	llm := &stubGen{art: llmArt(0.8)}
	s := newScheduler(rule, llm, 1)

	art, err := s.Generate(context.Background(), "q", mimir.Intent{}, mimir.StrategyHybrid)
	if err != nil {
		t.Fatalf("Generate returned %v", err)
	}
	if art.Source != mimir.SourceRule {
		t.Errorf("Source = %s, want rule on tie", art.Source)
	}
}

func TestHybridSurvivesOneFailedBranch(t *testing.T) {
	rule := &stubGen{err: mimir.Errf(mimir.KindNoRuleMatch, "none")}
	llm := &stubGen{art: llmArt(0.8), delay: 10 * time.Millisecond}
	s := newScheduler(rule, llm, 1)

	art, err := s.Generate(context.Background(), "q", mimir.Intent{}, mimir.StrategyHybrid)
	if err != nil {
		t.Fatalf("Generate returned %v", err)
	}
	if art.Source != mimir.SourceLLM {
		t.Errorf("Source = %s, want llm", art.Source)
	}
}

func TestHybridBothFailUnionsReasons(t *testing.T) {
	rule := &stubGen{err: mimir.Errf(mimir.KindNoRuleMatch, "none")}
	llm := &stubGen{err: mimir.Errf(mimir.KindLLMUnavailable, "no key")}
	s := newScheduler(rule, llm, 1)

	_, err := s.Generate(context.Background(), "q", mimir.Intent{}, mimir.StrategyHybrid)
	if mimir.KindOf(err) != mimir.KindGenerationFailed {
		t.Fatalf("kind = %s, want generation_failed", mimir.KindOf(err))
	}
	if reasons := mimir.ReasonsOf(err); len(reasons) != 2 {
		t.Errorf("reasons = %v, want one per branch", reasons)
	}
}

func TestUnsupportedStrategy(t *testing.T) {
	s := newScheduler(&stubGen{}, &stubGen{}, 1)
	_, err := s.Generate(context.Background(), "q", mimir.Intent{}, mimir.Strategy("psychic"))
	if mimir.KindOf(err) != mimir.KindValidation {
		t.Fatalf("kind = %s, want validation", mimir.KindOf(err))
	}
}
