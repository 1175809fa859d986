// Package strategy orchestrates the rule and LLM generators according to
// the requested strategy.
package strategy

import (
	"context"
	"fmt"
	"strings"

	mimir "github.com/user/mimir"
	"github.com/user/mimir/pkg/retry"
)

type Scheduler struct {
	rule   mimir.Generator
	llm    mimir.Generator
	policy retry.Policy
	logger mimir.Logger
}

// NewScheduler wires the two generators. policy wraps every LLM call;
// rule generation is deterministic and never retried.
func NewScheduler(rule, llm mimir.Generator, policy retry.Policy, logger mimir.Logger) *Scheduler {
	if policy.Retriable == nil {
		policy.Retriable = mimir.IsRetriable
	}
	return &Scheduler{rule: rule, llm: llm, policy: policy, logger: logger}
}

// lowConfidence is the rule-first threshold below which the LLM gets a shot.
const lowConfidence = 0.5

// Generate emits a single artifact for the strategy, or an error of kind
// generation_failed carrying the per-branch reasons.
func (s *Scheduler) Generate(ctx context.Context, query string, in mimir.Intent, strat mimir.Strategy) (mimir.SQLArtifact, error) {
	switch strat {
	case mimir.StrategyRuleOnly:
		art, err := s.rule.Generate(ctx, query, in)
		if err != nil {
			return mimir.SQLArtifact{}, failed(err)
		}
		return art, nil

	case mimir.StrategyLLMOnly:
		art, err := s.generateLLM(ctx, query, in)
		if err != nil {
			return mimir.SQLArtifact{}, failed(err)
		}
		return art, nil

	case mimir.StrategyRuleFirst:
		return s.ruleFirst(ctx, query, in)

	case mimir.StrategyLLMFirst:
		return s.llmFirst(ctx, query, in)

	case mimir.StrategyHybrid:
		return s.hybrid(ctx, query, in)

	default:
		return mimir.SQLArtifact{}, mimir.Errf(mimir.KindValidation, "unsupported strategy %q", strat)
	}
}

func (s *Scheduler) generateLLM(ctx context.Context, query string, in mimir.Intent) (mimir.SQLArtifact, error) {
	var art mimir.SQLArtifact
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		art, err = s.llm.Generate(ctx, query, in)
		return err
	})
	return art, err
}

func (s *Scheduler) ruleFirst(ctx context.Context, query string, in mimir.Intent) (mimir.SQLArtifact, error) {
	ruleArt, ruleErr := s.rule.Generate(ctx, query, in)
	if ruleErr == nil && ruleArt.Confidence >= lowConfidence {
		return ruleArt, nil
	}

	if s.logger != nil {
		s.logger.Debug("rule branch insufficient, falling back to LLM", "rule_error", ruleErr)
	}
	llmArt, llmErr := s.generateLLM(ctx, query, in)
	if llmErr == nil {
		return llmArt, nil
	}
	// A low-confidence rule artifact is still better than nothing.
	if ruleErr == nil {
		return ruleArt, nil
	}
	return mimir.SQLArtifact{}, failed(ruleErr, llmErr)
}

func (s *Scheduler) llmFirst(ctx context.Context, query string, in mimir.Intent) (mimir.SQLArtifact, error) {
	llmArt, llmErr := s.generateLLM(ctx, query, in)
	if llmErr == nil {
		return llmArt, nil
	}
	if mimir.KindOf(llmErr) == mimir.KindCanceled || ctx.Err() != nil {
		return mimir.SQLArtifact{}, llmErr
	}

	if s.logger != nil {
		s.logger.Debug("LLM branch failed, falling back to rules", "llm_error", llmErr)
	}
	ruleArt, ruleErr := s.rule.Generate(ctx, query, in)
	if ruleErr == nil {
		return ruleArt, nil
	}
	return mimir.SQLArtifact{}, failed(llmErr, ruleErr)
}

// hybrid runs both branches in parallel under the shared deadline, waits
// for both, and picks the higher-confidence artifact; ties favor the rule
// result. A failed branch does not abort the other.
func (s *Scheduler) hybrid(ctx context.Context, query string, in mimir.Intent) (mimir.SQLArtifact, error) {
	type outcome struct {
		art mimir.SQLArtifact
		err error
	}

	ruleCh := make(chan outcome, 1)
	llmCh := make(chan outcome, 1)

	go func() {
		art, err := s.rule.Generate(ctx, query, in)
		ruleCh <- outcome{art, err}
	}()
	go func() {
		art, err := s.generateLLM(ctx, query, in)
		llmCh <- outcome{art, err}
	}()

	rule := <-ruleCh
	llm := <-llmCh

	switch {
	case rule.err == nil && llm.err == nil:
		if llm.art.Confidence > rule.art.Confidence {
			return llm.art, nil
		}
		return rule.art, nil
	case rule.err == nil:
		return rule.art, nil
	case llm.err == nil:
		return llm.art, nil
	default:
		return mimir.SQLArtifact{}, failed(rule.err, llm.err)
	}
}

// failed wraps branch errors into a generation_failed error whose Reasons
// hold one entry per branch. Cancellation and timeouts keep their kind so
// the pipeline reports them as such.
func failed(errs ...error) error {
	var reasons []string
	for _, err := range errs {
		if err == nil {
			continue
		}
		switch mimir.KindOf(err) {
		case mimir.KindTimeout, mimir.KindCanceled:
			return err
		}
		reasons = append(reasons, err.Error())
	}
	return &mimir.Error{
		Kind:    mimir.KindGenerationFailed,
		Message: fmt.Sprintf("all generators failed: %s", strings.Join(reasons, "; ")),
		Reasons: reasons,
	}
}
