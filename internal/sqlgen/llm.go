package sqlgen

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	mimir "github.com/user/mimir"
)

// ChatService is the slice of the LLM client the generator needs.
type ChatService interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMGenerator prompts the LLM service for a SQL artifact.
type LLMGenerator struct {
	chat    ChatService
	logger  mimir.Logger
	maxRows int
}

func NewLLMGenerator(chat ChatService, maxRows int, logger mimir.Logger) *LLMGenerator {
	if maxRows <= 0 {
		maxRows = 100
	}
	return &LLMGenerator{chat: chat, logger: logger, maxRows: maxRows}
}

// Generate prompts the model and parses its JSON reply. A malformed reply
// gets a single repair pass extracting the first balanced {...} block
// before failing with llm_malformed.
func (g *LLMGenerator) Generate(ctx context.Context, query string, in mimir.Intent) (mimir.SQLArtifact, error) {
	content, err := g.chat.Chat(ctx, renderSystemPrompt(g.maxRows), renderUserPrompt(query, in))
	if err != nil {
		return mimir.SQLArtifact{}, err
	}

	art, err := parseArtifact(content)
	if err != nil {
		repaired := extractJSONBlock(content)
		if repaired == "" || repaired == content {
			return mimir.SQLArtifact{}, err
		}
		if g.logger != nil {
			g.logger.Debug("repairing malformed LLM reply", "bytes", len(content))
		}
		if art, err = parseArtifact(repaired); err != nil {
			return mimir.SQLArtifact{}, err
		}
	}
	return art, nil
}

// parseArtifact reads {sql, parameters, explanation, confidence} out of an
// LLM reply. Parameters the SQL never references are dropped; a
// placeholder without a binding is malformed.
func parseArtifact(content string) (mimir.SQLArtifact, error) {
	if !gjson.Valid(content) {
		return mimir.SQLArtifact{}, mimir.Errf(mimir.KindLLMMalformed, "LLM reply is not valid JSON")
	}

	sql := strings.TrimSpace(gjson.Get(content, "sql").String())
	if sql == "" {
		return mimir.SQLArtifact{}, mimir.Errf(mimir.KindLLMMalformed, "LLM reply has no sql field")
	}

	params := map[string]any{}
	gjson.Get(content, "parameters").ForEach(func(key, value gjson.Result) bool {
		params[key.String()] = value.Value()
		return true
	})

	confidence := 0.7
	if c := gjson.Get(content, "confidence"); c.Exists() && c.Float() > 0 {
		confidence = c.Float()
		if confidence > 1 {
			confidence = 1
		}
	}

	art := mimir.SQLArtifact{
		SQL:         sql,
		Parameters:  params,
		Explanation: gjson.Get(content, "explanation").String(),
		Confidence:  confidence,
		Source:      mimir.SourceLLM,
	}

	// Drop bindings the SQL never uses, then require parity.
	used := map[string]bool{}
	for _, n := range art.Placeholders() {
		used[n] = true
	}
	for k := range art.Parameters {
		if !used[k] {
			delete(art.Parameters, k)
		}
	}
	if err := art.CheckParameters(); err != nil {
		return mimir.SQLArtifact{}, mimir.WrapErr(mimir.KindLLMMalformed, err)
	}
	return art, nil
}

// extractJSONBlock returns the first balanced top-level {...} block,
// honoring strings and escapes.
func extractJSONBlock(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
