package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

// The two annotation agents are declared independent: they both read the
// drafted content and write disjoint context keys, so the dispatcher may run
// them concurrently.

// SEOAnnotateAgent scores keyword coverage and density against the research
// step's keyword list. Pure heuristics, no model call.
type SEOAnnotateAgent struct {
	log *logger.Logger
}

func NewSEOAnnotateAgent(baseLog *logger.Logger) *SEOAnnotateAgent {
	return &SEOAnnotateAgent{log: baseLog.With("agent", "seo_annotate")}
}

func (a *SEOAnnotateAgent) Name() string { return "seo_annotate" }

func (a *SEOAnnotateAgent) Process(_ context.Context, jobContext map[string]any) (map[string]any, error) {
	content := ctxStr(jobContext, "content", "")
	if content == "" {
		return nil, fmt.Errorf("missing content in context")
	}
	keywords := ctxStrings(jobContext, "keywords")
	score, missing := SEOScore(content, keywords)
	return map[string]any{
		"seo": map[string]any{
			"score":            score,
			"missing_keywords": toAnySlice(missing),
			"passed":           score >= seoPassScore,
		},
	}, nil
}

const seoPassScore = 60

// SEOScore is the shared coverage heuristic: the share of keywords that occur
// in the content at least once. Also used by the quality gate's SEO axis.
func SEOScore(content string, keywords []string) (int, []string) {
	if len(keywords) == 0 {
		return 100, nil
	}
	lower := strings.ToLower(content)
	var missing []string
	hit := 0
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(strings.TrimSpace(kw))) {
			hit++
		} else {
			missing = append(missing, kw)
		}
	}
	return 100 * hit / len(keywords), missing
}

// FactCheckAgent flags numeric claims that carry no nearby qualifier or
// source. Purely lexical; the point is surfacing claims for the gate report,
// not verifying them.
type FactCheckAgent struct {
	log *logger.Logger
}

func NewFactCheckAgent(baseLog *logger.Logger) *FactCheckAgent {
	return &FactCheckAgent{log: baseLog.With("agent", "fact_check")}
}

func (a *FactCheckAgent) Name() string { return "fact_check" }

var numericClaimRe = regexp.MustCompile(`\b\d[\d,.]*\s*(?:%|(?:percent|x|times|million|billion|users|years)\b)`)

var sourceHintRe = regexp.MustCompile(`(?i)(according to|reported|study|survey|estimated|approximately|about|roughly|around)`)

func (a *FactCheckAgent) Process(_ context.Context, jobContext map[string]any) (map[string]any, error) {
	content := ctxStr(jobContext, "content", "")
	if content == "" {
		return nil, fmt.Errorf("missing content in context")
	}
	var flagged []string
	claims := 0
	for _, sentence := range strings.Split(content, ".") {
		if !numericClaimRe.MatchString(sentence) {
			continue
		}
		claims++
		if !sourceHintRe.MatchString(sentence) {
			flagged = append(flagged, strings.TrimSpace(sentence))
		}
	}
	return map[string]any{
		"fact_check": map[string]any{
			"claims":  claims,
			"flagged": toAnySlice(flagged),
		},
	}, nil
}

func toAnySlice(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}
