package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/inkwell-ai/inkwell-backend/internal/genloop"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/llm/mock"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

func TestTopicResearchParsesStructuredReply(t *testing.T) {
	client := mock.New("Angle: The hidden cost of caching\nAudience: backend engineers\nKeywords: cache, redis, eviction")
	a := NewTopicResearchAgent(client, logger.NewNop())

	update, err := a.Process(context.Background(), map[string]any{"topic": "caching"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if update["angle"] != "The hidden cost of caching" {
		t.Fatalf("angle = %v", update["angle"])
	}
	if update["audience"] != "backend engineers" {
		t.Fatalf("audience = %v", update["audience"])
	}
	kws, _ := update["keywords"].([]string)
	if len(kws) != 3 || kws[1] != "redis" {
		t.Fatalf("keywords = %v", kws)
	}
}

func TestTopicResearchRequiresTopic(t *testing.T) {
	a := NewTopicResearchAgent(mock.New(), logger.NewNop())
	if _, err := a.Process(context.Background(), map[string]any{}); err == nil {
		t.Fatal("missing topic accepted")
	}
}

func TestDraftBuildsContractFromTarget(t *testing.T) {
	body := "## Intro\n" + strings.TrimSpace(strings.Repeat("word ", 90))
	client := mock.New(body)
	a := NewDraftAgent(client, logger.NewNop(), genloop.Bounds{DraftCycles: 1, RepairRounds: 1})

	update, err := a.Process(context.Background(), map[string]any{
		"topic":        "caching",
		"outline":      "## Intro",
		"sections":     []any{"Intro"},
		"target_words": float64(120), // JSON round-trip shape
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if update["content"] != body {
		t.Fatalf("content = %q", update["content"])
	}
	if wc := update["word_count"].(int); wc != 92 {
		t.Fatalf("word_count = %d", wc)
	}
	report, ok := update["draft_report"].(genloop.Report)
	if !ok || !report.Accepted {
		t.Fatalf("draft_report = %+v", update["draft_report"])
	}
}

func TestDraftRequiresOutline(t *testing.T) {
	a := NewDraftAgent(mock.New(), logger.NewNop(), genloop.Bounds{})
	if _, err := a.Process(context.Background(), map[string]any{"topic": "x"}); err == nil {
		t.Fatal("missing outline accepted")
	}
}

func TestComplianceIssues(t *testing.T) {
	issues := ComplianceIssues("Our method offers guaranteed results and is risk-free.")
	if len(issues) != 2 {
		t.Fatalf("issues = %v", issues)
	}
	if issues := ComplianceIssues("A measured, qualified claim."); len(issues) != 0 {
		t.Fatalf("false positives: %v", issues)
	}
}

func TestComplianceReviewAgent(t *testing.T) {
	a := NewComplianceReviewAgent(logger.NewNop())
	update, err := a.Process(context.Background(), map[string]any{"content": "This cures everything."})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	verdict := update["compliance"].(map[string]any)
	if verdict["passed"] != false {
		t.Fatalf("verdict = %v", verdict)
	}
}

func TestSEOScore(t *testing.T) {
	score, missing := SEOScore("Redis is a cache for fast lookups.", []string{"redis", "cache", "sharding"})
	if score != 66 {
		t.Fatalf("score = %d, want 66", score)
	}
	if len(missing) != 1 || missing[0] != "sharding" {
		t.Fatalf("missing = %v", missing)
	}
	if score, _ := SEOScore("anything", nil); score != 100 {
		t.Fatalf("empty keyword list should score 100, got %d", score)
	}
}

func TestSEOAnnotateAgentWritesDisjointKey(t *testing.T) {
	a := NewSEOAnnotateAgent(logger.NewNop())
	update, err := a.Process(context.Background(), map[string]any{
		"content":  "Redis cache eviction explained.",
		"keywords": []any{"redis", "cache", "eviction"},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(update) != 1 {
		t.Fatalf("update = %v, want single seo key", update)
	}
	seo := update["seo"].(map[string]any)
	if seo["passed"] != true {
		t.Fatalf("seo = %v", seo)
	}
}

func TestFactCheckFlagsUnsourcedClaims(t *testing.T) {
	a := NewFactCheckAgent(logger.NewNop())
	content := "Latency dropped by 80% overnight. According to the survey, 40% of teams cache aggressively."
	update, err := a.Process(context.Background(), map[string]any{"content": content})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	fc := update["fact_check"].(map[string]any)
	if fc["claims"] != 2 {
		t.Fatalf("claims = %v", fc["claims"])
	}
	flagged := fc["flagged"].([]any)
	if len(flagged) != 1 || !strings.Contains(flagged[0].(string), "80%") {
		t.Fatalf("flagged = %v", flagged)
	}
}

func TestCtxHelpersTolerateJSONShapes(t *testing.T) {
	jc := map[string]any{
		"n":     float64(7),
		"s":     "  hello ",
		"list":  []any{"a", " b ", ""},
		"comma": "x, y ,z",
	}
	if v := ctxInt(jc, "n", 0); v != 7 {
		t.Fatalf("ctxInt = %d", v)
	}
	if v := ctxStr(jc, "s", ""); v != "hello" {
		t.Fatalf("ctxStr = %q", v)
	}
	if v := ctxStrings(jc, "list"); len(v) != 2 || v[1] != "b" {
		t.Fatalf("ctxStrings list = %v", v)
	}
	if v := ctxStrings(jc, "comma"); len(v) != 3 || v[2] != "z" {
		t.Fatalf("ctxStrings comma = %v", v)
	}
	if v := ctxInt(jc, "missing", 42); v != 42 {
		t.Fatalf("ctxInt default = %d", v)
	}
}

func TestBuildRegistryWiresModularPipeline(t *testing.T) {
	reg, err := BuildRegistry(mock.New(), logger.NewNop(), Config{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	p, ok := reg.Get("modular")
	if !ok {
		t.Fatal("modular pipeline missing")
	}
	names := p.StepNames()
	want := []string{"topic_research", "outline", "draft", "title", "annotate", "compliance_review"}
	if len(names) != len(want) {
		t.Fatalf("steps = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("step %d = %s, want %s", i, names[i], want[i])
		}
	}
	if p.Finalizer == nil {
		t.Fatal("quality gate not attached")
	}
	annotate := p.Steps[4]
	if annotate.Agent != nil || len(annotate.FanOut) != 2 {
		t.Fatalf("annotate step = %+v, want two fan-out agents", annotate)
	}
}
