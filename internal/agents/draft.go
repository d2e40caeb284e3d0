package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/inkwell-ai/inkwell-backend/internal/genloop"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/llm"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

// DraftAgent writes the article body. The contract is built per job from the
// requested target length and the outline's headings, so the repair loop can
// push the model toward the exact structure the outline promised.
type DraftAgent struct {
	llm    llm.Client
	log    *logger.Logger
	bounds genloop.Bounds
}

func NewDraftAgent(client llm.Client, baseLog *logger.Logger, bounds genloop.Bounds) *DraftAgent {
	return &DraftAgent{llm: client, log: baseLog.With("agent", "draft"), bounds: bounds}
}

func (a *DraftAgent) Name() string { return "draft" }

func (a *DraftAgent) Process(ctx context.Context, jobContext map[string]any) (map[string]any, error) {
	outline := ctxStr(jobContext, "outline", "")
	if outline == "" {
		return nil, fmt.Errorf("missing outline in context")
	}
	target := ctxInt(jobContext, "target_words", 900)

	loop := &genloop.Loop{
		LLM: a.llm,
		Log: a.log,
		Contract: genloop.Contract{
			MinWords:         target * 2 / 3,
			MaxWords:         target * 5 / 3,
			TargetWords:      target,
			RequiredSections: ctxStrings(jobContext, "sections"),
			RepeatLimit:      2,
		},
		Bounds: a.bounds,
		System: "You are a senior writer producing publication-ready markdown articles.",
		Prompt: func(jc map[string]any, feedback string) string {
			p := fmt.Sprintf(
				"Write the full article body in markdown, about %d words.\nTopic: %s\nAngle: %s\nAudience: %s\n\nFollow this outline exactly, keeping every \"## \" heading:\n\n%s",
				target,
				ctxStr(jc, "topic", ""),
				ctxStr(jc, "angle", ""),
				ctxStr(jc, "audience", "a general technical audience"),
				outline)
			if kws := ctxStrings(jc, "keywords"); len(kws) > 0 {
				p += "\n\nWork these keywords in naturally: " + strings.Join(kws, ", ")
			}
			if feedback != "" {
				p += "\n\nThe previous attempt was rejected: " + feedback
			}
			return p
		},
	}

	content, report, err := loop.Run(ctx, jobContext)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content":      content,
		"word_count":   genloop.WordCount(content),
		"draft_report": report,
	}, nil
}
