package agents

import (
	"context"
	"fmt"

	"github.com/inkwell-ai/inkwell-backend/internal/genloop"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/llm"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

// OutlineAgent produces the article skeleton through the repair loop; the
// contract requires the framing sections so the draft step always has a
// usable structure to fill.
type OutlineAgent struct {
	loop *genloop.Loop
}

func NewOutlineAgent(client llm.Client, baseLog *logger.Logger, bounds genloop.Bounds) *OutlineAgent {
	return &OutlineAgent{
		loop: &genloop.Loop{
			LLM: client,
			Log: baseLog.With("agent", "outline"),
			Contract: genloop.Contract{
				MinWords:         40,
				RequiredSections: []string{"Introduction", "Conclusion"},
			},
			Bounds: bounds,
			System: "You are an editor planning a long-form article. Output markdown only.",
			Prompt: outlinePrompt,
		},
	}
}

func outlinePrompt(jobContext map[string]any, feedback string) string {
	p := fmt.Sprintf(
		"Write a markdown outline for an article.\nTopic: %s\nAngle: %s\nAudience: %s\n\nUse \"## \" headings, starting with \"## Introduction\" and ending with \"## Conclusion\", with 3-5 body sections between them. Under each heading add 2-3 bullet points.",
		ctxStr(jobContext, "topic", ""),
		ctxStr(jobContext, "angle", ""),
		ctxStr(jobContext, "audience", "a general technical audience"))
	if feedback != "" {
		p += "\n\nThe previous attempt was rejected: " + feedback
	}
	return p
}

func (a *OutlineAgent) Name() string { return "outline" }

func (a *OutlineAgent) Process(ctx context.Context, jobContext map[string]any) (map[string]any, error) {
	outline, report, err := a.loop.Run(ctx, jobContext)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"outline":        outline,
		"sections":       headings(outline),
		"outline_report": report,
	}, nil
}
