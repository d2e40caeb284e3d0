package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/inkwell-ai/inkwell-backend/internal/genloop"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/llm"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

// TitleAgent produces the headline through the repair loop with a short-length
// contract.
type TitleAgent struct {
	loop *genloop.Loop
}

func NewTitleAgent(client llm.Client, baseLog *logger.Logger, bounds genloop.Bounds) *TitleAgent {
	return &TitleAgent{
		loop: &genloop.Loop{
			LLM: client,
			Log: baseLog.With("agent", "title"),
			Contract: genloop.Contract{
				MinWords:    4,
				MaxWords:    14,
				TargetWords: 9,
			},
			Bounds: bounds,
			System: "You write headlines. Reply with the headline text only, one line, no quotes.",
			Prompt: func(jc map[string]any, feedback string) string {
				p := fmt.Sprintf("Write a headline for this article.\nTopic: %s\nAngle: %s",
					ctxStr(jc, "topic", ""), ctxStr(jc, "angle", ""))
				if feedback != "" {
					p += "\n\nThe previous attempt was rejected: " + feedback
				}
				return p
			},
		},
	}
}

func (a *TitleAgent) Name() string { return "title" }

func (a *TitleAgent) Process(ctx context.Context, jobContext map[string]any) (map[string]any, error) {
	title, _, err := a.loop.Run(ctx, jobContext)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"`))
	if title == "" {
		return nil, fmt.Errorf("empty title")
	}
	return map[string]any{"title": title}, nil
}
