package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/inkwell-ai/inkwell-backend/internal/platform/llm"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

// TopicResearchAgent turns the raw topic brief into an angle, an audience and
// a keyword list for the downstream steps.
type TopicResearchAgent struct {
	llm llm.Client
	log *logger.Logger
}

func NewTopicResearchAgent(client llm.Client, baseLog *logger.Logger) *TopicResearchAgent {
	return &TopicResearchAgent{llm: client, log: baseLog.With("agent", "topic_research")}
}

func (a *TopicResearchAgent) Name() string { return "topic_research" }

func (a *TopicResearchAgent) Process(ctx context.Context, jobContext map[string]any) (map[string]any, error) {
	topic := ctxStr(jobContext, "topic", "")
	if topic == "" {
		return nil, fmt.Errorf("missing topic in context")
	}
	prompt := fmt.Sprintf(
		"Topic: %s\n\nReply with exactly three lines:\nAngle: <one-sentence editorial angle>\nAudience: <who this is for>\nKeywords: <5-8 comma-separated SEO keywords>",
		topic)
	text, err := a.llm.Complete(ctx, "You are an editorial researcher for long-form articles.", prompt)
	if err != nil {
		return nil, err
	}

	update := map[string]any{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToLower(line), "angle:"):
			update["angle"] = strings.TrimSpace(line[len("angle:"):])
		case strings.HasPrefix(strings.ToLower(line), "audience:"):
			update["audience"] = strings.TrimSpace(line[len("audience:"):])
		case strings.HasPrefix(strings.ToLower(line), "keywords:"):
			var kws []string
			for _, k := range strings.Split(line[len("keywords:"):], ",") {
				if s := strings.TrimSpace(k); s != "" {
					kws = append(kws, s)
				}
			}
			update["keywords"] = kws
		}
	}
	if _, ok := update["angle"]; !ok {
		update["angle"] = strings.TrimSpace(text)
	}
	return update, nil
}
