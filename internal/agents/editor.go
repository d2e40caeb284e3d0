package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/inkwell-ai/inkwell-backend/internal/genloop"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/llm"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

// EditorAgent is the quality gate's corrective step: it rewrites the content
// to address the accumulated gate issues while preserving structure.
type EditorAgent struct {
	llm llm.Client
	log *logger.Logger
}

func NewEditorAgent(client llm.Client, baseLog *logger.Logger) *EditorAgent {
	return &EditorAgent{llm: client, log: baseLog.With("agent", "editor")}
}

func (a *EditorAgent) Name() string { return "editor" }

func (a *EditorAgent) Process(ctx context.Context, jobContext map[string]any) (map[string]any, error) {
	content := ctxStr(jobContext, "content", "")
	if content == "" {
		return nil, fmt.Errorf("missing content in context")
	}
	issues, ok := jobContext["gate_issues"]
	if !ok {
		return nil, fmt.Errorf("missing gate_issues in context")
	}
	issuesJSON, _ := json.MarshalIndent(issues, "", "  ")

	prompt := fmt.Sprintf(
		"Edit the article below to resolve every listed issue. Keep all \"## \" headings and the overall length; change only what the issues require.\n\nIssues:\n%s\n\nArticle:\n%s",
		string(issuesJSON), content)
	revised, err := a.llm.Complete(ctx, "You are a meticulous line editor.", prompt)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content":    revised,
		"word_count": genloop.WordCount(revised),
	}, nil
}
