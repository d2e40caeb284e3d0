package agents

import (
	"github.com/inkwell-ai/inkwell-backend/internal/gate"
	"github.com/inkwell-ai/inkwell-backend/internal/genloop"
	"github.com/inkwell-ai/inkwell-backend/internal/pipeline"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/llm"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

// Config carries the tunable loop bounds down into the agents.
type Config struct {
	Bounds             genloop.Bounds
	MaxRefinementSteps int
}

// BuildRegistry assembles the static pipeline registry. Steps are bound to
// agent values at startup; there is no lookup-by-name at execution time beyond
// this table.
func BuildRegistry(client llm.Client, baseLog *logger.Logger, cfg Config) (*pipeline.Registry, error) {
	reg := pipeline.NewRegistry()

	editor := NewEditorAgent(client, baseLog)
	modular := &pipeline.Pipeline{
		Name: "modular",
		Steps: []pipeline.StepDef{
			{Name: "topic_research", Agent: NewTopicResearchAgent(client, baseLog)},
			{Name: "outline", Agent: NewOutlineAgent(client, baseLog, cfg.Bounds)},
			{Name: "draft", Agent: NewDraftAgent(client, baseLog, cfg.Bounds)},
			{Name: "title", Agent: NewTitleAgent(client, baseLog, cfg.Bounds)},
			{Name: "annotate", FanOut: []pipeline.Agent{
				NewSEOAnnotateAgent(baseLog),
				NewFactCheckAgent(baseLog),
			}},
			{Name: "compliance_review", Agent: NewComplianceReviewAgent(baseLog)},
		},
		Finalizer: gate.New(baseLog,
			[]gate.Axis{ComplianceAxis(), SEOAxis()},
			editor,
			cfg.MaxRefinementSteps,
		),
	}
	if err := reg.Register(modular); err != nil {
		return nil, err
	}
	return reg, nil
}
