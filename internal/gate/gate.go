package gate

import (
	"context"
	"fmt"

	"github.com/inkwell-ai/inkwell-backend/internal/pipeline"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

// Issue is one structured gate finding, fed to the editor agent on refinement.
type Issue struct {
	Axis    string `json:"axis"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Axis is one cross-cutting validation (compliance, SEO, ...). Check is pure
// with respect to orchestration state.
type Axis struct {
	Name  string
	Check func(jobContext map[string]any) (bool, []Issue)
}

// Gate re-validates the finished artifact as a whole and drives a bounded
// number of editor fix-up passes. It never blocks waiting for perfection: once
// the refinement budget is spent, the last artifact is returned annotated with
// whatever issues remain.
type Gate struct {
	log                *logger.Logger
	axes               []Axis
	editor             pipeline.Agent
	maxRefinementSteps int
}

func New(baseLog *logger.Logger, axes []Axis, editor pipeline.Agent, maxRefinementSteps int) *Gate {
	if maxRefinementSteps <= 0 {
		maxRefinementSteps = 2
	}
	return &Gate{
		log:                baseLog.With("component", "QualityGate"),
		axes:               axes,
		editor:             editor,
		maxRefinementSteps: maxRefinementSteps,
	}
}

var _ pipeline.Finalizer = (*Gate)(nil)

// Finalize implements pipeline.Finalizer. An editor error propagates as a step
// failure; gate rejections themselves are normal control flow.
func (g *Gate) Finalize(ctx context.Context, jobContext map[string]any) (map[string]any, error) {
	work := make(map[string]any, len(jobContext))
	for k, v := range jobContext {
		work[k] = v
	}

	refinements := 0
	for {
		passed, issues := g.evaluate(work)
		if passed {
			g.annotate(work, refinements, true, nil)
			return work, nil
		}
		if refinements >= g.maxRefinementSteps || g.editor == nil {
			g.log.Warn("gate exhausted refinement budget",
				"refinements", refinements, "open_issues", len(issues))
			g.annotate(work, refinements, false, issues)
			return work, nil
		}

		work["gate_issues"] = encodeIssues(issues)
		update, err := g.editor.Process(ctx, work)
		if err != nil {
			return nil, fmt.Errorf("refinement pass %d: %w", refinements+1, err)
		}
		for k, v := range update {
			work[k] = v
		}
		refinements++
		g.log.Info("gate refinement pass applied", "pass", refinements, "issues", len(issues))
	}
}

func (g *Gate) evaluate(jobContext map[string]any) (bool, []Issue) {
	allPassed := true
	var all []Issue
	axisResults := map[string]bool{}
	for _, axis := range g.axes {
		ok, issues := axis.Check(jobContext)
		axisResults[axis.Name] = ok
		if !ok {
			allPassed = false
			all = append(all, issues...)
		}
	}
	jobContext["gate_axes"] = toAnyMap(axisResults)
	return allPassed, all
}

func (g *Gate) annotate(work map[string]any, refinements int, passed bool, open []Issue) {
	delete(work, "gate_issues")
	work["quality_gate"] = map[string]any{
		"passed":      passed,
		"refinements": refinements,
		"open_issues": encodeIssues(open),
	}
}

func encodeIssues(issues []Issue) []any {
	out := make([]any, 0, len(issues))
	for _, i := range issues {
		out = append(out, map[string]any{
			"axis":    i.Axis,
			"code":    i.Code,
			"message": i.Message,
		})
	}
	return out
}

func toAnyMap(in map[string]bool) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
