package genloop

import (
	"context"
	"errors"
	"fmt"

	"github.com/inkwell-ai/inkwell-backend/internal/platform/llm"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

// ErrExhausted is returned when every draft/repair cycle failed validation and
// the best candidate is not close enough to the contract to ship.
var ErrExhausted = errors.New("generation attempts exhausted")

// Bounds are the named loop limits. They are configuration, not correctness:
// any positive values terminate.
type Bounds struct {
	DraftCycles  int // full Draft -> Validate -> repair cycles
	RepairRounds int // targeted rewrites per failed validation
}

func (b Bounds) withDefaults() Bounds {
	if b.DraftCycles <= 0 {
		b.DraftCycles = 3
	}
	if b.RepairRounds <= 0 {
		b.RepairRounds = 2
	}
	return b
}

// fallbackFloorFrac is the minimum share of the contract's length floor a
// non-passing best candidate must reach to be returned instead of an error.
const fallbackFloorFrac = 0.6

// Report describes how the loop terminated. Every terminal outcome is
// explicit: accepted, ranked fallback, or error.
type Report struct {
	Accepted     bool    `json:"accepted"`
	Fallback     bool    `json:"fallback"`
	LLMCalls     int     `json:"llm_calls"`
	DraftCycles  int     `json:"draft_cycles"`
	RepairRounds int     `json:"repair_rounds"`
	FinalVerdict Verdict `json:"final_verdict"`
}

// Loop is the in-step Draft -> Validate -> Repair state machine used by
// content-producing agents. State is step-local and destroyed on return.
type Loop struct {
	LLM      llm.Client
	Log      *logger.Logger
	Contract Contract
	Bounds   Bounds

	// System is the agent's system prompt; Prompt builds the user prompt from
	// the job context plus accumulated feedback from the previous failed cycle.
	System string
	Prompt func(jobContext map[string]any, feedback string) string
}

// Run drives the loop to a terminal state. It performs at most
// DraftCycles * (1 + RepairRounds) completion calls.
func (l *Loop) Run(ctx context.Context, jobContext map[string]any) (string, Report, error) {
	bounds := l.Bounds.withDefaults()
	report := Report{DraftCycles: bounds.DraftCycles, RepairRounds: bounds.RepairRounds}

	var first, best *Candidate
	feedback := ""

	for cycle := 0; cycle < bounds.DraftCycles; cycle++ {
		text, err := l.LLM.Complete(ctx, l.System, l.Prompt(jobContext, feedback))
		if err != nil {
			return "", report, fmt.Errorf("draft attempt %d: %w", cycle+1, err)
		}
		report.LLMCalls++

		cand := NewCandidate(text, l.Contract)
		if first == nil {
			c := cand
			first = &c
		}
		best = keepBest(best, cand, l.Contract)
		if cand.Verdict.Passed {
			report.Accepted = true
			report.FinalVerdict = cand.Verdict
			return cand.Text, report, nil
		}

		repaired, ok, err := l.repair(ctx, cand, &report, &best)
		if err != nil {
			return "", report, err
		}
		if ok {
			report.Accepted = true
			report.FinalVerdict = repaired.Verdict
			return repaired.Text, report, nil
		}
		feedback = repaired.Verdict.Feedback
		if l.Log != nil {
			l.Log.Debug("draft cycle failed validation",
				"cycle", cycle+1, "code", repaired.Verdict.Code, "reason", repaired.Verdict.Reason)
		}
	}

	report.FinalVerdict = best.Verdict
	if l.acceptableFallback(*first, *best) {
		report.Fallback = true
		if l.Log != nil {
			l.Log.Warn("returning ranked fallback candidate",
				"code", best.Verdict.Code, "words", best.Words)
		}
		return best.Text, report, nil
	}
	return "", report, fmt.Errorf("%w: best candidate %s (%s)", ErrExhausted, best.Verdict.Code, best.Verdict.Reason)
}

// repair runs the targeted rewrite sub-routine for one failed candidate.
// Length failures get expansion/compression instructions; structural failures
// get instructions naming the violated rule.
func (l *Loop) repair(ctx context.Context, cand Candidate, report *Report, best **Candidate) (Candidate, bool, error) {
	bounds := l.Bounds.withDefaults()
	cur := cand
	for round := 0; round < bounds.RepairRounds; round++ {
		text, err := l.LLM.Complete(ctx, l.System, repairPrompt(cur))
		if err != nil {
			return cur, false, fmt.Errorf("repair round %d: %w", round+1, err)
		}
		report.LLMCalls++

		next := NewCandidate(text, l.Contract)
		*best = keepBest(*best, next, l.Contract)
		if next.Verdict.Passed {
			return next, true, nil
		}
		cur = next
	}
	return cur, false, nil
}

func repairPrompt(cand Candidate) string {
	switch cand.Verdict.Code {
	case CodeLengthShort, CodeLengthLong:
		return fmt.Sprintf(
			"Rewrite the text below. %s Preserve the heading structure and the meaning of every section.\n\n---\n%s",
			cand.Verdict.Feedback, cand.Text)
	default:
		return fmt.Sprintf(
			"Rewrite the text below to fix exactly this problem: %s\n%s Change nothing else.\n\n---\n%s",
			cand.Verdict.Reason, cand.Verdict.Feedback, cand.Text)
	}
}

// acceptableFallback decides whether the best non-passing candidate is close
// enough to ship: it must strictly outrank the very first draft and reach the
// minimum share of the length floor.
func (l *Loop) acceptableFallback(first, best Candidate) bool {
	if !Better(best, first, l.Contract) {
		return false
	}
	if l.Contract.MinWords > 0 {
		floor := int(fallbackFloorFrac * float64(l.Contract.MinWords))
		if best.Words < floor {
			return false
		}
	}
	return true
}

func keepBest(best *Candidate, cand Candidate, c Contract) *Candidate {
	if best == nil || Better(cand, *best, c) {
		out := cand
		return &out
	}
	return best
}
