package agents

import (
	"context"
	"fmt"
	"regexp"

	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
)

// ComplianceReviewAgent screens the content against the banned-claims list and
// records a verdict the quality gate re-checks after any refinement.
type ComplianceReviewAgent struct {
	log *logger.Logger
}

func NewComplianceReviewAgent(baseLog *logger.Logger) *ComplianceReviewAgent {
	return &ComplianceReviewAgent{log: baseLog.With("agent", "compliance_review")}
}

func (a *ComplianceReviewAgent) Name() string { return "compliance_review" }

var bannedPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bguaranteed (results|returns|success)\b`),
	regexp.MustCompile(`(?i)\brisk[- ]free\b`),
	regexp.MustCompile(`(?i)\b100% (safe|effective|accurate)\b`),
	regexp.MustCompile(`(?i)\bcures?\b`),
	regexp.MustCompile(`(?i)\bnever fails?\b`),
	regexp.MustCompile(`(?i)\bget rich quick\b`),
}

// ComplianceIssues is the shared screen, also used by the gate's compliance
// axis.
func ComplianceIssues(content string) []string {
	var out []string
	for _, re := range bannedPhrases {
		if m := re.FindString(content); m != "" {
			out = append(out, fmt.Sprintf("banned phrase %q", m))
		}
	}
	return out
}

func (a *ComplianceReviewAgent) Process(_ context.Context, jobContext map[string]any) (map[string]any, error) {
	content := ctxStr(jobContext, "content", "")
	if content == "" {
		return nil, fmt.Errorf("missing content in context")
	}
	issues := ComplianceIssues(content)
	return map[string]any{
		"compliance": map[string]any{
			"passed": len(issues) == 0,
			"issues": toAnySlice(issues),
		},
	}, nil
}
