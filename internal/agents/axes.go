package agents

import (
	"fmt"

	"github.com/inkwell-ai/inkwell-backend/internal/gate"
)

// The gate axes re-run the same deterministic checks the annotation and
// compliance steps ran, against whatever the content is now — after a
// refinement pass the step-time verdicts are stale.

func ComplianceAxis() gate.Axis {
	return gate.Axis{
		Name: "compliance",
		Check: func(jobContext map[string]any) (bool, []gate.Issue) {
			content := ""
			if v, ok := jobContext["content"]; ok {
				content = fmt.Sprint(v)
			}
			var issues []gate.Issue
			for _, msg := range ComplianceIssues(content) {
				issues = append(issues, gate.Issue{Axis: "compliance", Code: "banned_phrase", Message: msg})
			}
			return len(issues) == 0, issues
		},
	}
}

func SEOAxis() gate.Axis {
	return gate.Axis{
		Name: "seo",
		Check: func(jobContext map[string]any) (bool, []gate.Issue) {
			content := ""
			if v, ok := jobContext["content"]; ok {
				content = fmt.Sprint(v)
			}
			score, missing := SEOScore(content, ctxStrings(jobContext, "keywords"))
			if score >= seoPassScore {
				return true, nil
			}
			issues := []gate.Issue{{
				Axis:    "seo",
				Code:    "keyword_coverage",
				Message: fmt.Sprintf("keyword coverage %d%% (need %d%%)", score, seoPassScore),
			}}
			for _, kw := range missing {
				issues = append(issues, gate.Issue{
					Axis:    "seo",
					Code:    "missing_keyword",
					Message: fmt.Sprintf("keyword %q does not appear in the content", kw),
				})
			}
			return false, issues
		},
	}
}
