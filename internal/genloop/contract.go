package genloop

import (
	"fmt"
	"strings"
)

type FailureCode string

const (
	CodeMalformedStructure FailureCode = "malformed_structure"
	CodeLengthShort        FailureCode = "length_short"
	CodeLengthLong         FailureCode = "length_long"
	CodeBannedRepetition   FailureCode = "banned_repetition"
)

// Verdict is the outcome of validating one candidate. At most one violation is
// surfaced per attempt, chosen by fixed precedence, so repair feedback always
// targets a single contract.
type Verdict struct {
	Passed   bool        `json:"passed"`
	Code     FailureCode `json:"code,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Feedback string      `json:"feedback,omitempty"`
}

// Contract is the structural/length contract a generated artifact must meet.
// Validation is pure and deterministic.
type Contract struct {
	MinWords    int
	MaxWords    int
	TargetWords int

	// RequiredSections are markdown "## " headings that must be present.
	RequiredSections []string

	// RepeatLimit caps how many times one normalized sentence may appear.
	// Zero disables the check.
	RepeatLimit int
}

// Validate checks text against the contract. Precedence:
// malformed-structure > length-short > length-long > banned-repetition.
func (c Contract) Validate(text string) Verdict {
	if missing := c.missingSections(text); len(missing) > 0 {
		return Verdict{
			Code:     CodeMalformedStructure,
			Reason:   fmt.Sprintf("missing required section(s): %s", strings.Join(missing, ", ")),
			Feedback: fmt.Sprintf("The text must contain a \"## %s\" heading for each of: %s. Keep all existing content and add the missing sections.", missing[0], strings.Join(missing, ", ")),
		}
	}
	words := WordCount(text)
	if c.MinWords > 0 && words < c.MinWords {
		return Verdict{
			Code:     CodeLengthShort,
			Reason:   fmt.Sprintf("too short: %d words, minimum %d", words, c.MinWords),
			Feedback: fmt.Sprintf("The text is %d words but must be at least %d. Expand every section with concrete detail; do not change the heading structure.", words, c.MinWords),
		}
	}
	if c.MaxWords > 0 && words > c.MaxWords {
		return Verdict{
			Code:     CodeLengthLong,
			Reason:   fmt.Sprintf("too long: %d words, maximum %d", words, c.MaxWords),
			Feedback: fmt.Sprintf("The text is %d words but must be at most %d. Tighten wording and cut redundancy; do not remove headings.", words, c.MaxWords),
		}
	}
	if c.RepeatLimit > 0 {
		if sentence, n := mostRepeatedSentence(text); n > c.RepeatLimit {
			return Verdict{
				Code:     CodeBannedRepetition,
				Reason:   fmt.Sprintf("sentence repeated %d times", n),
				Feedback: fmt.Sprintf("The sentence %q appears %d times. Rephrase the duplicates so each occurrence adds new information.", truncateWords(sentence, 12), n),
			}
		}
	}
	return Verdict{Passed: true}
}

func (c Contract) missingSections(text string) []string {
	if len(c.RequiredSections) == 0 {
		return nil
	}
	headings := map[string]bool{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "## ") {
			headings[normalize(strings.TrimPrefix(line, "## "))] = true
		}
	}
	var missing []string
	for _, want := range c.RequiredSections {
		if !headings[normalize(want)] {
			missing = append(missing, want)
		}
	}
	return missing
}

func WordCount(text string) int {
	return len(strings.Fields(text))
}

// mostRepeatedSentence returns the most frequent normalized sentence of
// meaningful length and its count.
func mostRepeatedSentence(text string) (string, int) {
	counts := map[string]int{}
	best, bestN := "", 0
	for _, s := range splitSentences(text) {
		key := normalize(s)
		if len(key) < 20 {
			continue
		}
		counts[key]++
		if counts[key] > bestN {
			best, bestN = s, counts[key]
		}
	}
	return best, bestN
}

func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		switch r {
		case '.', '!', '?', '\n':
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func truncateWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) <= n {
		return s
	}
	return strings.Join(fields[:n], " ") + "..."
}
