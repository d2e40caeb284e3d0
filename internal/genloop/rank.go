package genloop

// Candidate is one draft (or repaired draft) plus its verdict. Candidates are
// totally ordered so the loop can always return the best artifact seen.
type Candidate struct {
	Text    string
	Words   int
	Verdict Verdict
}

func NewCandidate(text string, c Contract) Candidate {
	return Candidate{Text: text, Words: WordCount(text), Verdict: c.Validate(text)}
}

// severity ranks failure codes; lower is closer to passing.
func severity(v Verdict) int {
	if v.Passed {
		return 0
	}
	switch v.Code {
	case CodeLengthLong:
		return 1
	case CodeLengthShort:
		return 2
	case CodeBannedRepetition:
		return 3
	case CodeMalformedStructure:
		return 4
	default:
		return 5
	}
}

// Better reports whether a outranks b under the contract. The order is:
// passed > meets-length-floor > meets-length-ceiling > lower failure severity
// > closeness to target length > raw length.
func Better(a, b Candidate, c Contract) bool {
	if a.Verdict.Passed != b.Verdict.Passed {
		return a.Verdict.Passed
	}
	aFloor, bFloor := meetsFloor(a, c), meetsFloor(b, c)
	if aFloor != bFloor {
		return aFloor
	}
	aCeil, bCeil := meetsCeiling(a, c), meetsCeiling(b, c)
	if aCeil != bCeil {
		return aCeil
	}
	if sa, sb := severity(a.Verdict), severity(b.Verdict); sa != sb {
		return sa < sb
	}
	if c.TargetWords > 0 {
		da, db := absInt(a.Words-c.TargetWords), absInt(b.Words-c.TargetWords)
		if da != db {
			return da < db
		}
	}
	return a.Words > b.Words
}

func meetsFloor(a Candidate, c Contract) bool {
	return c.MinWords <= 0 || a.Words >= c.MinWords
}

func meetsCeiling(a Candidate, c Contract) bool {
	return c.MaxWords <= 0 || a.Words <= c.MaxWords
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
