package impact

import (
	"errors"
	"fmt"
	"strings"
)

// Impact levels of a Phase A judgment.
const (
	LevelHigh          = "HIGH"
	LevelModerate      = "MODERATE"
	LevelLow           = "LOW"
	LevelFalsePositive = "FALSE_POSITIVE"
	// LevelUnassessed marks an instance whose judgment could not be obtained.
	LevelUnassessed = "UNASSESSED"
)

// Centrality of the citing claim to the citing paper.
const (
	CentralityPrimary    = "PRIMARY"
	CentralitySecondary  = "SECONDARY"
	CentralityBackground = "BACKGROUND"
)

// Document-level verdicts.
const (
	MinorConcern    = "MINOR_CONCERN"
	ModerateConcern = "MODERATE_CONCERN"
	CriticalConcern = "CRITICAL_CONCERN"
	FalseAlarm      = "FALSE_ALARM"
)

var (
	// ErrNoJudgments is returned when no instance of a document could be assessed.
	ErrNoJudgments = errors.New("no assessed judgments")
	// ErrInconclusive is returned when every assessed citation is a false
	// positive but others could not be assessed, so a false alarm cannot be
	// declared.
	ErrInconclusive = errors.New("false alarm not established while citations remain unassessed")
)

// Judgment is the Phase A reading of one problematic citation.
type Judgment struct {
	InstanceID         int64
	ImpactLevel        string
	Centrality         string
	AffectsMainFinding bool
	UnderminedClaim    string
	ReferenceFinding   string
	Explanation        string
}

func (j Judgment) assessed() bool { return j.ImpactLevel != LevelUnassessed && j.ImpactLevel != "" }

func (j Judgment) critical() bool {
	return j.ImpactLevel == LevelHigh && (j.AffectsMainFinding || j.Centrality == CentralityPrimary)
}

// Synthesis is the Phase B verdict for a document.
type Synthesis struct {
	Overall    string
	Rationale  string
	Reviewers  []string
	Readers    []string
	Assessed   int
	Unassessed int
}

// Synthesize combines judgments into one document verdict. It is
// deterministic: the same judgments always give the same synthesis.
func Synthesize(judgments []Judgment) (Synthesis, error) {
	var s Synthesis
	var concerns, falsePositives []Judgment
	for _, j := range judgments {
		switch {
		case !j.assessed():
			s.Unassessed++
			continue
		case j.ImpactLevel == LevelFalsePositive:
			falsePositives = append(falsePositives, j)
		default:
			concerns = append(concerns, j)
		}
		s.Assessed++
	}
	if s.Assessed == 0 {
		return s, ErrNoJudgments
	}

	s.Overall = MinorConcern
	if len(concerns) == 0 {
		if s.Unassessed > 0 {
			return s, ErrInconclusive
		}
		s.Overall = FalseAlarm
	}
	for _, j := range concerns {
		if j.critical() {
			s.Overall = CriticalConcern
			break
		}
		if j.ImpactLevel == LevelHigh || j.ImpactLevel == LevelModerate {
			s.Overall = ModerateConcern
		}
	}

	s.Rationale = rationale(s, concerns, falsePositives)
	s.Reviewers, s.Readers = recommendations(s.Overall, concerns)
	return s, nil
}

func rationale(s Synthesis, concerns, falsePositives []Judgment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d flagged citations were assessed on a full reading of both papers", s.Assessed, s.Assessed+s.Unassessed)
	if len(falsePositives) > 0 {
		fmt.Fprintf(&b, "; %d turned out to be acceptable", len(falsePositives))
	}
	b.WriteString(".")

	for _, j := range concerns {
		fmt.Fprintf(&b, "\n\n[%s, %s] The claim %q is undermined because the cited work reports: %s.",
			j.ImpactLevel, strings.ToLower(orDefault(j.Centrality, "unknown centrality")),
			j.UnderminedClaim, strings.TrimSuffix(j.ReferenceFinding, "."))
		if j.AffectsMainFinding {
			b.WriteString(" This claim supports a main finding of the paper.")
		}
		if j.Explanation != "" {
			b.WriteString(" " + j.Explanation)
		}
	}
	for _, j := range falsePositives {
		fmt.Fprintf(&b, "\n\n[FALSE_POSITIVE] Citation %d is supported on full reading", j.InstanceID)
		if j.ReferenceFinding != "" {
			fmt.Fprintf(&b, ": the cited work reports %s", strings.TrimSuffix(j.ReferenceFinding, "."))
		}
		b.WriteString(".")
	}
	return b.String()
}

func recommendations(overall string, concerns []Judgment) (reviewers, readers []string) {
	if overall == FalseAlarm {
		return []string{"No change requested: every assessed citation is supported by the cited work on full reading."},
			[]string{"The flagged citations represent their sources accurately."}
	}

	var claims []string
	for _, j := range concerns {
		claims = append(claims, fmt.Sprintf("%q", j.UnderminedClaim))
		if j.ImpactLevel == LevelLow {
			continue
		}
		reviewers = append(reviewers, fmt.Sprintf(
			"Ask the authors to reconcile the claim %q with what the cited work reports (%s), or to cite a source that supports it.",
			j.UnderminedClaim, strings.TrimSuffix(j.ReferenceFinding, ".")))
	}

	switch overall {
	case CriticalConcern:
		for _, j := range concerns {
			if j.critical() {
				reviewers = append(reviewers, fmt.Sprintf(
					"Ask whether the main conclusion still holds without the claim %q.", j.UnderminedClaim))
				readers = append(readers, fmt.Sprintf(
					"A main finding relies on the claim %q, which the cited work does not support as stated.", j.UnderminedClaim))
			}
		}
	case ModerateConcern:
		readers = append(readers, "Check the cited sources before relying on these statements: "+strings.Join(claims, "; ")+".")
	default:
		reviewers = append(reviewers, "Ask the authors to correct the wording of the peripheral claims: "+strings.Join(claims, "; ")+".")
		readers = append(readers, "Only peripheral statements are affected: "+strings.Join(claims, "; ")+".")
	}
	return reviewers, readers
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
