// Package classify turns a citation context and its evidence into a
// category verdict using a language model.
package classify

import "strings"

// Category is a citation fidelity verdict.
type Category string

const (
	Support         Category = "SUPPORT"
	Contradict      Category = "CONTRADICT"
	NotSubstantiate Category = "NOT_SUBSTANTIATE"
	Oversimplify    Category = "OVERSIMPLIFY"
	Irrelevant      Category = "IRRELEVANT"
	Misquote        Category = "MISQUOTE"
	Indirect        Category = "INDIRECT"
	Etiquette       Category = "ETIQUETTE"

	// EvalFailed marks an instance whose classification could not be
	// obtained after retries.
	EvalFailed Category = "EVAL_FAILED"
	// Unrecognized marks a model answer outside the known categories.
	Unrecognized Category = "UNRECOGNIZED"
)

// Categories is the closed set a model may answer with.
var Categories = []Category{
	Support, Contradict, NotSubstantiate, Oversimplify,
	Irrelevant, Misquote, Indirect, Etiquette,
}

// SuspiciousCategories are escalated to verification, most severe first.
var SuspiciousCategories = []Category{
	Contradict, Misquote, NotSubstantiate, Oversimplify, Irrelevant,
}

// DeprioritizedCategories may optionally be verified after the suspicious ones.
var DeprioritizedCategories = []Category{Indirect, Etiquette}

// ProblematicCategories count towards repeat offenders.
var ProblematicCategories = []Category{Contradict, NotSubstantiate, Misquote}

// SentinelCategories are placeholders rather than verdicts.
var SentinelCategories = []Category{EvalFailed, Unrecognized}

// ParseCategory normalizes a model answer. Anything outside the closed set
// becomes Unrecognized.
func ParseCategory(s string) Category {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	switch s {
	case "NOT_SUBSTANTIATED", "UNSUBSTANTIATED":
		s = string(NotSubstantiate)
	case "SUPPORTS", "SUPPORTED":
		s = string(Support)
	case "CONTRADICTS":
		s = string(Contradict)
	}
	c := Category(s)
	if c.Valid() {
		return c
	}
	return Unrecognized
}

// Valid reports whether c is one of the eight verdict categories.
func (c Category) Valid() bool {
	return in(c, Categories)
}

// Suspicious reports whether c should be escalated to verification.
func (c Category) Suspicious() bool {
	return in(c, SuspiciousCategories)
}

// Problematic reports whether c counts as a misrepresentation.
func (c Category) Problematic() bool {
	return in(c, ProblematicCategories)
}

// Sentinel reports whether c is a placeholder for a failed classification.
func (c Category) Sentinel() bool {
	return in(c, SentinelCategories)
}

// Strings converts categories for use in store queries.
func Strings(cs []Category) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

func in(c Category, set []Category) bool {
	for _, s := range set {
		if c == s {
			return true
		}
	}
	return false
}

// Verification determinations.
const (
	Confirmed = "CONFIRMED"
	Corrected = "CORRECTED"
)

// Verification recommendations.
const (
	Accurate          = "ACCURATE"
	NeedsReview       = "NEEDS_REVIEW"
	Misrepresentation = "MISREPRESENTATION"
)

// Determination reports whether a second verdict confirms the first-round
// suspicion. An instance that was not suspicious in the first round has no
// determination.
func Determination(first, second Category) string {
	if !first.Suspicious() {
		return ""
	}
	if second.Suspicious() {
		return Confirmed
	}
	return Corrected
}

// Recommendation returns rec when it is valid, otherwise one derived from
// the category.
func Recommendation(rec string, c Category) string {
	rec = strings.ToUpper(strings.TrimSpace(rec))
	switch rec {
	case Accurate, NeedsReview, Misrepresentation:
		return rec
	}
	switch {
	case c == Support:
		return Accurate
	case c.Problematic():
		return Misrepresentation
	default:
		return NeedsReview
	}
}
