package retrieval

import "strings"

// SectionCategory is a normalized section heading.
type SectionCategory string

const (
	SectionAbstract     SectionCategory = "Abstract"
	SectionIntroduction SectionCategory = "Introduction"
	SectionMethods      SectionCategory = "Methods"
	SectionResults      SectionCategory = "Results"
	SectionDiscussion   SectionCategory = "Discussion"
	SectionOther        SectionCategory = "Other"
)

// CategorizeSection maps a free-form section title onto a category.
func CategorizeSection(title string) SectionCategory {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "abstract"):
		return SectionAbstract
	case containsAny(t, "method", "material", "experimental", "procedure"):
		return SectionMethods
	case containsAny(t, "result", "finding"):
		return SectionResults
	case containsAny(t, "discussion", "conclusion"):
		return SectionDiscussion
	case containsAny(t, "introduction", "background"):
		return SectionIntroduction
	}
	return SectionOther
}

// CitationType describes what a citation uses the reference for.
type CitationType string

const (
	Methodological CitationType = "METHODOLOGICAL"
	Conceptual     CitationType = "CONCEPTUAL"
	Background     CitationType = "BACKGROUND"
	Attribution    CitationType = "ATTRIBUTION"
	UnknownType    CitationType = "UNKNOWN"
)

// ParseCitationType returns the known type named by s, or UnknownType.
func ParseCitationType(s string) CitationType {
	switch t := CitationType(strings.ToUpper(strings.TrimSpace(s))); t {
	case Methodological, Conceptual, Background, Attribution:
		return t
	}
	return UnknownType
}

var typeKeywords = []struct {
	typ      CitationType
	keywords []string
}{
	{Attribution, []string{"first described", "first reported", "first identified", "discovered", "developed by", "originally", "introduced by"}},
	{Methodological, []string{"obtained from", "data from", "were obtained", "was obtained", "dataset", "protocol", "as described", "adapted from", "following the method", "using the method", "were used", "was used", "downloaded from"}},
	{Conceptual, []string{"showed", "shown", "demonstrated", "found", "reported", "consistent with", "suggests", "revealed", "indicates"}},
	{Background, []string{"reviewed", "for review", "for a review", "e.g.", "previous", "previously", "has been studied", "have been studied", "widely"}},
}

// InferCitationType guesses a citation's type from the wording of its
// context. The first matching group wins, in the order attribution,
// methodological, conceptual, background.
func InferCitationType(context string) CitationType {
	c := strings.ToLower(context)
	for _, group := range typeKeywords {
		if containsAny(c, group.keywords...) {
			return group.typ
		}
	}
	return UnknownType
}

// Priority holds per-section multipliers applied to similarity when
// ordering evidence. Missing categories weigh 1.0. A nil Priority is
// neutral.
type Priority map[SectionCategory]float64

// Weight returns the multiplier for a section title.
func (p Priority) Weight(section string) float64 {
	if w, ok := p[CategorizeSection(section)]; ok {
		return w
	}
	return 1.0
}

// The weights only reorder close calls; a clearly better passage from a
// non-preferred section still ranks first.
var typePriorities = map[CitationType]Priority{
	Methodological: {SectionMethods: 1.10, SectionResults: 1.05},
	Conceptual:     {SectionResults: 1.10, SectionDiscussion: 1.10, SectionAbstract: 1.03},
	Background:     {SectionAbstract: 1.10, SectionIntroduction: 1.10},
	Attribution:    {SectionAbstract: 1.05, SectionResults: 1.05, SectionIntroduction: 1.03},
}

// PriorityFor returns the section priority for a citation type.
func PriorityFor(t CitationType) Priority {
	return typePriorities[t]
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
