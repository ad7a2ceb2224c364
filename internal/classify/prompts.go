package classify

import (
	"fmt"
	"strings"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
)

const categoryGuide = `Categories:
- SUPPORT: the reference substantiates what the citing text attributes to it.
- CONTRADICT: the reference reports the opposite of the claim.
- NOT_SUBSTANTIATE: the reference does not provide evidence for this specific claim.
- OVERSIMPLIFY: the claim drops conditions, caveats or nuance the reference attaches to its finding (e.g. "X causes Y" when the reference only shows X is associated with Y in mice).
- IRRELEVANT: the reference is about something unrelated to the claim.
- MISQUOTE: numbers, direction or attribution of the finding are misstated.
- INDIRECT: the reference is cited for a result it only reports second-hand from another paper.
- ETIQUETTE: a courtesy citation that is not meant to support a specific claim.`

const screeningPrompt = `You check whether a scientific citation fairly represents the paper it cites.

The citing passage may reference several papers. Judge only the reference marked below.

Cited paper: %s
Section of the citing paper: %s

Citing passage:
%s

Passages retrieved from the cited paper:
%s

%s

Respond with ONLY this JSON:
{
    "classification": "SUPPORT" | "CONTRADICT" | "NOT_SUBSTANTIATE" | "OVERSIMPLIFY" | "IRRELEVANT" | "MISQUOTE" | "INDIRECT" | "ETIQUETTE",
    "confidence": 0.0-1.0,
    "justification": "2-3 sentences grounded in the passages"
}`

const verificationPrompt = `You are re-examining a citation that a first, quicker pass flagged as possibly misrepresenting the cited paper. You have more evidence now, including the cited paper's abstract.

Cited paper: %s
Section of the citing paper: %s
Likely citation type: %s

Citing passage:
%s

First-pass verdict: %s (confidence %.2f)
First-pass reasoning: %s

Evidence from the cited paper:
%s

%s

Work through it:
1. What exactly does the citing passage attribute to the cited paper?
2. Is the cited paper used as a data or method source, for a finding, as background, or for attribution? A data or method citation only needs the paper to provide that data or method.
3. Does the evidence, read as a whole, back the attributed claim?
4. Was the first-pass verdict right?

Respond with ONLY this JSON:
{
    "citation_type": "METHODOLOGICAL" | "CONCEPTUAL" | "BACKGROUND" | "ATTRIBUTION",
    "classification": one of the categories above,
    "confidence": 0.0-1.0,
    "determination": "CONFIRMED" if the first-pass concern holds, "CORRECTED" if it does not,
    "justification": "a paragraph that cites evidence passages by number",
    "key_findings": ["2-4 short points"],
    "recommendation": "ACCURATE" | "NEEDS_REVIEW" | "MISREPRESENTATION"
}`

// Words kept from each evidence passage in a prompt.
const maxEvidenceWords = 300

func screeningText(r Request) string {
	return fmt.Sprintf(screeningPrompt,
		orUnknown(r.TargetTitle),
		orUnknown(r.Instance.Section),
		r.Instance.Context,
		formatEvidence(r.Evidence),
		categoryGuide,
	)
}

func verificationText(r Request) string {
	first := r.First
	if first == nil {
		first = &database.Classification{Category: "UNKNOWN"}
	}
	return fmt.Sprintf(verificationPrompt,
		orUnknown(r.TargetTitle),
		orUnknown(r.Instance.Section),
		orUnknown(r.CitationType),
		r.Instance.Context,
		first.Effective(), first.Confidence,
		orUnknown(first.Rationale),
		formatEvidence(r.Evidence),
		categoryGuide,
	)
}

func formatEvidence(segs []database.EvidenceSegment) string {
	if len(segs) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, s := range segs {
		fmt.Fprintf(&b, "Evidence %d (%s, similarity %.2f):\n%s\n\n",
			i+1, orUnknown(s.SourceSection), s.SimilarityScore, truncateWords(s.Text, maxEvidenceWords))
	}
	return strings.TrimSpace(b.String())
}

func truncateWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + " ..."
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
