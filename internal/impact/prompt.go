package impact

import (
	"fmt"
	"strings"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/classify"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/llm"
	"github.com/rotisserie/eris"
)

const judgmentPrompt = `You are assessing how much a flagged citation matters to the paper that makes it. Earlier checks concluded the citation may misrepresent the cited work. You now have the full text of both papers.

Citing paper: %s
Cited paper: %s

Citation context (section %s):
%s

Earlier assessments:
%s

=== CITING PAPER ===
%s

=== CITED PAPER ===
%s

Answer:
1. Read the cited paper in full. Is the citation actually a problem, or was it flagged by mistake?
2. What specific claim of the citing paper depends on this citation?
3. What does the cited paper actually report on that point?
4. How central is that claim to the citing paper's main findings?

Be concrete. Quote or closely paraphrase both papers. Do not write that results "remain valid" without saying which results and why.

Respond with ONLY this JSON:
{
    "impact_level": "HIGH" | "MODERATE" | "LOW" | "FALSE_POSITIVE",
    "centrality": "PRIMARY" | "SECONDARY" | "BACKGROUND",
    "affects_main_finding": true or false,
    "undermined_claim": "the citing paper's claim that is affected",
    "reference_finding": "what the cited paper actually reports",
    "explanation": "2-4 sentences"
}`

func buildPrompt(citing, cited *database.Document, inst database.CitationInstance,
	history []database.Classification, maxChars int) string {
	return fmt.Sprintf(judgmentPrompt,
		title(citing, inst.SourceDocumentID),
		title(cited, inst.TargetDocumentID),
		orUnknown(inst.Section),
		inst.Context,
		formatHistory(history),
		fullText(citing, maxChars),
		fullText(cited, maxChars),
	)
}

func formatHistory(history []database.Classification) string {
	if len(history) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, c := range history {
		fmt.Fprintf(&b, "- %s round: %s (confidence %.2f)", c.Round, c.Effective(), c.Confidence)
		if c.Determination != "" {
			fmt.Fprintf(&b, ", %s", c.Determination)
		}
		if c.Override != nil {
			b.WriteString(", set by a reviewer")
		}
		if r := strings.TrimSpace(c.Rationale); r != "" {
			fmt.Fprintf(&b, "\n  %s", strings.ReplaceAll(r, "\n", "\n  "))
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func fullText(doc *database.Document, maxChars int) string {
	if doc == nil {
		return "(full text not available)"
	}
	text := doc.FullText()
	if maxChars > 0 && len(text) > maxChars {
		cut := maxChars
		for cut > 0 && !utf8Start(text[cut]) {
			cut--
		}
		text = text[:cut] + "\n[truncated]"
	}
	return text
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

func title(doc *database.Document, id string) string {
	if doc == nil || doc.Title == "" {
		return id
	}
	return fmt.Sprintf("%s (%s)", doc.Title, id)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// parseJudgment validates a Phase A answer. A concern without a concrete
// claim and reference finding is malformed.
func parseJudgment(m map[string]any) (Judgment, error) {
	j := Judgment{
		ImpactLevel:        strings.ToUpper(llm.String(m, "impact_level", "")),
		Centrality:         strings.ToUpper(llm.String(m, "centrality", "")),
		AffectsMainFinding: llm.Bool(m, "affects_main_finding"),
		UnderminedClaim:    llm.String(m, "undermined_claim", ""),
		ReferenceFinding:   llm.String(m, "reference_finding", ""),
		Explanation:        llm.String(m, "explanation", ""),
	}
	switch j.ImpactLevel {
	case LevelHigh, LevelModerate, LevelLow:
		if j.UnderminedClaim == "" || j.ReferenceFinding == "" {
			return j, eris.Wrap(classify.ErrMalformed, "judgment lacks a concrete claim or reference finding")
		}
	case LevelFalsePositive:
	default:
		return j, eris.Wrapf(classify.ErrMalformed, "unknown impact level %q", j.ImpactLevel)
	}
	switch j.Centrality {
	case CentralityPrimary, CentralitySecondary, CentralityBackground:
	default:
		j.Centrality = ""
	}
	return j, nil
}

func validateJudgment(m map[string]any) error {
	_, err := parseJudgment(m)
	return err
}
