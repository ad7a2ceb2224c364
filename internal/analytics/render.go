package analytics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// JSON encodes the report artifact.
func (r *Report) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "encoding report")
	}
	return data, nil
}

// RenderMarkdown formats a report for people.
func RenderMarkdown(r *Report) string {
	var b strings.Builder
	b.WriteString("# Citation fidelity report\n\n")
	if !r.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "Generated %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04 MST"))
	}

	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Citation instances | %d |\n", r.TotalInstances)
	fmt.Fprintf(&b, "| Not yet classified | %d |\n", r.UnclassifiedInstances)
	fmt.Fprintf(&b, "| Fidelity rate | %.1f%% |\n", 100*r.FidelityRate)
	fmt.Fprintf(&b, "| Verified | %d |\n", r.VerifiedInstances)
	fmt.Fprintf(&b, "| Corrected on verification | %d |\n", r.CorrectedInstances)
	fmt.Fprintf(&b, "| False-positive rate | %.1f%% |\n\n", 100*r.FalsePositiveRate)

	b.WriteString("## Categories\n\n")
	if len(r.CategoryCounts) == 0 {
		b.WriteString("No classified instances yet.\n\n")
	} else {
		cats := make([]string, 0, len(r.CategoryCounts))
		for c := range r.CategoryCounts {
			cats = append(cats, c)
		}
		sort.Slice(cats, func(i, j int) bool {
			if r.CategoryCounts[cats[i]] != r.CategoryCounts[cats[j]] {
				return r.CategoryCounts[cats[i]] > r.CategoryCounts[cats[j]]
			}
			return cats[i] < cats[j]
		})
		b.WriteString("| Category | Instances |\n|---|---|\n")
		for _, c := range cats {
			fmt.Fprintf(&b, "| %s | %d |\n", c, r.CategoryCounts[c])
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Repeat offenders (at least %d problematic citations)\n\n", r.Threshold)
	if len(r.RepeatOffenders) == 0 {
		b.WriteString("None.\n")
		return b.String()
	}
	b.WriteString("| Document | Problematic citations |\n|---|---|\n")
	for _, o := range r.RepeatOffenders {
		fmt.Fprintf(&b, "| %s | %d |\n", o.DocumentID, o.ProblematicCount)
	}
	return b.String()
}

// RenderHTML converts the markdown rendering to an HTML fragment.
func RenderHTML(r *Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(RenderMarkdown(r)), &buf); err != nil {
		return nil, eris.Wrap(err, "rendering report")
	}
	return buf.Bytes(), nil
}
