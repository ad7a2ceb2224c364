package retrieval

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/database"
)

// Unit is one paragraph of a document body.
type Unit struct {
	Position int // order within the document, used as the stable tie-break
	Section  string
	Text     string
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// Partition splits the body sections of doc into paragraph units. Paragraphs
// shorter than minChars are dropped. The abstract is not part of the body.
func Partition(doc *database.Document, minChars int) []Unit {
	if doc == nil {
		return nil
	}
	var units []Unit
	for _, s := range doc.Sections {
		for _, para := range paragraphBreak.Split(s.Text, -1) {
			text := strings.Join(strings.Fields(para), " ")
			if text == "" || utf8.RuneCountInString(text) < minChars {
				continue
			}
			units = append(units, Unit{Position: len(units), Section: s.Label, Text: text})
		}
	}
	return units
}
