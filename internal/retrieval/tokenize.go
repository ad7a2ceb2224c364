package retrieval

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the a an and or but in on at to for of with by from as is was are
		were been be have has had do does did will would could should may might can this that
		these those it its they their them we our us not also than such using which who into`) {
		stopWords[w] = struct{}{}
	}
}

// Tokenize lowercases text and splits it into word tokens.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// QueryTokens tokenizes a citation context for lexical search, dropping
// stop words and tokens of two characters or fewer.
func QueryTokens(text string) []string {
	var out []string
	for _, tok := range Tokenize(text) {
		if len([]rune(tok)) <= 2 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}
