package oracle

import (
	"context"
	"strings"

	"github.com/shanehull/listscraper/internal/types"

	"golang.org/x/net/html"
)

// Keyword labels a line relevant when its visible text contains any of the
// criteria keywords, ignoring case. With no keywords the query itself is used
// as a single phrase.
type Keyword struct{}

func NewKeyword() *Keyword {
	return &Keyword{}
}

func (k *Keyword) Classify(_ context.Context, content string, criteria types.SearchCriteria) ([]types.LabeledSpan, error) {
	keywords := criteria.Keywords()
	if len(keywords) == 0 && criteria.Query() != "" {
		keywords = []string{strings.ToLower(criteria.Query())}
	}

	segs := Segments(content)
	labels := make(map[int]types.Label, len(segs))
	for _, s := range segs {
		if len(findKeywords(visibleText(s.Text), keywords)) > 0 {
			labels[s.ID] = types.LabelRelevant
		}
	}
	return toSpans(segs, labels), nil
}

func findKeywords(text string, keywords []string) []string {
	var found []string
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}
	return found
}

// visibleText strips markup so attribute values and tag names never match.
func visibleText(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var sb strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.TextToken:
			sb.Write(z.Text())
			sb.WriteByte(' ')
		}
	}
}
