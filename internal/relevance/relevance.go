/*
Package relevance asks a classification oracle which parts of a page match the
search criteria and keeps only those parts.
*/
package relevance

import (
	"context"
	"fmt"
	"sort"

	"github.com/shanehull/listscraper/internal/types"

	"go.uber.org/zap"
)

// Oracle labels byte ranges of content as relevant or irrelevant.
type Oracle interface {
	Classify(ctx context.Context, content string, criteria types.SearchCriteria) ([]types.LabeledSpan, error)
}

type Filter struct {
	oracle Oracle
	logger *zap.Logger
}

func NewFilter(oracle Oracle, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{oracle: oracle, logger: logger}
}

// Classify partitions page content. Relevant spans are copied verbatim;
// irrelevant spans keep only their location. A malformed oracle answer is
// rejected as a whole.
func (f *Filter) Classify(ctx context.Context, page types.Page, criteria types.SearchCriteria) (types.RelevanceVerdict, error) {
	spans, err := f.oracle.Classify(ctx, page.Content, criteria)
	if err != nil {
		return types.RelevanceVerdict{}, fmt.Errorf("%w: page %d: %w", types.ErrClassification, page.Index, err)
	}

	verdict, err := Partition(page, spans)
	if err != nil {
		return types.RelevanceVerdict{}, err
	}

	f.logger.Debug("Classified page",
		zap.Int("page", page.Index),
		zap.Int("relevant", len(verdict.Relevant)),
		zap.Int("irrelevant", len(verdict.Irrelevant)))

	return verdict, nil
}

// Partition validates spans against the page content and splits them by label.
// Content outside every span is treated as irrelevant.
func Partition(page types.Page, spans []types.LabeledSpan) (types.RelevanceVerdict, error) {
	sorted := append([]types.LabeledSpan(nil), spans...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	verdict := types.RelevanceVerdict{PageIndex: page.Index, PageURL: page.URL}
	size := len(page.Content)
	prevEnd := 0

	for i, s := range sorted {
		if s.Start < 0 || s.End > size {
			return types.RelevanceVerdict{}, malformed(page, "span [%d,%d) outside content of %d bytes", s.Start, s.End, size)
		}
		if s.Start >= s.End {
			return types.RelevanceVerdict{}, malformed(page, "empty or inverted span [%d,%d)", s.Start, s.End)
		}
		if i > 0 && s.Start < prevEnd {
			return types.RelevanceVerdict{}, malformed(page, "span [%d,%d) overlaps previous span ending at %d", s.Start, s.End, prevEnd)
		}
		prevEnd = s.End

		switch s.Label {
		case types.LabelRelevant:
			verdict.Relevant = append(verdict.Relevant, types.Span{
				Start: s.Start,
				End:   s.End,
				Text:  page.Content[s.Start:s.End],
			})
		case types.LabelIrrelevant:
			verdict.Irrelevant = append(verdict.Irrelevant, types.ByteRange{Start: s.Start, End: s.End})
		default:
			return types.RelevanceVerdict{}, malformed(page, "unknown label %q", s.Label)
		}
	}

	return verdict, nil
}

func malformed(page types.Page, format string, args ...any) error {
	return fmt.Errorf("%w: page %d: malformed verdict: %s", types.ErrClassification, page.Index, fmt.Sprintf(format, args...))
}
