/*
Package oracle provides classification oracles: a Gemini-backed one that asks
the model to label listing segments, and a deterministic keyword matcher.
*/
package oracle

import (
	"strings"

	"github.com/shanehull/listscraper/internal/types"
)

// Segment is one non-blank line of page content, without its newline.
type Segment struct {
	ID    int
	Start int
	End   int
	Text  string
}

// Segments splits content into lines. IDs are 1-based.
func Segments(content string) []Segment {
	var segs []Segment
	start := 0
	for start <= len(content) {
		end := strings.IndexByte(content[start:], '\n')
		if end < 0 {
			end = len(content)
		} else {
			end += start
		}
		line := content[start:end]
		if strings.TrimSpace(line) != "" {
			segs = append(segs, Segment{ID: len(segs) + 1, Start: start, End: end, Text: line})
		}
		start = end + 1
	}
	return segs
}

func toSpans(segs []Segment, labels map[int]types.Label) []types.LabeledSpan {
	spans := make([]types.LabeledSpan, 0, len(segs))
	for _, s := range segs {
		label, ok := labels[s.ID]
		if !ok {
			label = types.LabelIrrelevant
		}
		spans = append(spans, types.LabeledSpan{Start: s.Start, End: s.End, Label: label})
	}
	return spans
}
