package relevance

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/shanehull/listscraper/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOracle struct {
	spans []types.LabeledSpan
	err   error
}

func (s stubOracle) Classify(context.Context, string, types.SearchCriteria) ([]types.LabeledSpan, error) {
	return s.spans, s.err
}

func span(start, end int, label types.Label) types.LabeledSpan {
	return types.LabeledSpan{Start: start, End: end, Label: label}
}

const content = "plumbing job $80k\nroofing job $10k\n"

var page = types.Page{Index: 1, URL: "https://example.com/list", Content: content}

func TestClassifyPartitions(t *testing.T) {
	f := NewFilter(stubOracle{spans: []types.LabeledSpan{
		span(18, 35, types.LabelIrrelevant),
		span(0, 17, types.LabelRelevant),
	}}, nil)

	v, err := f.Classify(context.Background(), page, types.NewSearchCriteria("plumbing", nil))
	require.NoError(t, err)

	want := types.RelevanceVerdict{
		PageIndex:  1,
		PageURL:    "https://example.com/list",
		Relevant:   []types.Span{{Start: 0, End: 17, Text: "plumbing job $80k"}},
		Irrelevant: []types.ByteRange{{Start: 18, End: 35}},
	}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Errorf("verdict mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		spans []types.LabeledSpan
	}{
		{"overlap", []types.LabeledSpan{span(0, 10, types.LabelRelevant), span(5, 20, types.LabelIrrelevant)}},
		{"past end", []types.LabeledSpan{span(0, len(content)+1, types.LabelRelevant)}},
		{"negative", []types.LabeledSpan{span(-1, 3, types.LabelRelevant)}},
		{"empty", []types.LabeledSpan{span(4, 4, types.LabelRelevant)}},
		{"inverted", []types.LabeledSpan{span(9, 4, types.LabelRelevant)}},
		{"unknown label", []types.LabeledSpan{span(0, 4, "maybe")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFilter(stubOracle{spans: tt.spans}, nil).Classify(context.Background(), page, types.SearchCriteria{})
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrClassification)
			assert.Contains(t, err.Error(), "malformed")
		})
	}
}

func TestClassifyOracleError(t *testing.T) {
	_, err := NewFilter(stubOracle{err: errors.New("429 rate limited")}, nil).Classify(context.Background(), page, types.SearchCriteria{})
	assert.ErrorIs(t, err, types.ErrClassification)
	assert.Equal(t, types.KindClassification, types.KindOf(err))
}

func TestClassifyNoSpans(t *testing.T) {
	v, err := NewFilter(stubOracle{}, nil).Classify(context.Background(), page, types.SearchCriteria{})
	require.NoError(t, err)
	assert.Empty(t, v.Relevant)
}

// Relevant output never contains a byte from a range labelled irrelevant.
func TestPartitionNeverForwardsIrrelevant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 200; iter++ {
		size := 1 + rng.Intn(200)
		text := strings.Repeat("r", size)
		marked := []byte(text)

		var spans []types.LabeledSpan
		for pos := 0; pos < size; {
			end := pos + 1 + rng.Intn(size-pos)
			label := types.LabelRelevant
			if rng.Intn(2) == 0 {
				label = types.LabelIrrelevant
				for i := pos; i < end; i++ {
					marked[i] = 'x'
				}
			}
			if rng.Intn(4) != 0 {
				spans = append(spans, span(pos, end, label))
			} else {
				for i := pos; i < end; i++ {
					marked[i] = 'x'
				}
			}
			pos = end
		}
		rng.Shuffle(len(spans), func(i, j int) { spans[i], spans[j] = spans[j], spans[i] })

		p := types.Page{Content: string(marked)}
		v, err := Partition(p, spans)
		require.NoError(t, err)

		for _, rel := range v.Relevant {
			assert.NotContains(t, rel.Text, "x")
			assert.Equal(t, p.Content[rel.Start:rel.End], rel.Text)
		}
		for _, irr := range v.Irrelevant {
			for _, rel := range v.Relevant {
				assert.True(t, irr.End <= rel.Start || rel.End <= irr.Start)
			}
		}
	}
}
