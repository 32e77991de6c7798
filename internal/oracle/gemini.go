package oracle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shanehull/listscraper/internal/types"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

// contentGenerator is satisfied by *genai.Models.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type segmentLabel struct {
	Segment int    `json:"segment"`
	Label   string `json:"label"`
}

type classification struct {
	Segments []segmentLabel `json:"segments"`
}

type Gemini struct {
	models contentGenerator
	model  string
}

func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newGemini(client.Models, modelName), nil
}

func newGemini(models contentGenerator, modelName string) *Gemini {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Gemini{models: models, model: modelName}
}

// Classify labels every content line. A reply that names unknown segments or
// labels is an error rather than being patched up.
func (g *Gemini) Classify(ctx context.Context, content string, criteria types.SearchCriteria) ([]types.LabeledSpan, error) {
	segs := Segments(content)
	if len(segs) == 0 {
		return nil, nil
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: buildUserPrompt(criteria.String(), segs)}},
		Role:  "user",
	}}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    getResponseSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}

	respText := resp.Text()

	var out classification
	if err := json.Unmarshal([]byte(respText), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gemini JSON response: %w. Raw text: %s", err, respText)
	}

	labels := make(map[int]types.Label, len(out.Segments))
	for _, sl := range out.Segments {
		if sl.Segment < 1 || sl.Segment > len(segs) {
			return nil, fmt.Errorf("gemini labelled unknown segment %d (have %d)", sl.Segment, len(segs))
		}
		label := types.Label(sl.Label)
		if label != types.LabelRelevant && label != types.LabelIrrelevant {
			return nil, fmt.Errorf("gemini returned unknown label %q for segment %d", sl.Label, sl.Segment)
		}
		if prev, dup := labels[sl.Segment]; dup && prev != label {
			return nil, fmt.Errorf("gemini gave segment %d conflicting labels", sl.Segment)
		}
		labels[sl.Segment] = label
	}

	return toSpans(segs, labels), nil
}

func getResponseSchema() *genai.Schema {
	labelSchema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"segment": {Type: genai.TypeInteger, Description: "The segment number as given in the listing."},
			"label": {
				Type:        genai.TypeString,
				Enum:        []string{string(types.LabelRelevant), string(types.LabelIrrelevant)},
				Description: "Whether the segment matches the search criteria.",
			},
		},
		Required: []string{"segment", "label"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"segments": {
				Type:        genai.TypeArray,
				Items:       labelSchema,
				Description: "One entry per listing segment.",
			},
		},
		Required: []string{"segments"},
	}
}
