package oracle

import (
	"fmt"
	"strings"
)

const systemInstruction = `
# [INSTRUCTION]

You are a procurement analyst screening a paginated listing of projects, tenders and job postings on behalf of a contractor.

Your task is to decide, for every numbered segment of the listing, whether it matches the contractor's search criteria.

---

# [RULES]

- Each segment is one listing item. Judge it only on its own content.
- Label a segment "relevant" only when it clearly satisfies the criteria, including any stated value thresholds, trade, location or deadline.
- Label everything else "irrelevant": navigation, advertisements, headers, footers and items that match only partially.
- Use only the segment numbers given to you. Never invent, merge or split segments.
- Return exactly one entry per segment.

---

# [CRITICAL INSTRUCTION]

Respond with JSON matching the response schema and nothing else. Labels MUST be exactly "relevant" or "irrelevant".
`

const userPromptTemplate = `
Search criteria:
%s

Listing segments:
---
%s
---
`

func buildUserPrompt(criteria string, segs []Segment) string {
	var sb strings.Builder
	for _, s := range segs {
		sb.WriteString(fmt.Sprintf("[%d] %s\n", s.ID, s.Text))
	}
	return fmt.Sprintf(userPromptTemplate, criteria, sb.String())
}
