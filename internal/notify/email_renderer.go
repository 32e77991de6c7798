package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shanehull/listscraper/internal/types"
)

// Summary is what a run notification reports: the new artifacts found.
type Summary struct {
	RunID        string
	Criteria     types.SearchCriteria
	Finished     time.Time
	PagesVisited int
	Artifacts    []types.DownloadedFile
}

type artifactView struct {
	Name     string
	URL      string
	Status   string
	Verified bool
	Checksum string
	Page     int
	Size     int64
}

type summaryView struct {
	Subject   string
	RunID     string
	Criteria  string
	Finished  string
	Pages     int
	Artifacts []artifactView
}

// HTMLEmailRenderer renders notifications as HTML emails with a plain text fallback.
type HTMLEmailRenderer struct {
	tmpl *template.Template
}

// NewHTMLEmailRenderer creates a renderer with the default email template.
func NewHTMLEmailRenderer() *HTMLEmailRenderer {
	t := template.Must(template.New("email").Parse(emailHTMLTemplate))
	return &HTMLEmailRenderer{tmpl: t}
}

// Render produces an HTML email with plain text alternative.
func (r *HTMLEmailRenderer) Render(s Summary) (*RenderedMessage, error) {
	view := newSummaryView(s)

	var htmlBuf bytes.Buffer
	if err := r.tmpl.Execute(&htmlBuf, view); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}

	return &RenderedMessage{
		Subject: view.Subject,
		Text:    renderPlainText(view),
		HTML:    htmlBuf.String(),
	}, nil
}

func newSummaryView(s Summary) summaryView {
	criteria := s.Criteria.String()
	if criteria == "" {
		criteria = "all listings"
	}

	noun := "artifacts"
	if len(s.Artifacts) == 1 {
		noun = "artifact"
	}

	v := summaryView{
		Subject:  fmt.Sprintf("Listing Alert: %d new %s for %s", len(s.Artifacts), noun, criteria),
		RunID:    s.RunID,
		Criteria: criteria,
		Finished: s.Finished.Format("02 Jan 2006 3:04 PM"),
		Pages:    s.PagesVisited,
	}
	for _, a := range s.Artifacts {
		v.Artifacts = append(v.Artifacts, artifactView{
			Name:     a.Ref.Name,
			URL:      a.Ref.URL,
			Status:   string(a.Status),
			Verified: a.Status == types.StatusVerified,
			Checksum: a.Checksum,
			Page:     a.Ref.PageIndex,
			Size:     a.Size,
		})
	}
	return v
}

// renderPlainText produces a readable plain text version for email clients that don't support HTML.
func renderPlainText(v summaryView) string {
	var sb strings.Builder

	sb.WriteString(v.Subject + "\n")
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")

	sb.WriteString(fmt.Sprintf("Criteria: %s\n", v.Criteria))
	sb.WriteString(fmt.Sprintf("Finished: %s\n", v.Finished))
	sb.WriteString(fmt.Sprintf("Pages:    %d\n", v.Pages))
	sb.WriteString(fmt.Sprintf("Run:      %s\n\n", v.RunID))

	sb.WriteString("ARTIFACTS\n")
	sb.WriteString(strings.Repeat("-", 20) + "\n")
	for _, a := range v.Artifacts {
		sb.WriteString(fmt.Sprintf("• %s (page %d, %s)\n", a.Name, a.Page, a.Status))
		sb.WriteString(fmt.Sprintf("  %s\n", a.URL))
		if a.Checksum != "" {
			sb.WriteString(fmt.Sprintf("  sha256 %s\n", a.Checksum))
		}
	}

	return sb.String()
}
