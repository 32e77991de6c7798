/*
Package types holds the data model shared by the scraping pipeline: sessions,
pages, relevance verdicts, artifacts, notification outcomes and the run record.
*/
package types

import (
	"strings"
	"time"
)

type Credentials struct {
	Username string
	Password string
}

// String never prints the password.
func (c Credentials) String() string {
	return c.Username
}

// SearchCriteria is fixed for the duration of a run. Keywords are stored
// lower-cased and trimmed.
type SearchCriteria struct {
	query    string
	keywords []string
}

func NewSearchCriteria(query string, keywords []string) SearchCriteria {
	var kws []string
	for _, kw := range keywords {
		trimmed := strings.ToLower(strings.TrimSpace(kw))
		if trimmed != "" {
			kws = append(kws, trimmed)
		}
	}
	return SearchCriteria{query: strings.TrimSpace(query), keywords: kws}
}

func (c SearchCriteria) Query() string { return c.query }

// Keywords returns a copy so callers cannot mutate the criteria.
func (c SearchCriteria) Keywords() []string {
	return append([]string(nil), c.keywords...)
}

func (c SearchCriteria) IsZero() bool {
	return c.query == "" && len(c.keywords) == 0
}

func (c SearchCriteria) String() string {
	if len(c.keywords) == 0 {
		return c.query
	}
	if c.query == "" {
		return strings.Join(c.keywords, ", ")
	}
	return c.query + " [" + strings.Join(c.keywords, ", ") + "]"
}

// Session is the authenticated handle. Only the session manager changes it;
// everything else treats it as read-only.
type Session struct {
	ID           string
	LoginURL     string
	Username     string
	Handle       string
	State        SessionState
	LastVerified time.Time
}

func (s *Session) Valid() bool {
	return s != nil && s.State == SessionAuthenticated
}

// Page is one unit of listing content. Content holds one listing item per line.
type Page struct {
	Index     int
	Cursor    string
	URL       string
	Content   string
	HasNext   bool
	FetchedAt time.Time
}

type Label string

const (
	LabelRelevant   Label = "relevant"
	LabelIrrelevant Label = "irrelevant"
)

// LabeledSpan is an oracle label over the half-open byte range [Start, End).
type LabeledSpan struct {
	Start int   `json:"start"`
	End   int   `json:"end"`
	Label Label `json:"label"`
}

// Span is a relevant byte range with its text copied verbatim from the page.
type Span struct {
	Start int
	End   int
	Text  string
}

// ByteRange is the location of removed (irrelevant) content. The text itself is
// deliberately not carried.
type ByteRange struct {
	Start int
	End   int
}

type RelevanceVerdict struct {
	PageIndex  int
	PageURL    string
	Relevant   []Span
	Irrelevant []ByteRange
}

type ArtifactReference struct {
	URL              string
	Name             string
	ExpectedChecksum string
	PageIndex        int
}

func (r ArtifactReference) HasExpectedChecksum() bool {
	return r.ExpectedChecksum != ""
}

type DownloadStatus string

const (
	StatusVerified   DownloadStatus = "verified"
	StatusUnverified DownloadStatus = "unverified"
	StatusCorrupt    DownloadStatus = "corrupt"
	StatusFailed     DownloadStatus = "failed"
)

type DownloadedFile struct {
	Ref      ArtifactReference
	Path     string
	Checksum string
	Size     int64
	Status   DownloadStatus
	Err      error
}

// Succeeded reports a usable file: verified, or explicitly unverified.
func (f DownloadedFile) Succeeded() bool {
	return f.Status == StatusVerified || f.Status == StatusUnverified
}

type NotificationStatus string

const (
	NotificationQueued     NotificationStatus = "queued"
	NotificationDispatched NotificationStatus = "dispatched"
	NotificationSent       NotificationStatus = "sent"
	NotificationFailed     NotificationStatus = "failed"
)

type NotificationOutcome struct {
	Recipient string
	Status    NotificationStatus
	Reason    string
}

func (o NotificationOutcome) Sent() bool {
	return o.Status == NotificationSent
}

type Failure struct {
	Kind    Kind
	Stage   RunState
	Entity  string
	Message string
}

// WorkflowRun aggregates a single execution of the workflow.
type WorkflowRun struct {
	ID            string
	Criteria      SearchCriteria
	State         RunState
	Transitions   []RunState
	StartedAt     time.Time
	FinishedAt    time.Time
	PagesVisited  int
	RelevantSpans int
	Artifacts     []DownloadedFile
	Notifications map[string]NotificationOutcome
	Failures      []Failure
}

func (r *WorkflowRun) Verified() []DownloadedFile {
	return r.filterArtifacts(StatusVerified)
}

func (r *WorkflowRun) Unverified() []DownloadedFile {
	return r.filterArtifacts(StatusUnverified)
}

func (r *WorkflowRun) filterArtifacts(status DownloadStatus) []DownloadedFile {
	var out []DownloadedFile
	for _, a := range r.Artifacts {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out
}
