package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/shanehull/listscraper/internal/checksum"
	"github.com/shanehull/listscraper/internal/fetch"
	"github.com/shanehull/listscraper/internal/history"
	"github.com/shanehull/listscraper/internal/notify"
	"github.com/shanehull/listscraper/internal/oracle"
	"github.com/shanehull/listscraper/internal/relevance"
	"github.com/shanehull/listscraper/internal/retry"
	"github.com/shanehull/listscraper/internal/session"
	"github.com/shanehull/listscraper/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const plansBody = "plumbing plans v1"

func sha(s string) string {
	return checksum.NewVerifier().DigestBytes([]byte(s))
}

// fakeSite is an in-memory listing behind a login.
type fakeSite struct {
	mu         sync.Mutex
	pages      []string
	files      map[string]string
	loginErrs   int
	reloginErrs int
	loginCalls  int
	fetchFails map[int]int
	expireAt   int
	onDownload func()
	live       bool
	pos        int
}

func newSite() *fakeSite {
	return &fakeSite{
		pages: []string{
			`<li><a href="/files/plans.pdf" data-sha256="` + sha(plansBody) + `">Commercial plumbing fit-out</a></li>` + "\n" +
				`<li><a href="/files/roof.pdf">Residential roofing</a></li>`,
			`<li><a href="/files/fence.pdf">Fencing</a></li>`,
		},
		files: map[string]string{
			"https://site.test/files/plans.pdf": plansBody,
			"https://site.test/files/roof.pdf":  "roof",
		},
		fetchFails: map[int]int{},
	}
}

func (f *fakeSite) Login(context.Context, string, types.Credentials) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.loginErrs > 0 {
		f.loginErrs--
		return "", errors.New("connection refused")
	}
	if f.loginCalls > 1 && f.reloginErrs > 0 {
		f.reloginErrs--
		return "", fmt.Errorf("%w: password expired", types.ErrAuthenticationFailed)
	}
	f.live = true
	return fmt.Sprintf("handle-%d", f.loginCalls), nil
}

func (f *fakeSite) IsSessionLive(context.Context, *types.Session) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live, nil
}

func (f *fakeSite) Open(context.Context, *types.Session, string) error {
	f.pos = 0
	return nil
}

func (f *fakeSite) FetchCurrentPage(context.Context, *types.Session) (types.Page, error) {
	n := f.pos + 1
	if f.fetchFails[n] > 0 {
		f.fetchFails[n]--
		return types.Page{}, errors.New("timeout waiting for listing")
	}
	if f.expireAt == n {
		f.mu.Lock()
		f.live = false
		f.mu.Unlock()
	}
	return types.Page{
		URL:     fmt.Sprintf("https://site.test/list?page=%d", n),
		Content: f.pages[f.pos],
	}, nil
}

func (f *fakeSite) HasNextPage(p types.Page) bool {
	return p.Index < len(f.pages)
}

func (f *fakeSite) Advance(context.Context, *types.Session) error {
	f.pos++
	return nil
}

func (f *fakeSite) Download(_ context.Context, _ *types.Session, ref types.ArtifactReference) (io.ReadCloser, error) {
	if f.onDownload != nil {
		f.onDownload()
	}
	body, ok := f.files[ref.URL]
	if !ok {
		return nil, errors.New("404")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type recordingTransport struct {
	mu    sync.Mutex
	fail  map[string]bool
	sent  map[string]*notify.RenderedMessage
	calls int
}

func (t *recordingTransport) Send(_ context.Context, msg *notify.RenderedMessage, recipient string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.fail[recipient] {
		return errors.New("550 mailbox unavailable")
	}
	if t.sent == nil {
		t.sent = map[string]*notify.RenderedMessage{}
	}
	t.sent[recipient] = msg
	return nil
}

type harness struct {
	site      *fakeSite
	transport *recordingTransport
	history   *history.Manager
	oracle    relevance.Oracle
	cfg       Config
}

func newHarness(t *testing.T) *harness {
	h, err := history.NewManager(t.TempDir(), 0, nil)
	require.NoError(t, err)
	return &harness{
		site:      newSite(),
		transport: &recordingTransport{},
		history:   h,
		oracle:    oracle.NewKeyword(),
		cfg: Config{
			Criteria:         types.NewSearchCriteria("", []string{"plumbing"}),
			Recipients:       []string{"r1", "r2", "r3"},
			LoginRetry:       retry.Policy{MaxAttempts: 3},
			PageRetry:        retry.Policy{MaxAttempts: 2},
			FailureThreshold: 0.5,
			MinSamples:       2,
		},
	}
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	sessions := session.NewManager(h.site, "https://site.test/login", types.Credentials{Username: "buyer", Password: "pw"}, nil)
	return NewOrchestrator(Deps{
		Sessions:   sessions,
		Source:     h.site,
		Classifier: relevance.NewFilter(h.oracle, nil),
		Fetcher:    fetch.NewPipeline(fetch.Config{Dir: t.TempDir()}, nil, h.site, sessions, nil, nil),
		Renderer:   notify.NewHTMLEmailRenderer(),
		Dispatcher: notify.NewDispatcher(h.transport, 2, 0, nil),
		History:    h.history,
	}, h.cfg, nil)
}

func TestRunVerifiedArtifact(t *testing.T) {
	h := newHarness(t)

	run, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.RunDone, run.State)
	assert.Equal(t, []types.RunState{
		types.RunInit, types.RunLoggingIn, types.RunWalking,
		types.RunFiltering, types.RunFetching, types.RunWalking,
		types.RunFiltering, types.RunWalking,
		types.RunNotifying, types.RunDone,
	}, run.Transitions)

	assert.Equal(t, 2, run.PagesVisited)
	assert.Equal(t, 1, run.RelevantSpans)
	require.Len(t, run.Verified(), 1)
	assert.Equal(t, "https://site.test/files/plans.pdf", run.Verified()[0].Ref.URL)
	assert.Len(t, run.Artifacts, 1)
	assert.Empty(t, run.Failures)

	require.Len(t, run.Notifications, 3)
	for _, r := range []string{"r1", "r2", "r3"} {
		assert.True(t, run.Notifications[r].Sent(), r)
	}
	assert.Contains(t, h.transport.sent["r1"].Subject, "1 new artifact")
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
}

func TestRunSkipsAlreadyNotified(t *testing.T) {
	h := newHarness(t)

	_, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, h.transport.calls)

	run, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RunDone, run.State)
	assert.Len(t, run.Verified(), 1)
	assert.Empty(t, run.Notifications)
	assert.Equal(t, 3, h.transport.calls)
}

func TestRunRecipientFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.transport.fail = map[string]bool{"r2": true}

	run, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.RunDone, run.State)
	assert.Equal(t, types.NotificationSent, run.Notifications["r1"].Status)
	assert.Equal(t, types.NotificationFailed, run.Notifications["r2"].Status)
	assert.Equal(t, types.NotificationSent, run.Notifications["r3"].Status)

	require.Len(t, run.Failures, 1)
	assert.Equal(t, types.KindNotificationFailed, run.Failures[0].Kind)
	assert.Equal(t, types.RunNotifying, run.Failures[0].Stage)
	assert.Equal(t, "r2", run.Failures[0].Entity)

	// not recorded, so the next run notifies again
	assert.Len(t, h.history.FilterNew(run.Artifacts), 1)
}

func TestRunLoginFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.site.loginErrs = 10

	run, err := h.orchestrator(t).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRetriesExhausted)
	assert.ErrorIs(t, err, types.ErrTransport)

	assert.Equal(t, types.RunFailed, run.State)
	assert.Equal(t, []types.RunState{types.RunInit, types.RunLoggingIn, types.RunFailed}, run.Transitions)
	assert.Equal(t, 3, h.site.loginCalls)
	require.Len(t, run.Failures, 1)
	assert.Equal(t, types.KindTransport, run.Failures[0].Kind)
	assert.Contains(t, run.Failures[0].Message, "after 3 attempts")
	assert.Equal(t, types.RunLoggingIn, run.Failures[0].Stage)
	assert.Zero(t, run.PagesVisited)
	assert.Zero(t, h.transport.calls)
}

func TestRunLoginRecoversWithinRetries(t *testing.T) {
	h := newHarness(t)
	h.site.loginErrs = 2

	run, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RunDone, run.State)
	assert.Equal(t, 3, h.site.loginCalls)
}

func TestRunRetriesFailedPage(t *testing.T) {
	h := newHarness(t)
	h.site.fetchFails[2] = 1

	run, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, run.PagesVisited)
	assert.Empty(t, run.Failures)
}

func TestRunPageFailureEndsWalk(t *testing.T) {
	h := newHarness(t)
	h.site.fetchFails[2] = 5

	run, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.RunDone, run.State)
	assert.Equal(t, 1, run.PagesVisited)
	require.Len(t, run.Failures, 1)
	assert.Equal(t, types.RunWalking, run.Failures[0].Stage)
	assert.Equal(t, "page 2", run.Failures[0].Entity)
	assert.Equal(t, types.KindNavigation, run.Failures[0].Kind)
	assert.Contains(t, run.Failures[0].Message, types.ErrNavigation.Error())
	assert.Contains(t, run.Failures[0].Message, "after 2 attempts")

	// what was gathered before the failure is still reported
	assert.Len(t, h.transport.sent, 3)
}

func TestRunReauthenticatesExpiredSession(t *testing.T) {
	h := newHarness(t)
	h.site.expireAt = 1

	run, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RunDone, run.State)
	assert.Equal(t, 2, h.site.loginCalls)
	assert.Len(t, run.Verified(), 1)
}

func TestRunFailedReauthIsNotRetriedPerPage(t *testing.T) {
	h := newHarness(t)
	h.site.expireAt = 1
	h.site.reloginErrs = 10

	run, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.RunDone, run.State)
	assert.Equal(t, 1, run.PagesVisited)
	// initial login, one re-login before the download, one before page 2
	assert.Equal(t, 3, h.site.loginCalls)

	require.Len(t, run.Failures, 2)
	assert.Equal(t, types.RunFetching, run.Failures[0].Stage)
	assert.Equal(t, types.KindAuthenticationFailed, run.Failures[0].Kind)
	assert.Equal(t, types.RunWalking, run.Failures[1].Stage)
	assert.Equal(t, "page 2", run.Failures[1].Entity)
	assert.Equal(t, types.KindAuthenticationFailed, run.Failures[1].Kind)
	assert.NotContains(t, run.Failures[1].Message, types.ErrRetriesExhausted.Error())
	assert.Zero(t, h.transport.calls)
}

func TestRunFetchesArtifactOncePerRun(t *testing.T) {
	h := newHarness(t)
	h.site.pages[1] = `<li><a href="/files/plans.pdf">Plumbing plans, reissued</a></li>`
	var downloads int
	h.site.onDownload = func() { downloads++ }

	run, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, run.PagesVisited)
	assert.Equal(t, 1, downloads)
	require.Len(t, run.Artifacts, 1)
	assert.Equal(t, 1, run.Artifacts[0].Ref.PageIndex)
	assert.Len(t, h.transport.sent, 3)
}

type brokenOracle struct{}

func (brokenOracle) Classify(context.Context, string, types.SearchCriteria) ([]types.LabeledSpan, error) {
	return nil, errors.New("model overloaded")
}

func TestRunAbortsOnFailureRate(t *testing.T) {
	h := newHarness(t)
	h.oracle = brokenOracle{}
	h.site.pages = append(h.site.pages, "<li>third</li>")

	run, err := h.orchestrator(t).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrAborted)

	assert.Equal(t, types.RunFailed, run.State)
	assert.Equal(t, 2, run.PagesVisited)
	require.Len(t, run.Failures, 3)
	assert.Equal(t, types.KindClassification, run.Failures[0].Kind)
	assert.Equal(t, "page 1", run.Failures[0].Entity)
	assert.Equal(t, types.KindAborted, run.Failures[2].Kind)
	assert.Zero(t, h.transport.calls)
}

func TestRunIsolatesSingleClassificationFailure(t *testing.T) {
	h := newHarness(t)
	h.cfg.MinSamples = 10
	failing := &flakyOracle{inner: oracle.NewKeyword(), failOn: 2}
	h.oracle = failing

	run, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RunDone, run.State)
	require.Len(t, run.Failures, 1)
	assert.Equal(t, types.RunFiltering, run.Failures[0].Stage)
	assert.Equal(t, "page 2", run.Failures[0].Entity)
	assert.Len(t, run.Verified(), 1)
}

type flakyOracle struct {
	inner  relevance.Oracle
	calls  int
	failOn int
}

func (f *flakyOracle) Classify(ctx context.Context, content string, c types.SearchCriteria) ([]types.LabeledSpan, error) {
	f.calls++
	if f.calls == f.failOn {
		return nil, errors.New("model overloaded")
	}
	return f.inner.Classify(ctx, content, c)
}

func TestRunCanceledDuringDownload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t)
	h.site.onDownload = cancel

	run, err := h.orchestrator(t).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCanceled)

	assert.Equal(t, types.RunFailed, run.State)
	assert.Equal(t, 1, run.PagesVisited)
	// the in-flight download completed before the cancel was honoured
	assert.Len(t, run.Verified(), 1)
	last := run.Failures[len(run.Failures)-1]
	assert.Equal(t, types.KindCanceled, last.Kind)
	assert.Equal(t, types.RunWalking, last.Stage)
	assert.Zero(t, h.transport.calls)
}

func TestRunCanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHarness(t)
	run, err := h.orchestrator(t).Run(ctx)
	assert.ErrorIs(t, err, types.ErrCanceled)
	assert.Equal(t, types.RunFailed, run.State)
	assert.Zero(t, h.site.loginCalls)
}

func TestRunNoRelevantItems(t *testing.T) {
	h := newHarness(t)
	h.cfg.Criteria = types.NewSearchCriteria("", []string{"asbestos"})

	run, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RunDone, run.State)
	assert.Empty(t, run.Artifacts)
	assert.Empty(t, run.Notifications)
	assert.Zero(t, h.transport.calls)
}
