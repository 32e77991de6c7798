/*
Package workflow runs one scrape end to end: log in, walk the listing, filter
each page for relevance, fetch the artifacts of relevant items and notify the
recipients about the new ones.

Every stage transition is recorded on the run. Per-page and per-artifact
failures are kept on the run and do not stop it until the failure rate passes
the configured threshold. A login failure after retries is fatal.
*/
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shanehull/listscraper/internal/notify"
	"github.com/shanehull/listscraper/internal/paginate"
	"github.com/shanehull/listscraper/internal/retry"
	"github.com/shanehull/listscraper/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Sessions interface {
	Login(ctx context.Context) (*types.Session, error)
	EnsureLoggedIn(ctx context.Context, s *types.Session) (*types.Session, error)
}

type Classifier interface {
	Classify(ctx context.Context, page types.Page, criteria types.SearchCriteria) (types.RelevanceVerdict, error)
}

type Fetcher interface {
	Resolve(verdict types.RelevanceVerdict) ([]types.ArtifactReference, error)
	Fetch(ctx context.Context, s *types.Session, refs []types.ArtifactReference) ([]types.DownloadedFile, error)
}

type Renderer interface {
	Render(s notify.Summary) (*notify.RenderedMessage, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, msg *notify.RenderedMessage, recipients []string) map[string]types.NotificationOutcome
}

// History filters out artifacts reported by earlier runs.
type History interface {
	FilterNew(files []types.DownloadedFile) []types.DownloadedFile
	Record(files []types.DownloadedFile) error
}

// Deps are the collaborators of a run. History may be nil, in which case every
// successful artifact is new.
type Deps struct {
	Sessions   Sessions
	Source     paginate.Source
	Classifier Classifier
	Fetcher    Fetcher
	Renderer   Renderer
	Dispatcher Dispatcher
	History    History
}

type Config struct {
	Criteria    types.SearchCriteria
	Recipients  []string
	StartCursor string
	MaxPages    int
	LoginRetry  retry.Policy
	PageRetry   retry.Policy

	// The run aborts once at least MinSamples items were attempted and more
	// than FailureThreshold of them failed.
	FailureThreshold float64
	MinSamples       int
}

type Orchestrator struct {
	deps       Deps
	cfg        Config
	walker     *paginate.Walker
	loginRetry *retry.Executor
	pageRetry  *retry.Executor
	logger     *zap.Logger
	now        func() time.Time
}

func NewOrchestrator(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinSamples < 1 {
		cfg.MinSamples = 1
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	return &Orchestrator{
		deps:       deps,
		cfg:        cfg,
		walker:     paginate.NewWalker(deps.Source, deps.Sessions, cfg.MaxPages, logger),
		loginRetry: retry.NewExecutor(cfg.LoginRetry, logger),
		pageRetry:  retry.NewExecutor(cfg.PageRetry, logger),
		logger:     logger,
		now:        time.Now,
	}
}

// runner carries the state of a single execution.
type runner struct {
	*Orchestrator
	run      *types.WorkflowRun
	logger   *zap.Logger
	samples  int
	failures int
	// artifact URLs already attempted in this run
	fetched map[string]bool
}

// Run executes the workflow. The returned run is always complete and terminal;
// the error is non-nil only when the run ended Failed.
func (o *Orchestrator) Run(ctx context.Context) (*types.WorkflowRun, error) {
	run := &types.WorkflowRun{
		ID:            uuid.NewString(),
		Criteria:      o.cfg.Criteria,
		State:         types.RunInit,
		Transitions:   []types.RunState{types.RunInit},
		StartedAt:     o.now(),
		Notifications: make(map[string]types.NotificationOutcome),
	}
	r := &runner{
		Orchestrator: o,
		run:          run,
		logger:       o.logger.With(zap.String("run", run.ID)),
		fetched:      make(map[string]bool),
	}

	r.logger.Info("Starting run", zap.Stringer("criteria", o.cfg.Criteria))
	err := r.execute(ctx)
	run.FinishedAt = o.now()

	r.logger.Info("Run finished",
		zap.String("state", string(run.State)),
		zap.Int("pages", run.PagesVisited),
		zap.Int("artifacts", len(run.Artifacts)),
		zap.Int("failures", len(run.Failures)),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)))
	return run, err
}

func (r *runner) execute(ctx context.Context) error {
	if err := r.advance(types.RunLoggingIn); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return r.canceled(err)
	}

	s, err := retry.Value(ctx, r.loginRetry, "login", r.deps.Sessions.Login)
	if err != nil {
		if ctx.Err() != nil {
			return r.canceled(err)
		}
		return r.fatal("login", err)
	}

	if err := r.advance(types.RunWalking); err != nil {
		return err
	}
	if err := r.walk(ctx, s); err != nil {
		return err
	}

	if err := r.advance(types.RunNotifying); err != nil {
		return err
	}
	return r.notify(ctx)
}

type pageStep struct {
	page types.Page
	ok   bool
}

func (r *runner) walk(ctx context.Context, s *types.Session) error {
	walk := r.walker.Walk(s, r.cfg.StartCursor)

	for {
		if err := ctx.Err(); err != nil {
			return r.canceled(err)
		}

		entity := pageEntity(walk.NextIndex())
		step, err := retry.Value(ctx, r.pageRetry, entity, func(ctx context.Context) (pageStep, error) {
			page, ok, err := walk.Next(ctx)
			if err != nil && !errors.Is(err, types.ErrNavigation) {
				// a session error; re-authentication already ran its own retries
				err = retry.Permanent(err)
			}
			return pageStep{page: page, ok: ok}, err
		})
		if err != nil {
			if ctx.Err() != nil {
				return r.canceled(err)
			}
			// the listing cannot be advanced past an unreadable page
			r.record(types.NewFailure(types.RunWalking, entity, err))
			r.logger.Warn("Walk ended on page failure", zap.String("page", entity), zap.Error(err))
			return nil
		}
		if !step.ok {
			return nil
		}

		r.run.PagesVisited++
		if err := r.processPage(ctx, walk.Session(), step.page); err != nil {
			return err
		}
	}
}

// processPage filters one page and fetches its relevant artifacts, leaving the
// run back in Walking unless it was aborted.
func (r *runner) processPage(ctx context.Context, s *types.Session, page types.Page) error {
	entity := pageEntity(page.Index)

	if err := r.advance(types.RunFiltering); err != nil {
		return err
	}

	verdict, err := r.deps.Classifier.Classify(ctx, page, r.cfg.Criteria)
	r.samples++
	if err != nil {
		r.failures++
		r.record(types.NewFailure(types.RunFiltering, entity, err))
		if err := r.checkFailureRate(); err != nil {
			return err
		}
		return r.advance(types.RunWalking)
	}

	r.run.RelevantSpans += len(verdict.Relevant)
	r.logger.Debug("Page classified",
		zap.Int("page", page.Index),
		zap.Int("relevant", len(verdict.Relevant)),
		zap.Int("irrelevant", len(verdict.Irrelevant)))

	if len(verdict.Relevant) == 0 {
		return r.advance(types.RunWalking)
	}

	if err := r.advance(types.RunFetching); err != nil {
		return err
	}

	files, err := r.fetch(ctx, s, verdict)
	if err != nil {
		r.samples++
		r.failures++
		r.record(types.NewFailure(types.RunFetching, entity, err))
	}
	for _, f := range files {
		r.samples++
		r.run.Artifacts = append(r.run.Artifacts, f)
		if !f.Succeeded() {
			r.failures++
			r.record(types.NewFailure(types.RunFetching, f.Ref.URL, f.Err))
		}
	}
	if err := r.checkFailureRate(); err != nil {
		return err
	}

	return r.advance(types.RunWalking)
}

// fetch downloads the verdict's artifacts, skipping any URL an earlier page
// already linked.
func (r *runner) fetch(ctx context.Context, s *types.Session, verdict types.RelevanceVerdict) ([]types.DownloadedFile, error) {
	refs, err := r.deps.Fetcher.Resolve(verdict)
	if err != nil {
		return nil, err
	}

	fresh := refs[:0]
	for _, ref := range refs {
		if r.fetched[ref.URL] {
			r.logger.Debug("Artifact already fetched this run",
				zap.String("url", ref.URL),
				zap.Int("page", verdict.PageIndex))
			continue
		}
		r.fetched[ref.URL] = true
		fresh = append(fresh, ref)
	}
	return r.deps.Fetcher.Fetch(ctx, s, fresh)
}

func (r *runner) notify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return r.canceled(err)
	}

	var fresh []types.DownloadedFile
	if r.deps.History != nil {
		fresh = r.deps.History.FilterNew(r.run.Artifacts)
	} else {
		for _, f := range r.run.Artifacts {
			if f.Succeeded() {
				fresh = append(fresh, f)
			}
		}
	}

	if len(fresh) == 0 {
		r.logger.Info("No new artifacts, nothing to notify")
		return r.advance(types.RunDone)
	}

	msg, err := r.deps.Renderer.Render(notify.Summary{
		RunID:        r.run.ID,
		Criteria:     r.cfg.Criteria,
		Finished:     r.now(),
		PagesVisited: r.run.PagesVisited,
		Artifacts:    fresh,
	})
	if err != nil {
		return r.fatal("message", fmt.Errorf("%w: %w", types.ErrNotificationFailed, err))
	}

	outcomes := r.deps.Dispatcher.Dispatch(ctx, msg, r.cfg.Recipients)
	r.run.Notifications = outcomes

	recipients := make([]string, 0, len(outcomes))
	for rcpt := range outcomes {
		recipients = append(recipients, rcpt)
	}
	sort.Strings(recipients)

	allSent := true
	for _, rcpt := range recipients {
		o := outcomes[rcpt]
		if o.Sent() {
			continue
		}
		allSent = false
		r.run.Failures = append(r.run.Failures, types.Failure{
			Kind:    types.KindNotificationFailed,
			Stage:   types.RunNotifying,
			Entity:  rcpt,
			Message: o.Reason,
		})
	}

	if err := ctx.Err(); err != nil {
		return r.canceled(err)
	}

	// recording only after full delivery keeps unnotified artifacts new
	if allSent && r.deps.History != nil {
		if err := r.deps.History.Record(fresh); err != nil {
			r.logger.Warn("Failed to record history", zap.Error(err))
		}
	}

	return r.advance(types.RunDone)
}

func (r *runner) advance(to types.RunState) error {
	if err := r.run.Transition(to); err != nil {
		return r.fatal("run", err)
	}
	r.logger.Debug("Stage", zap.String("state", string(to)))
	return nil
}

func (r *runner) record(f types.Failure) {
	r.run.Failures = append(r.run.Failures, f)
	r.logger.Warn("Recorded failure",
		zap.String("kind", string(f.Kind)),
		zap.String("stage", string(f.Stage)),
		zap.String("entity", f.Entity),
		zap.String("error", f.Message))
}

func (r *runner) checkFailureRate() error {
	if r.samples < r.cfg.MinSamples {
		return nil
	}
	rate := float64(r.failures) / float64(r.samples)
	if rate <= r.cfg.FailureThreshold {
		return nil
	}
	err := fmt.Errorf("%w: %d of %d items failed (%.0f%%, threshold %.0f%%)",
		types.ErrAborted, r.failures, r.samples, rate*100, r.cfg.FailureThreshold*100)
	return r.fatal("run", err)
}

// canceled ends the run as Canceled even when the cause also carries a retry
// or transport error.
func (r *runner) canceled(cause error) error {
	err := cause
	if !errors.Is(err, types.ErrCanceled) {
		err = fmt.Errorf("%w: %w", types.ErrCanceled, cause)
	}
	f := types.NewFailure(r.run.State, "run", err)
	f.Kind = types.KindCanceled
	return r.end(f, err)
}

// fatal records err against the current stage and ends the run.
func (r *runner) fatal(entity string, err error) error {
	return r.end(types.NewFailure(r.run.State, entity, err), err)
}

func (r *runner) end(f types.Failure, err error) error {
	r.record(f)
	if !r.run.State.Terminal() {
		// every non-terminal state may move to Failed
		_ = r.run.Transition(types.RunFailed)
	}
	return err
}

func pageEntity(index int) string {
	return fmt.Sprintf("page %d", index)
}
