/*
Package paginate walks a paginated listing one page at a time, checking the
session before every fetch.
*/
package paginate

import (
	"context"
	"fmt"
	"time"

	"github.com/shanehull/listscraper/internal/types"

	"go.uber.org/zap"
)

// DefaultMaxPages bounds a walk when the caller gives no limit.
const DefaultMaxPages = 50

// Source is the listing half of the navigation capability.
type Source interface {
	Open(ctx context.Context, s *types.Session, cursor string) error
	FetchCurrentPage(ctx context.Context, s *types.Session) (types.Page, error)
	HasNextPage(p types.Page) bool
	Advance(ctx context.Context, s *types.Session) error
}

// SessionChecker is satisfied by *session.Manager.
type SessionChecker interface {
	EnsureLoggedIn(ctx context.Context, s *types.Session) (*types.Session, error)
}

type Walker struct {
	source   Source
	sessions SessionChecker
	maxPages int
	logger   *zap.Logger
}

func NewWalker(source Source, sessions SessionChecker, maxPages int, logger *zap.Logger) *Walker {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{source: source, sessions: sessions, maxPages: maxPages, logger: logger}
}

type step int

const (
	stepOpen step = iota
	stepFetch
	stepAdvance
	stepDone
)

// Walk is a single forward pass over the listing. It is not safe for
// concurrent use and cannot be restarted once exhausted.
type Walk struct {
	w       *Walker
	session *types.Session
	cursor  string
	next    step
	yielded int
}

// Walk starts a pass at cursor; an empty cursor means the first page.
func (w *Walker) Walk(s *types.Session, cursor string) *Walk {
	return &Walk{w: w, session: s, cursor: cursor, next: stepOpen}
}

// Session is the session as last refreshed by the walk.
func (k *Walk) Session() *types.Session {
	return k.session
}

func (k *Walk) Yielded() int {
	return k.yielded
}

func (k *Walk) Done() bool {
	return k.next == stepDone
}

// NextIndex is the 1-based index the next yielded page will carry.
func (k *Walk) NextIndex() int {
	return k.yielded + 1
}

// Next returns the following page, or false once the listing is exhausted or
// the page limit is reached. After an error the walk stays on the failed step,
// so calling Next again retries the same page rather than skipping it.
func (k *Walk) Next(ctx context.Context) (types.Page, bool, error) {
	if k.next == stepDone {
		return types.Page{}, false, nil
	}
	if k.yielded >= k.w.maxPages {
		k.w.logger.Warn("Page limit reached, stopping walk", zap.Int("max_pages", k.w.maxPages))
		k.next = stepDone
		return types.Page{}, false, nil
	}

	s, err := k.w.sessions.EnsureLoggedIn(ctx, k.session)
	if err != nil {
		return types.Page{}, false, err
	}
	k.session = s

	switch k.next {
	case stepOpen:
		if err := k.w.source.Open(ctx, k.session, k.cursor); err != nil {
			return types.Page{}, false, k.navErr("open listing", err)
		}
		k.next = stepFetch
	case stepAdvance:
		if err := k.w.source.Advance(ctx, k.session); err != nil {
			return types.Page{}, false, k.navErr("advance", err)
		}
		k.next = stepFetch
	}

	page, err := k.w.source.FetchCurrentPage(ctx, k.session)
	if err != nil {
		return types.Page{}, false, k.navErr("fetch page", err)
	}

	k.yielded++
	page.Index = k.yielded
	if page.Cursor == "" {
		page.Cursor = page.URL
	}
	if page.FetchedAt.IsZero() {
		page.FetchedAt = time.Now()
	}
	page.HasNext = k.w.source.HasNextPage(page)

	if page.HasNext {
		k.next = stepAdvance
	} else {
		k.next = stepDone
	}

	k.w.logger.Debug("Fetched page",
		zap.Int("page", page.Index),
		zap.String("url", page.URL),
		zap.Bool("has_next", page.HasNext))

	return page, true, nil
}

func (k *Walk) navErr(op string, err error) error {
	return fmt.Errorf("%w: %s (page %d): %w", types.ErrNavigation, op, k.NextIndex(), err)
}
