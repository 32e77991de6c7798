package paginate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shanehull/listscraper/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeListing serves pages 1..total from an in-memory listing; total < 0 means
// the "next" control never disappears.
type fakeListing struct {
	total      int
	current    int
	openedAt   string
	advances   int
	fetchErrs  map[int]int
	advanceErr error
}

func (f *fakeListing) Open(_ context.Context, _ *types.Session, cursor string) error {
	f.openedAt = cursor
	f.current = 1
	return nil
}

func (f *fakeListing) FetchCurrentPage(context.Context, *types.Session) (types.Page, error) {
	if f.fetchErrs[f.current] > 0 {
		f.fetchErrs[f.current]--
		return types.Page{}, errors.New("render timeout")
	}
	return types.Page{
		URL:     fmt.Sprintf("https://example.com/list?page=%d", f.current),
		Content: fmt.Sprintf("item on page %d", f.current),
		HasNext: f.total < 0 || f.current < f.total,
	}, nil
}

func (f *fakeListing) HasNextPage(p types.Page) bool { return p.HasNext }

func (f *fakeListing) Advance(context.Context, *types.Session) error {
	if f.advanceErr != nil {
		return f.advanceErr
	}
	f.advances++
	f.current++
	return nil
}

type countingChecker struct {
	calls int
	err   error
}

func (c *countingChecker) EnsureLoggedIn(_ context.Context, s *types.Session) (*types.Session, error) {
	c.calls++
	return s, c.err
}

func collect(t *testing.T, k *Walk) []types.Page {
	t.Helper()
	var pages []types.Page
	for {
		p, ok, err := k.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return pages
		}
		pages = append(pages, p)
	}
}

func TestWalkVisitsPagesInOrder(t *testing.T) {
	src := &fakeListing{total: 3}
	checker := &countingChecker{}
	w := NewWalker(src, checker, 10, nil)

	pages := collect(t, w.Walk(&types.Session{}, ""))

	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, i+1, p.Index)
		assert.Equal(t, fmt.Sprintf("item on page %d", i+1), p.Content)
		assert.Equal(t, p.URL, p.Cursor)
		assert.False(t, p.FetchedAt.IsZero())
	}
	assert.False(t, pages[2].HasNext)
	assert.Equal(t, 2, src.advances)
	assert.Equal(t, 3, checker.calls)
}

func TestWalkNeverExceedsMaxPages(t *testing.T) {
	for _, limit := range []int{1, 2, 7} {
		src := &fakeListing{total: -1}
		k := NewWalker(src, &countingChecker{}, limit, nil).Walk(&types.Session{}, "")

		pages := collect(t, k)

		assert.Len(t, pages, limit)
		assert.Equal(t, limit-1, src.advances)
		assert.True(t, k.Done())
	}
}

func TestWalkNotRestartable(t *testing.T) {
	k := NewWalker(&fakeListing{total: 1}, &countingChecker{}, 0, nil).Walk(&types.Session{}, "")
	require.Len(t, collect(t, k), 1)

	_, ok, err := k.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWalkStartsAtCursor(t *testing.T) {
	src := &fakeListing{total: 1}
	collect(t, NewWalker(src, &countingChecker{}, 0, nil).Walk(&types.Session{}, "https://example.com/list?page=4"))
	assert.Equal(t, "https://example.com/list?page=4", src.openedAt)
}

func TestWalkFetchErrorRetriesSamePage(t *testing.T) {
	src := &fakeListing{total: 3, fetchErrs: map[int]int{2: 1}}
	k := NewWalker(src, &countingChecker{}, 10, nil).Walk(&types.Session{}, "")

	p, ok, err := k.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, p.Index)

	_, ok, err = k.Next(context.Background())
	require.Error(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, types.ErrNavigation)
	assert.Equal(t, 2, k.NextIndex())

	p, ok, err = k.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, p.Index)
	assert.Equal(t, "item on page 2", p.Content)
	// advancing happened once; the retry only re-read the page
	assert.Equal(t, 1, src.advances)
}

func TestWalkAdvanceError(t *testing.T) {
	src := &fakeListing{total: 3, advanceErr: errors.New("next button detached")}
	k := NewWalker(src, &countingChecker{}, 10, nil).Walk(&types.Session{}, "")

	_, ok, err := k.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = k.Next(context.Background())
	assert.ErrorIs(t, err, types.ErrNavigation)
	assert.False(t, k.Done())
}

func TestWalkSessionError(t *testing.T) {
	checker := &countingChecker{err: types.ErrAuthenticationFailed}
	k := NewWalker(&fakeListing{total: 2}, checker, 10, nil).Walk(&types.Session{}, "")

	_, ok, err := k.Next(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, types.ErrAuthenticationFailed)
}
