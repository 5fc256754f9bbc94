package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.io/infrasutra/postbox/internal/store"
)

var (
	// ErrCursorMissing is returned for page N when page N-1 has not been
	// fetched since the last refresh. Nothing is fetched and state is kept.
	ErrCursorMissing = errors.New("cursor for previous page not recorded")
	// ErrStale means the view changed while the request was in flight and the
	// result was discarded.
	ErrStale = errors.New("result discarded: view changed")
)

// Source is the remote store as seen by a view.
type Source interface {
	FetchPage(ctx context.Context, query store.Query) ([]store.Message, error)
	FetchCount(ctx context.Context, filter store.Filter) (int, error)
}

// Page is one fetched page and the cursor bound to its last row. Cursor is
// nil for an empty page.
type Page struct {
	Rows   []store.Message
	Cursor *store.Cursor
}

// View is what a mailbox view renders.
type View struct {
	Rows       []store.Message
	Page       int
	PageSize   int
	Total      int
	TotalPages int
}

// cursorList holds the cursor of every fetched page, keyed by page number
// starting at 1. It only grows by appending the next page.
type cursorList struct {
	cursors []store.Cursor
}

func (l *cursorList) get(page int) (store.Cursor, bool) {
	if page < 1 || page > len(l.cursors) {
		return store.Cursor{}, false
	}
	return l.cursors[page-1], true
}

// record stores the cursor for page. Re-recording an earlier page with a
// different cursor drops every later one: they were derived from rows that
// have moved.
func (l *cursorList) record(page int, cursor store.Cursor) {
	switch {
	case page == len(l.cursors)+1:
		l.cursors = append(l.cursors, cursor)
	case page >= 1 && page <= len(l.cursors):
		if !sameCursor(l.cursors[page-1], cursor) {
			l.cursors[page-1] = cursor
			l.cursors = l.cursors[:page]
		}
	}
}

// sameCursor compares instants, not time.Time values, so a cursor decoded
// again with another *time.Location still matches.
func sameCursor(a, b store.Cursor) bool {
	return a.ID == b.ID && a.Timestamp.Equal(b.Timestamp)
}

// truncate forgets the cursors of page and everything after it.
func (l *cursorList) truncate(page int) {
	if page < 1 {
		page = 1
	}
	if page-1 < len(l.cursors) {
		l.cursors = l.cursors[:page-1]
	}
}

func (l *cursorList) reset() {
	l.cursors = nil
}

func (l *cursorList) len() int {
	return len(l.cursors)
}

// Coordinator drives one paged view for one owner. Methods are safe for
// concurrent use; results of requests started before a Refresh or SetParams
// are discarded with ErrStale.
type Coordinator struct {
	source Source
	owner  string

	mu         sync.Mutex
	params     Params
	page       int
	cursors    cursorList
	rows       []store.Message
	total      int
	generation uint64
	loads      uint64
}

func NewCoordinator(source Source, owner string, params Params) *Coordinator {
	if params.Page < 1 {
		params.Page = DefaultPage
	}
	if params.PageSize < 1 {
		params.PageSize = DefaultPageSize
	}
	return &Coordinator{
		source: source,
		owner:  owner,
		params: params,
		page:   params.Page,
	}
}

// FetchPage fetches one page of the active view. Page 1 needs no cursor;
// any later page needs the cursor recorded for the page before it.
func (c *Coordinator) FetchPage(ctx context.Context, page int) (Page, error) {
	c.mu.Lock()
	gen := c.generation
	query, err := c.queryLocked(page)
	c.mu.Unlock()
	if err != nil {
		return Page{}, err
	}

	rows, err := c.source.FetchPage(ctx, query)
	if err != nil {
		return Page{}, fmt.Errorf("fetch page %d: %w", page, err)
	}
	result := Page{Rows: rows}
	if len(rows) > 0 {
		result.Cursor = store.CursorFor(rows[len(rows)-1])
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return Page{}, ErrStale
	}
	if result.Cursor != nil {
		c.cursors.record(page, *result.Cursor)
	}
	return result, nil
}

// FetchCount counts the active view without any page limit.
func (c *Coordinator) FetchCount(ctx context.Context) (int, error) {
	c.mu.Lock()
	gen := c.generation
	filter := c.params.Filter(c.owner)
	c.mu.Unlock()

	total, err := c.source.FetchCount(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("fetch count: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return 0, ErrStale
	}
	return total, nil
}

// Load fetches the current page followed by the total count. An empty page
// past the first steps back one page and loads again, so a shrinking result
// set never leaves the view on a blank page.
func (c *Coordinator) Load(ctx context.Context) (View, error) {
	c.mu.Lock()
	c.loads++
	seq := c.loads
	gen := c.generation
	c.mu.Unlock()

	for {
		c.mu.Lock()
		page := c.page
		c.mu.Unlock()

		result, err := c.FetchPage(ctx, page)
		if err != nil {
			return View{}, err
		}
		total, err := c.FetchCount(ctx)
		if err != nil {
			return View{}, err
		}

		c.mu.Lock()
		if seq != c.loads || gen != c.generation || page != c.page {
			c.mu.Unlock()
			return View{}, ErrStale
		}
		c.total = total
		if len(result.Rows) == 0 && page > 1 {
			c.page = page - 1
			c.mu.Unlock()
			continue
		}
		c.rows = result.Rows
		view := c.viewLocked()
		c.mu.Unlock()
		return view, nil
	}
}

// Refresh returns the view to page 1 and forgets every cursor. In-flight
// requests become stale.
func (c *Coordinator) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// SetParams switches the view. A different folder, filter or page size
// resets it like Refresh; only the page number changing behaves like SetPage.
func (c *Coordinator) SetParams(params Params) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if params.PageSize < 1 {
		params.PageSize = DefaultPageSize
	}
	if !c.params.sameView(params) {
		page := params.Page
		c.params = params
		c.resetLocked()
		if page > 1 {
			return ErrCursorMissing
		}
		return nil
	}
	if params.Page < 1 {
		params.Page = DefaultPage
	}
	return c.setPageLocked(params.Page)
}

// SetPage moves to page n if it can be fetched: page 1 always, page n only
// when page n-1's cursor is known.
func (c *Coordinator) SetPage(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setPageLocked(n)
}

// Next advances one page unless the view is on the last page.
func (c *Coordinator) Next() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page >= TotalPages(c.total, c.params.PageSize) {
		return false
	}
	return c.setPageLocked(c.page+1) == nil
}

// Prev goes back one page unless the view is on page 1.
func (c *Coordinator) Prev() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page <= 1 {
		return false
	}
	return c.setPageLocked(c.page-1) == nil
}

// Invalidate drops the cursors after page, for callers that mutated rows on
// that page and want to stay on it.
func (c *Coordinator) Invalidate(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors.truncate(page + 1)
}

// View returns the last loaded state.
func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Coordinator) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// KnownPages is how many page cursors are recorded.
func (c *Coordinator) KnownPages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursors.len()
}

func (c *Coordinator) queryLocked(page int) (store.Query, error) {
	if page < 1 {
		return store.Query{}, fmt.Errorf("page %d: %w", page, ErrInvalidParams)
	}
	query := store.Query{
		Filter: c.params.Filter(c.owner),
		Limit:  c.params.PageSize,
	}
	if page > 1 {
		cursor, ok := c.cursors.get(page - 1)
		if !ok {
			return store.Query{}, ErrCursorMissing
		}
		query.After = &cursor
	}
	return query, nil
}

func (c *Coordinator) setPageLocked(n int) error {
	if n < 1 {
		return fmt.Errorf("page %d: %w", n, ErrInvalidParams)
	}
	if n > 1 {
		if _, ok := c.cursors.get(n - 1); !ok {
			return ErrCursorMissing
		}
	}
	c.page = n
	return nil
}

func (c *Coordinator) resetLocked() {
	c.page = DefaultPage
	c.cursors.reset()
	c.rows = nil
	c.total = 0
	c.generation++
}

func (c *Coordinator) viewLocked() View {
	return View{
		Rows:       c.rows,
		Page:       c.page,
		PageSize:   c.params.PageSize,
		Total:      c.total,
		TotalPages: TotalPages(c.total, c.params.PageSize),
	}
}
