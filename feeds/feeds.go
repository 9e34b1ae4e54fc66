package feeds

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"stories/models"
)

// Engine owns the state of one feed session: the story buffer, the page
// cursor and the users referenced by buffered stories.
//
// Every session gets its own Engine. All methods are safe for concurrent use;
// fetches run outside the engine lock and their results are applied in a
// single critical section.
type Engine struct {
	source   Source
	users    *UserRegistry
	pageSize int
	maxItems int
	logger   *log.Entry

	mu            sync.Mutex
	stories       []models.Story
	page          int
	hasMore       bool
	isLoading     bool
	isLoadingMore bool
	ready         bool
	lastError     error
	generation    uint64

	listenersMu  sync.Mutex
	listeners    []listener
	nextListener int
}

type listener struct {
	id int
	fn func(State)
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.MaxItemsInMemory == 0 {
		o.MaxItemsInMemory = DefaultMaxItemsInMemory
	}
	if o.Logger == nil {
		o.Logger = log.WithField("component", "feed")
	}
	return o
}

func (o Options) validate() error {
	if o.PageSize < 0 {
		return fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidOptions, o.PageSize)
	}
	if o.MaxItemsInMemory < 0 {
		return fmt.Errorf("%w: max items in memory must be positive, got %d", ErrInvalidOptions, o.MaxItemsInMemory)
	}
	// a smaller cap would drop part of a page as soon as it lands
	if o.MaxItemsInMemory < o.PageSize {
		return fmt.Errorf("%w: max items in memory (%d) is below page size (%d)",
			ErrInvalidOptions, o.MaxItemsInMemory, o.PageSize)
	}
	return nil
}

// NewEngine creates an idle feed reading from source.
func NewEngine(source Source, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	return &Engine{
		source:   source,
		users:    NewUserRegistry(source),
		pageSize: opts.PageSize,
		maxItems: opts.MaxItemsInMemory,
		logger:   opts.Logger,
		page:     1,
		hasMore:  true,
	}, nil
}

// InitialLoad (re)loads the feed from the first page, replacing the buffer.
// A failure is recorded in LastError and leaves the previous buffer in place.
// It returns ErrLoadInProgress if another initial load is still running.
func (e *Engine) InitialLoad(ctx context.Context) error {
	e.mu.Lock()
	if e.isLoading {
		e.mu.Unlock()
		return ErrLoadInProgress
	}
	if e.isLoadingMore {
		// the running load more would append to the buffer being replaced
		e.generation++
		e.isLoadingMore = false
	}
	e.isLoading = true
	e.lastError = nil
	e.page = 1
	gen := e.generation
	e.mu.Unlock()
	e.notify()

	stories, totalPages, err := e.fetchPage(ctx, gen, 1)

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		feedLoads.WithLabelValues("initial", "superseded").Inc()
		e.logger.Debug("Discarding superseded initial load")
		return ErrSuperseded
	}
	e.isLoading = false
	if err != nil {
		e.lastError = err
	} else {
		e.stories = e.trim(stories)
		e.hasMore = 1 < totalPages
		e.ready = true
	}
	size, hasMore := len(e.stories), e.hasMore
	e.mu.Unlock()
	e.notify()

	if err != nil {
		feedLoads.WithLabelValues("initial", "error").Inc()
		e.logger.WithField("error", err).Error("Error fetching stories")
		return err
	}

	feedLoads.WithLabelValues("initial", "ok").Inc()
	e.logger.WithFields(log.Fields{
		"stories":    size,
		"totalPages": totalPages,
		"hasMore":    hasMore,
	}).Info("Loaded first page")
	return nil
}

// LoadMore appends the next page. It does nothing while another page is
// loading, before the first page has loaded, or once the last page has been
// seen. On failure the page cursor is rolled back so the next call retries
// the same page; the buffer is left untouched and the error is returned.
func (e *Engine) LoadMore(ctx context.Context) error {
	e.mu.Lock()
	if e.isLoadingMore || !e.hasMore || e.isLoading || !e.ready {
		e.mu.Unlock()
		return nil
	}
	e.isLoadingMore = true
	e.page++
	page := e.page
	gen := e.generation
	e.mu.Unlock()
	e.notify()

	stories, totalPages, err := e.fetchPage(ctx, gen, page)

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		feedLoads.WithLabelValues("more", "superseded").Inc()
		e.logger.WithField("page", page).Debug("Discarding superseded page")
		return ErrSuperseded
	}
	e.isLoadingMore = false
	switch {
	case err != nil:
		e.page = page - 1
	case len(stories) == 0:
		e.hasMore = false
	default:
		e.stories = e.trim(slices.Concat(e.stories, stories))
		e.hasMore = page < totalPages
	}
	size, hasMore := len(e.stories), e.hasMore
	e.mu.Unlock()
	e.notify()

	fields := log.Fields{"page": page}
	if err != nil {
		feedLoads.WithLabelValues("more", "error").Inc()
		fields["error"] = err
		e.logger.WithFields(fields).Error("Error loading more stories")
		return err
	}

	feedLoads.WithLabelValues("more", "ok").Inc()
	fields["fetched"] = len(stories)
	fields["stories"] = size
	fields["hasMore"] = hasMore
	e.logger.WithFields(fields).Info("Loaded more stories")
	return nil
}

// Reset returns the feed to its initial empty state and drops all users.
// Loads still in flight finish with ErrSuperseded without touching the feed.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.generation++
	e.stories = nil
	e.page = 1
	e.hasMore = true
	e.isLoading = false
	e.isLoadingMore = false
	e.ready = false
	e.lastError = nil
	e.users.Reset()
	e.mu.Unlock()

	e.logger.Info("Feed reset")
	e.notify()
}

// fetchPage fetches a page, stamps recency keys and resolves its authors.
// Users are resolved before the caller commits the page so a failed user
// fetch leaves the feed as it was.
func (e *Engine) fetchPage(ctx context.Context, gen uint64, page int) ([]models.Story, int, error) {
	result, err := e.source.FetchStoriesPage(ctx, page, e.pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch page %d: %w", page, err)
	}

	if e.currentGeneration() != gen {
		return nil, 0, ErrSuperseded
	}

	stories := e.stamp(result.Items)
	authors := lo.Map(stories, func(s models.Story, _ int) models.UserID {
		return s.AuthorID
	})
	if err := e.users.Resolve(ctx, authors); err != nil {
		return nil, 0, fmt.Errorf("resolve users for page %d: %w", page, err)
	}

	return stories, result.TotalPages, nil
}

func (e *Engine) stamp(stories []models.Story) []models.Story {
	out := make([]models.Story, len(stories))
	for i, story := range stories {
		ts, err := models.ParseTimestamp(story.Timestamp)
		if err != nil {
			e.logger.WithFields(log.Fields{
				"story":     story.ID,
				"timestamp": story.Timestamp,
			}).Warn("Story has an unreadable timestamp")
			story.RecencyKey = 0
		} else {
			story.RecencyKey = ts.UnixMilli()
		}
		out[i] = story
	}
	return out
}

// trim drops the oldest stories beyond the retention cap
func (e *Engine) trim(stories []models.Story) []models.Story {
	overflow := len(stories) - e.maxItems
	if overflow <= 0 {
		return stories
	}
	storiesTrimmed.Add(float64(overflow))
	return slices.Clone(stories[overflow:])
}

func (e *Engine) currentGeneration() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// State returns a copy of the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Stories:       slices.Clone(e.stories),
		Page:          e.page,
		HasMore:       e.hasMore,
		IsLoading:     e.isLoading,
		IsLoadingMore: e.isLoadingMore,
		LastError:     e.lastError,
		Generation:    e.generation,
	}
}

func (e *Engine) snapshot() []models.Story {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.stories)
}

// Presented is the display feed: one story per author, joined with user
// details. It is derived from the current buffer on every call.
func (e *Engine) Presented() []models.PresentedStory {
	return join(Collapse(e.snapshot()), e.users)
}

// Timeline is every buffered story in fetch order, joined with user details.
func (e *Engine) Timeline() []models.PresentedStory {
	return join(e.snapshot(), e.users)
}

// Users returns the users resolved so far.
func (e *Engine) Users() []models.User {
	return e.users.Users()
}

// Registry exposes the user registry backing the feed.
func (e *Engine) Registry() *UserRegistry {
	return e.users
}

// Subscribe registers fn to be called with the new state after every state
// change. The returned function removes the subscription.
func (e *Engine) Subscribe(fn func(State)) (cancel func()) {
	e.listenersMu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners = append(e.listeners, listener{id: id, fn: fn})
	e.listenersMu.Unlock()

	return func() {
		e.listenersMu.Lock()
		defer e.listenersMu.Unlock()
		e.listeners = slices.DeleteFunc(e.listeners, func(l listener) bool {
			return l.id == id
		})
	}
}

func (e *Engine) notify() {
	e.listenersMu.Lock()
	listeners := slices.Clone(e.listeners)
	e.listenersMu.Unlock()

	if len(listeners) == 0 {
		return
	}

	state := e.State()
	for _, l := range listeners {
		l.fn(state)
	}
}

// IsSuperseded reports whether err comes from a load discarded by Reset or by
// a newer InitialLoad.
func IsSuperseded(err error) bool {
	return errors.Is(err, ErrSuperseded)
}
