package feeds

import (
	"context"
	"errors"
	"slices"
	"sync"

	"stories/models"
)

var errFetch = errors.New("stories API server error")

// fakeSource serves canned pages and users. Pages or user batches listed in
// hold block until release is closed, announcing themselves on entered first.
type fakeSource struct {
	mu        sync.Mutex
	pages     map[int]*models.StoryPage
	pageErrs  map[int]error
	users     map[models.UserID]models.User
	userErr   error
	userErrs  map[models.UserID]error
	pageCalls []int
	userCalls [][]models.UserID

	holdPages map[int]bool
	holdUsers bool
	entered   chan struct{}
	release   chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages:     make(map[int]*models.StoryPage),
		pageErrs:  make(map[int]error),
		users:     make(map[models.UserID]models.User),
		userErrs:  make(map[models.UserID]error),
		holdPages: make(map[int]bool),
		entered:   make(chan struct{}, 16),
		release:   make(chan struct{}),
	}
}

func (f *fakeSource) setPage(page, totalPages int, stories ...models.Story) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[page] = &models.StoryPage{Items: stories, TotalPages: totalPages, TotalItems: len(stories)}
}

func (f *fakeSource) setPageErr(page int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageErrs[page] = err
}

func (f *fakeSource) addUsers(users ...models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range users {
		f.users[u.ID] = u
	}
}

func (f *fakeSource) FetchStoriesPage(ctx context.Context, page, perPage int) (*models.StoryPage, error) {
	f.mu.Lock()
	f.pageCalls = append(f.pageCalls, page)
	hold := f.holdPages[page]
	f.mu.Unlock()

	if hold {
		f.entered <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pageErrs[page]; err != nil {
		return nil, err
	}
	result, ok := f.pages[page]
	if !ok {
		return &models.StoryPage{Items: []models.Story{}, TotalPages: 1}, nil
	}
	return &models.StoryPage{
		Items:      slices.Clone(result.Items),
		TotalPages: result.TotalPages,
		TotalItems: result.TotalItems,
	}, nil
}

func (f *fakeSource) FetchUsersByIDs(ctx context.Context, ids []models.UserID) ([]models.User, error) {
	f.mu.Lock()
	f.userCalls = append(f.userCalls, slices.Clone(ids))
	hold := f.holdUsers
	f.mu.Unlock()

	if hold {
		f.entered <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return nil, f.userErr
	}
	for _, id := range ids {
		if err := f.userErrs[id]; err != nil {
			return nil, err
		}
	}
	var users []models.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (f *fakeSource) calls() ([]int, [][]models.UserID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.pageCalls), slices.Clone(f.userCalls)
}

func story(id string, author models.UserID, timestamp string, viewed bool) models.Story {
	return models.Story{ID: models.StoryID(id), AuthorID: author, Timestamp: timestamp, HasViewed: viewed}
}
