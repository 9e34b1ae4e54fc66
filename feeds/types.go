// Package feeds holds the feed state engine: pagination over the stories API,
// user resolution, per-author collapsing and bounded in-memory retention.
package feeds

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"stories/models"
)

const (
	DefaultPageSize         = 30
	DefaultMaxItemsInMemory = 500

	// UnknownUserName is shown for stories whose author is not resolved yet
	UnknownUserName = "Unknown"
)

var (
	ErrInvalidOptions = errors.New("invalid feed options")
	ErrLoadInProgress = errors.New("initial load already in progress")
	// ErrSuperseded is returned by loads whose results were discarded because
	// the feed was reset, or a newer initial load started, while they were in
	// flight.
	ErrSuperseded = errors.New("load superseded by a newer load or reset")
)

// PageFetcher fetches one page of stories
type PageFetcher interface {
	FetchStoriesPage(ctx context.Context, page, perPage int) (*models.StoryPage, error)
}

// UserFetcher fetches a batch of users by id
type UserFetcher interface {
	FetchUsersByIDs(ctx context.Context, ids []models.UserID) ([]models.User, error)
}

// Source is everything a feed needs from the data access layer
type Source interface {
	PageFetcher
	UserFetcher
}

// Options configures a feed engine. Zero values take the defaults.
type Options struct {
	PageSize         int
	MaxItemsInMemory int
	Logger           *log.Entry
}

// State is a point in time copy of the engine state
type State struct {
	Stories       []models.Story
	Page          int
	HasMore       bool
	IsLoading     bool
	IsLoadingMore bool
	LastError     error
	Generation    uint64
}
