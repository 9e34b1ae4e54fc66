package feeds

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"stories/models"
)

// UserRegistry accumulates the users referenced by a feed. Each id is fetched
// at most once per session, even when resolves overlap.
type UserRegistry struct {
	fetcher UserFetcher

	mu       sync.Mutex
	users    map[models.UserID]models.User
	order    []models.UserID
	inflight map[models.UserID]*userBatch
	epoch    uint64
}

// userBatch is one in-flight fetch; done closes once err is final
type userBatch struct {
	done chan struct{}
	err  error
}

func NewUserRegistry(fetcher UserFetcher) *UserRegistry {
	return &UserRegistry{
		fetcher:  fetcher,
		users:    make(map[models.UserID]models.User),
		inflight: make(map[models.UserID]*userBatch),
	}
}

// Resolve makes sure every id is present, fetching the unknown ones in a
// single batch. Ids another Resolve is already fetching are waited for rather
// than fetched again, and that call's error is returned if it failed. When it
// failed only because its own context ended, the ids are fetched again under
// ctx. On error nothing from the failed batch is kept.
func (r *UserRegistry) Resolve(ctx context.Context, ids []models.UserID) error {
	pending := lo.Uniq(ids)
	for len(pending) > 0 {
		retry, err := r.resolve(ctx, pending)
		if err != nil {
			return err
		}
		pending = retry
	}
	return nil
}

// resolve runs one check and fetch round. It returns the ids whose in-flight
// batch was cancelled by another caller.
func (r *UserRegistry) resolve(ctx context.Context, ids []models.UserID) ([]models.UserID, error) {
	r.mu.Lock()
	epoch := r.epoch
	var missing []models.UserID
	waiting := make(map[*userBatch][]models.UserID)
	for _, id := range ids {
		if _, ok := r.users[id]; ok {
			continue
		}
		if batch, ok := r.inflight[id]; ok {
			waiting[batch] = append(waiting[batch], id)
			continue
		}
		missing = append(missing, id)
	}

	var own *userBatch
	if len(missing) > 0 {
		own = &userBatch{done: make(chan struct{})}
		for _, id := range missing {
			r.inflight[id] = own
		}
	}
	r.mu.Unlock()

	if own != nil {
		if err := r.fetch(ctx, epoch, missing, own); err != nil {
			return nil, err
		}
	}

	var retry []models.UserID
	for batch, batchIDs := range waiting {
		select {
		case <-batch.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		switch {
		case batch.err == nil:
		case isCancellation(batch.err) && ctx.Err() == nil:
			retry = append(retry, batchIDs...)
		default:
			return nil, batch.err
		}
	}

	return retry, nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (r *UserRegistry) fetch(ctx context.Context, epoch uint64, ids []models.UserID, batch *userBatch) error {
	userBatches.Inc()
	users, err := r.fetcher.FetchUsersByIDs(ctx, ids)

	r.mu.Lock()
	for _, id := range ids {
		if r.inflight[id] == batch {
			delete(r.inflight, id)
		}
	}
	inserted := 0
	if err == nil && epoch == r.epoch {
		for _, user := range users {
			if _, ok := r.users[user.ID]; ok {
				continue
			}
			r.users[user.ID] = user
			r.order = append(r.order, user.ID)
			inserted++
		}
	}
	batch.err = err
	r.mu.Unlock()
	close(batch.done)

	if err != nil {
		log.WithFields(log.Fields{
			"ids":   ids,
			"error": err,
		}).Warn("Failed to resolve users")
		return err
	}

	usersResolved.Add(float64(inserted))
	log.WithFields(log.Fields{
		"requested": len(ids),
		"inserted":  inserted,
	}).Debug("Resolved users")
	return nil
}

// Get looks up a resolved user.
func (r *UserRegistry) Get(id models.UserID) (models.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	return user, ok
}

// Lookup normalizes a raw identifier before looking it up.
func (r *UserRegistry) Lookup(raw any) (models.User, bool) {
	id, err := models.NormalizeUserID(raw)
	if err != nil {
		return models.User{}, false
	}
	return r.Get(id)
}

// Users returns the resolved users in the order they were first inserted.
func (r *UserRegistry) Users() []models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]models.User, 0, len(r.order))
	for _, id := range r.order {
		users = append(users, r.users[id])
	}
	return users
}

func (r *UserRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// Reset forgets every user. Batches still in flight are detached and their
// results dropped when they land.
func (r *UserRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = make(map[models.UserID]models.User)
	r.order = nil
	r.inflight = make(map[models.UserID]*userBatch)
	r.epoch++
}
