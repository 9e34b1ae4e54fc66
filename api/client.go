// Package api is the data access layer for the stories API, a json-server v1
// style REST service exposing /stories and /users collections.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stories/models"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultMaxRetries    = 2
	defaultRetryInterval = 200 * time.Millisecond
	maxRetryInterval     = 5 * time.Second
)

// HTTPClient interface for making HTTP requests (allows injection for testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithTimeout bounds every single request attempt.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry sets how often temporary failures are retried and the first
// backoff interval. maxRetries of zero disables retrying.
func WithRetry(maxRetries uint64, initialInterval time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		if initialInterval > 0 {
			c.retryInterval = initialInterval
		}
	}
}

// Client talks to the stories API.
type Client struct {
	baseURL       string
	httpClient    HTTPClient
	userAgent     string
	timeout       time.Duration
	maxRetries    uint64
	retryInterval time.Duration
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{},
		timeout:       defaultTimeout,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchStoriesPage fetches one page of stories, newest first.
func (c *Client) FetchStoriesPage(ctx context.Context, page, perPage int) (*models.StoryPage, error) {
	q := url.Values{}
	q.Set("_page", strconv.Itoa(page))
	q.Set("_per_page", strconv.Itoa(perPage))
	q.Set("_sort", "-timestamp")
	u := c.endpoint("stories", q)

	body, err := c.get(ctx, "stories_page", u)
	if err != nil {
		return nil, err
	}

	items, pages, total, err := decodePage[models.Story](body)
	if err != nil {
		return nil, malformed("fetch stories page", u, err)
	}

	log.WithFields(log.Fields{
		"page":       page,
		"perPage":    perPage,
		"items":      len(items),
		"totalPages": pages,
	}).Debug("Fetched stories page")

	return &models.StoryPage{Items: items, TotalPages: pages, TotalItems: total}, nil
}

// FetchUsersPage fetches one page of the users collection.
func (c *Client) FetchUsersPage(ctx context.Context, page, perPage int) (*models.UserPage, error) {
	q := url.Values{}
	q.Set("_page", strconv.Itoa(page))
	q.Set("_per_page", strconv.Itoa(perPage))
	u := c.endpoint("users", q)

	body, err := c.get(ctx, "users_page", u)
	if err != nil {
		return nil, err
	}

	items, pages, total, err := decodePage[models.User](body)
	if err != nil {
		return nil, malformed("fetch users page", u, err)
	}

	return &models.UserPage{Items: items, TotalPages: pages, TotalItems: total}, nil
}

// FetchUsersByIDs fetches the given users in a single request. An empty id
// list returns an empty result without touching the network.
func (c *Client) FetchUsersByIDs(ctx context.Context, ids []models.UserID) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}

	q := url.Values{}
	for _, id := range lo.Uniq(ids) {
		q.Add("id", id.String())
	}
	u := c.endpoint("users", q)

	body, err := c.get(ctx, "users_by_ids", u)
	if err != nil {
		return nil, err
	}

	users, _, _, err := decodePage[models.User](body)
	if err != nil {
		return nil, malformed("fetch users by ids", u, err)
	}
	return users, nil
}

// FetchStories fetches the whole stories collection.
func (c *Client) FetchStories(ctx context.Context) ([]models.Story, error) {
	u := c.endpoint("stories", nil)
	body, err := c.get(ctx, "stories", u)
	if err != nil {
		return nil, err
	}

	stories, _, _, err := decodePage[models.Story](body)
	if err != nil {
		return nil, malformed("fetch stories", u, err)
	}
	return stories, nil
}

// FetchUsers fetches the whole users collection.
func (c *Client) FetchUsers(ctx context.Context) ([]models.User, error) {
	u := c.endpoint("users", nil)
	body, err := c.get(ctx, "users", u)
	if err != nil {
		return nil, err
	}

	users, _, _, err := decodePage[models.User](body)
	if err != nil {
		return nil, malformed("fetch users", u, err)
	}
	return users, nil
}

// FetchStoriesAndUsers fetches both collections concurrently.
func (c *Client) FetchStoriesAndUsers(ctx context.Context) ([]models.Story, []models.User, error) {
	var stories []models.Story
	var users []models.User

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stories, err = c.FetchStories(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		users, err = c.FetchUsers(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return stories, users, nil
}

// FetchStory fetches a single story.
func (c *Client) FetchStory(ctx context.Context, id models.StoryID) (*models.Story, error) {
	u := c.endpoint("stories/"+url.PathEscape(string(id)), nil)
	body, err := c.get(ctx, "story", u)
	if err != nil {
		return nil, err
	}

	var story models.Story
	if err := json.Unmarshal(body, &story); err != nil {
		return nil, malformed("fetch story", u, err)
	}
	return &story, nil
}

// FetchUser fetches a single user.
func (c *Client) FetchUser(ctx context.Context, id models.UserID) (*models.User, error) {
	u := c.endpoint("users/"+id.String(), nil)
	body, err := c.get(ctx, "user", u)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, malformed("fetch user", u, err)
	}
	return &user, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := c.baseURL + "/" + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// get performs a GET request, retrying temporary failures with exponential
// backoff until maxRetries is exhausted or ctx is done.
func (c *Client) get(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	start := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = c.retryInterval
	retry.MaxInterval = maxRetryInterval
	retry.Multiplier = 1.5
	retry.MaxElapsedTime = 0 // bounded by maxRetries instead

	var body []byte
	operation := func() error {
		b, err := c.doRequest(ctx, rawURL)
		if err != nil {
			var fetchErr *FetchError
			if errors.As(err, &fetchErr) && !fetchErr.Temporary() {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}

	notify := func(err error, wait time.Duration) {
		apiRetries.WithLabelValues(endpoint).Inc()
		log.WithFields(log.Fields{
			"url":   rawURL,
			"error": err,
			"wait":  wait,
		}).Warn("Retrying stories API request")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(retry, c.maxRetries), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		apiRequests.WithLabelValues(endpoint, "error").Inc()

		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			// context expiry between attempts
			err = &FetchError{Op: "GET", URL: rawURL, Err: err}
		}
		log.WithFields(log.Fields{
			"url":   rawURL,
			"error": err,
		}).Error("Stories API request failed")
		return nil, err
	}

	apiRequests.WithLabelValues(endpoint, "ok").Inc()
	return body, nil
}

func (c *Client) doRequest(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(&FetchError{Op: "GET", URL: rawURL, Err: fmt.Errorf("failed to create request: %w", err)})
	}

	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Op: "GET", URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Op: "GET", URL: rawURL, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Op: "GET", URL: rawURL, StatusCode: resp.StatusCode, Err: statusError(resp.StatusCode)}
	}

	return body, nil
}

// API response envelope (json-server v1). Older servers answer with a bare
// array instead, which is treated as a single complete page.
type pageEnvelope[T any] struct {
	Data  *[]T `json:"data"`
	Pages int  `json:"pages"`
	Items int  `json:"items"`
}

func decodePage[T any](body []byte) ([]T, int, int, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, 0, 0, err
		}
		return items, 1, len(items), nil
	}

	var envelope pageEnvelope[T]
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, 0, 0, err
	}
	if envelope.Data == nil {
		return nil, 0, 0, errors.New("response has no data field")
	}

	return *envelope.Data, max(envelope.Pages, 1), envelope.Items, nil
}

func malformed(op, rawURL string, err error) error {
	return &FetchError{Op: op, URL: rawURL, Err: fmt.Errorf("%w: %v", errMalformed, err)}
}
