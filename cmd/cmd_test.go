package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"stories/config"
	"stories/models"
)

func storiesAPI(t *testing.T) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"1": `{"data":[{"id":"1","userId":1,"timestamp":"2024-05-01T10:00:00Z","hasViewed":true},{"id":"2","userId":2,"timestamp":"2024-05-01T09:00:00Z","hasViewed":false}],"pages":2,"items":4}`,
		"2": `{"data":[{"id":"3","userId":1,"timestamp":"2024-05-01T08:00:00Z","hasViewed":false},{"id":"4","userId":3,"timestamp":"2024-05-01T07:00:00Z","hasViewed":true}],"pages":2,"items":4}`,
	}
	users := map[string]string{
		"1": `{"id":1,"username":"ana"}`,
		"2": `{"id":2,"username":"bea"}`,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/stories":
			fmt.Fprint(w, pages[r.URL.Query().Get("_page")])
		case r.URL.Path == "/stories/2":
			fmt.Fprint(w, `{"id":"2","userId":2,"timestamp":"2024-05-01T09:00:00Z","hasViewed":false}`)
		case r.URL.Path == "/stories/4":
			fmt.Fprint(w, `{"id":"4","userId":3,"timestamp":"2024-05-01T07:00:00Z","hasViewed":true}`)
		case r.URL.Path == "/users/2":
			fmt.Fprint(w, users["2"])
		case r.URL.Path == "/users":
			var found []string
			for _, id := range r.URL.Query()["id"] {
				if u, ok := users[id]; ok {
					found = append(found, u)
				}
			}
			fmt.Fprint(w, "["+strings.Join(found, ",")+"]")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := RootApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"stories"}, args...))
	return out.String(), err
}

func decodeLines(t *testing.T, out string) []models.PresentedStory {
	t.Helper()
	var stories []models.PresentedStory
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var story models.PresentedStory
		require.NoError(t, json.Unmarshal([]byte(line), &story), line)
		stories = append(stories, story)
	}
	return stories
}

func TestFeedCommand(t *testing.T) {
	api := storiesAPI(t)

	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "first page only",
			args:     []string{"feed"},
			expected: []string{"2", "1"},
		},
		{
			name:     "collapsed across pages",
			args:     []string{"feed", "--pages", "3"},
			expected: []string{"2", "3", "4"},
		},
		{
			name:     "timeline keeps every story",
			args:     []string{"feed", "--pages", "1", "--timeline"},
			expected: []string{"1", "2", "3", "4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--api-url", api.URL, "--page-size", "2", "--max-items", "10"}, tt.args...)
			out, err := run(t, args...)
			require.NoError(t, err)

			stories := decodeLines(t, out)
			got := make([]string, 0, len(stories))
			for _, s := range stories {
				got = append(got, string(s.Story.ID))
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFeedCommandUnknownAuthor(t *testing.T) {
	api := storiesAPI(t)

	out, err := run(t, "--api-url", api.URL, "--page-size", "2", "--max-items", "10", "feed", "--pages", "1")
	require.NoError(t, err)

	stories := decodeLines(t, out)
	require.Len(t, stories, 3)
	assert.Equal(t, "bea", stories[0].UserName)
	assert.Equal(t, "Unknown", stories[2].UserName)
}

func TestShowCommand(t *testing.T) {
	api := storiesAPI(t)

	out, err := run(t, "--api-url", api.URL, "show", "2")
	require.NoError(t, err)

	var story models.PresentedStory
	require.NoError(t, json.Unmarshal([]byte(out), &story))
	assert.Equal(t, models.StoryID("2"), story.Story.ID)
	assert.Equal(t, "bea", story.UserName)

	out, err = run(t, "--api-url", api.URL, "show", "4")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &story))
	assert.Equal(t, "Unknown", story.UserName)

	_, err = run(t, "--api-url", api.URL, "show", "99")
	assert.ErrorContains(t, err, "story 99 not found")

	_, err = run(t, "--api-url", api.URL, "show")
	assert.Error(t, err)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stories.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
base_url = "http://stories.internal"

[feed]
page_size = 10
max_items_in_memory = 100
`), 0o644))

	var loaded *config.Config
	load := func(args ...string) error {
		app := RootApp()
		app.Commands = []*cli.Command{{
			Name: "config",
			Action: func(ctx *cli.Context) error {
				var err error
				loaded, err = loadConfig(ctx)
				return err
			},
		}}
		return app.Run(append([]string{"stories"}, args...))
	}

	require.NoError(t, load("-c", path, "--page-size", "20", "config"))
	assert.Equal(t, "http://stories.internal", loaded.API.BaseURL)
	assert.Equal(t, 20, loaded.Feed.PageSize)
	assert.Equal(t, 100, loaded.Feed.MaxItemsInMemory)

	// overrides are validated too
	err := load("-c", path, "--max-items", "5", "config")
	assert.ErrorContains(t, err, "max_items_in_memory")
}

func TestServeCommandListenFailure(t *testing.T) {
	api := storiesAPI(t)
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	done := make(chan error, 1)
	go func() {
		_, err := run(t, "--api-url", api.URL, "serve", "--listen", busy.Addr().String())
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after failing to listen")
	}
}
