package models_test

import (
	"encoding/json"
	"stories/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserIDUnmarshal(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected models.UserID
		wantErr  bool
	}{
		{name: "number", raw: `7`, expected: 7},
		{name: "string", raw: `"7"`, expected: 7},
		{name: "zero padded string", raw: `"007"`, expected: 7},
		{name: "integral float", raw: `7.0`, expected: 7},
		{name: "fractional float", raw: `7.5`, wantErr: true},
		{name: "non numeric string", raw: `"abc"`, wantErr: true},
		{name: "empty string", raw: `""`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id models.UserID
			err := json.Unmarshal([]byte(tt.raw), &id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, id)
		})
	}
}

func TestNormalizeUserID(t *testing.T) {
	tests := []struct {
		name     string
		raw      any
		expected models.UserID
		wantErr  bool
	}{
		{name: "int", raw: 3, expected: 3},
		{name: "int64", raw: int64(3), expected: 3},
		{name: "float64", raw: float64(3), expected: 3},
		{name: "string", raw: "3", expected: 3},
		{name: "json number", raw: json.Number("3"), expected: 3},
		{name: "user id", raw: models.UserID(3), expected: 3},
		{name: "bool", raw: true, wantErr: true},
		{name: "fraction", raw: 3.2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := models.NormalizeUserID(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, id)
		})
	}
}

func TestStoryKeepsUnknownFields(t *testing.T) {
	raw := `{"id":12,"userId":"4","timestamp":"2024-05-01T10:00:00Z","hasViewed":true,"imageUrl":"https://img/1.jpg","likes":3}`

	var story models.Story
	require.NoError(t, json.Unmarshal([]byte(raw), &story))

	assert.Equal(t, models.StoryID("12"), story.ID)
	assert.Equal(t, models.UserID(4), story.AuthorID)
	assert.Equal(t, "2024-05-01T10:00:00Z", story.Timestamp)
	assert.True(t, story.HasViewed)
	assert.JSONEq(t, `"https://img/1.jpg"`, string(story.Payload["imageUrl"]))
	assert.NotContains(t, story.Payload, "userId")

	out, err := json.Marshal(story)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"12","userId":4,"timestamp":"2024-05-01T10:00:00Z","hasViewed":true,"imageUrl":"https://img/1.jpg","likes":3}`, string(out))
}

func TestStoryRejectsBadAuthor(t *testing.T) {
	var story models.Story
	err := json.Unmarshal([]byte(`{"id":"1","userId":"nobody"}`), &story)
	assert.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	expected := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		ts      string
		wantErr bool
	}{
		{name: "rfc3339", ts: "2024-05-01T10:00:00Z"},
		{name: "rfc3339 with millis", ts: "2024-05-01T10:00:00.000Z"},
		{name: "no zone", ts: "2024-05-01T10:00:00"},
		{name: "space separated", ts: "2024-05-01 10:00:00"},
		{name: "unix millis", ts: "1714557600000"},
		{name: "garbage", ts: "yesterday", wantErr: true},
		{name: "empty", ts: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := models.ParseTimestamp(tt.ts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, expected.Equal(parsed), "got %s", parsed)
		})
	}
}

func TestPresentedStoryFlatJSON(t *testing.T) {
	raw := `{"id":"s1","userId":"4","timestamp":"2024-05-01T10:00:00Z","hasViewed":false,"mediaUrl":"https://img/s1.jpg"}`
	var story models.Story
	require.NoError(t, json.Unmarshal([]byte(raw), &story))

	tests := []struct {
		name      string
		presented models.PresentedStory
		expected  string
	}{
		{
			name:      "with avatar",
			presented: models.PresentedStory{Story: story, UserName: "ana", UserAvatar: "https://img/ana.png"},
			expected:  `{"id":"s1","userId":4,"timestamp":"2024-05-01T10:00:00Z","hasViewed":false,"mediaUrl":"https://img/s1.jpg","userName":"ana","userAvatar":"https://img/ana.png"}`,
		},
		{
			name:      "unknown author omits avatar",
			presented: models.PresentedStory{Story: story, UserName: "Unknown"},
			expected:  `{"id":"s1","userId":4,"timestamp":"2024-05-01T10:00:00Z","hasViewed":false,"mediaUrl":"https://img/s1.jpg","userName":"Unknown"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := json.Marshal(tt.presented)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(out))

			var decoded models.PresentedStory
			require.NoError(t, json.Unmarshal(out, &decoded))
			assert.Equal(t, tt.presented, decoded)
		})
	}
}
