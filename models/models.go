package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// UserID is the canonical numeric identity of a user. The API hands out ids as
// numbers or as strings depending on the server version, so every id is
// normalized to this form before it is compared or stored.
type UserID int64

func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// UnmarshalJSON accepts 7, 7.0, "7" and "007".
func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := parseUserID(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}

	parsed, err := parseUserID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NormalizeUserID converts a raw identifier as found in decoded payloads or
// handed in by callers into a UserID.
func NormalizeUserID(raw any) (UserID, error) {
	switch v := raw.(type) {
	case UserID:
		return v, nil
	case int:
		return UserID(v), nil
	case int32:
		return UserID(v), nil
	case int64:
		return UserID(v), nil
	case uint32:
		return UserID(v), nil
	case float64:
		return floatUserID(v)
	case json.Number:
		return parseUserID(v.String())
	case string:
		return parseUserID(v)
	default:
		return 0, fmt.Errorf("unsupported user id type %T", raw)
	}
}

func parseUserID(s string) (UserID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty user id")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return UserID(n), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return floatUserID(f)
}

func floatUserID(f float64) (UserID, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid user id %v", f)
	}
	return UserID(int64(f)), nil
}

// StoryID identifies a story. Numeric ids are kept in their decimal form.
type StoryID string

func (id *StoryID) UnmarshalJSON(data []byte) error {
	s, err := stringOrNumber(data)
	if err != nil {
		return fmt.Errorf("invalid story id: %w", err)
	}
	*id = StoryID(s)
	return nil
}

// User as returned by the users collection
type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"username"`
	AvatarURL   string `json:"profilePicture,omitempty"`
}

// Story is a single story record. Fields the feed does not interpret are kept
// in Payload and written back out unchanged.
type Story struct {
	ID        StoryID
	AuthorID  UserID
	Timestamp string
	HasViewed bool
	Payload   map[string]json.RawMessage

	// RecencyKey is Timestamp in Unix milliseconds, stamped when the story is
	// ingested by a feed.
	RecencyKey int64
}

var storyKnownFields = []string{"id", "userId", "timestamp", "hasViewed"}

func (s *Story) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var story Story
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &story.ID); err != nil {
			return err
		}
	}
	if raw, ok := fields["userId"]; ok {
		if err := json.Unmarshal(raw, &story.AuthorID); err != nil {
			return fmt.Errorf("story %s: invalid userId: %w", story.ID, err)
		}
	}
	if raw, ok := fields["timestamp"]; ok && string(raw) != "null" {
		ts, err := stringOrNumber(raw)
		if err != nil {
			return fmt.Errorf("story %s: invalid timestamp: %w", story.ID, err)
		}
		story.Timestamp = ts
	}
	if raw, ok := fields["hasViewed"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &story.HasViewed); err != nil {
			return fmt.Errorf("story %s: invalid hasViewed: %w", story.ID, err)
		}
	}

	for _, key := range storyKnownFields {
		delete(fields, key)
	}
	if len(fields) > 0 {
		story.Payload = fields
	}

	*s = story
	return nil
}

func (s Story) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.fields())
}

func (s Story) fields() map[string]any {
	out := make(map[string]any, len(s.Payload)+6)
	for k, v := range s.Payload {
		out[k] = v
	}
	out["id"] = s.ID
	out["userId"] = s.AuthorID
	out["timestamp"] = s.Timestamp
	out["hasViewed"] = s.HasViewed
	return out
}

// PresentedStory is a story joined with its author for display. In JSON the
// story fields sit next to userName and userAvatar.
type PresentedStory struct {
	Story      Story
	UserName   string
	UserAvatar string
}

func (p PresentedStory) MarshalJSON() ([]byte, error) {
	out := p.Story.fields()
	out["userName"] = p.UserName
	if p.UserAvatar != "" {
		out["userAvatar"] = p.UserAvatar
	}
	return json.Marshal(out)
}

func (p *PresentedStory) UnmarshalJSON(data []byte) error {
	var presented PresentedStory
	if err := json.Unmarshal(data, &presented.Story); err != nil {
		return err
	}

	payload := presented.Story.Payload
	if raw, ok := payload["userName"]; ok {
		if err := json.Unmarshal(raw, &presented.UserName); err != nil {
			return fmt.Errorf("story %s: invalid userName: %w", presented.Story.ID, err)
		}
		delete(payload, "userName")
	}
	if raw, ok := payload["userAvatar"]; ok {
		if err := json.Unmarshal(raw, &presented.UserAvatar); err != nil {
			return fmt.Errorf("story %s: invalid userAvatar: %w", presented.Story.ID, err)
		}
		delete(payload, "userAvatar")
	}
	if len(payload) == 0 {
		presented.Story.Payload = nil
	}

	*p = presented
	return nil
}

// StoryPage is one normalized page of the stories collection
type StoryPage struct {
	Items      []Story
	TotalPages int
	TotalItems int
}

// UserPage is one normalized page of the users collection
type UserPage struct {
	Items      []User
	TotalPages int
	TotalItems int
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp formats the stories API is known to emit.
// A bare integer is read as Unix milliseconds.
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", ts)
}

func stringOrNumber(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", fmt.Errorf("empty value")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
