package cloudinary

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"imgconvert/internal/provider"
)

type resource struct {
	PublicID     string      `json:"public_id"`
	SecureURL    string      `json:"secure_url"`
	Bytes        int64       `json:"bytes"`
	Format       string      `json:"format"`
	ResourceType string      `json:"resource_type"`
	CreatedAt    createdTime `json:"created_at"`
}

func (r resource) asset(fallbackType provider.ResourceType) provider.Asset {
	rt := provider.ResourceType(r.ResourceType)
	if rt == "" {
		rt = fallbackType
	}
	return provider.Asset{
		PublicID:     r.PublicID,
		SecureURL:    r.SecureURL,
		Bytes:        r.Bytes,
		Format:       r.Format,
		ResourceType: rt,
		CreatedAt:    time.Time(r.CreatedAt),
	}
}

type listResponse struct {
	Resources  []resource `json:"resources"`
	NextCursor string     `json:"next_cursor"`
}

type deleteResponse struct {
	Deleted map[string]string `json:"deleted"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// createdTime accepts RFC 3339 strings and unix seconds, either as a JSON
// number or as a digit string.
type createdTime time.Time

func (c *createdTime) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == `""` {
		return nil
	}
	if s, err := strconv.Unquote(raw); err == nil {
		raw = s
	}
	t, err := parseCreatedAt(raw)
	if err != nil {
		return err
	}
	*c = createdTime(t)
	return nil
}

func parseCreatedAt(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid created_at %q: %w", s, err)
	}
	return t, nil
}

var _ json.Unmarshaler = (*createdTime)(nil)
