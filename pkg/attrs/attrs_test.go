package attrs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractString(t *testing.T) {
	list := []any{"client_id", "203.0.113.7", "units", 3, 42, "odd"}

	assert.Equal(t, "203.0.113.7", ExtractString(list, "client_id"))
	assert.Empty(t, ExtractString(list, "units"), "non-string value")
	assert.Empty(t, ExtractString(list, "missing"))
	assert.Empty(t, ExtractString([]any{"dangling"}, "dangling"))
}

func TestToMap(t *testing.T) {
	list := []any{"client_id", "a", "units", int64(2), 7, "ignored", "units", int64(3)}

	assert.Equal(t, map[string]any{"units": int64(3)}, ToMap(list, "client_id"))
	assert.Nil(t, ToMap([]any{"client_id", "a"}, "client_id"))
}
