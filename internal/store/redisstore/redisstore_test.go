package redisstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securedrop/internal/app"
	"securedrop/internal/domain"
)

func TestParseRemoval(t *testing.T) {
	id := domain.NewFileID()

	ev, ok := parseRemoval("__keyevent@0__:expired", "file:"+id.String())
	require.True(t, ok)
	assert.Equal(t, id, ev.ID)
	assert.Equal(t, app.RemovalExpired, ev.Origin)

	ev, ok = parseRemoval("__keyevent@0__:del", "file:"+id.String())
	require.True(t, ok)
	assert.Equal(t, app.RemovalDeleted, ev.Origin)
}

func TestParseRemovalFiltersForeignKeys(t *testing.T) {
	id := domain.NewFileID()
	tests := []struct {
		channel string
		key     string
	}{
		// Counter expiry must never trigger a blob delete.
		{"__keyevent@0__:expired", "ratelimit:203.0.113.7"},
		{"__keyevent@0__:del", "ratelimit:203.0.113.7"},
		// Unrelated keyspaces.
		{"__keyevent@0__:expired", "session:abc"},
		// file: prefix with a non-canonical id.
		{"__keyevent@0__:del", "file:not-a-uuid"},
		{"__keyevent@0__:del", "file:" + id.String() + "x"},
		{"__keyevent@0__:expired", "file:"},
	}
	for _, tt := range tests {
		_, ok := parseRemoval(tt.channel, tt.key)
		assert.False(t, ok, "channel=%s key=%s", tt.channel, tt.key)
	}
}

func TestFileKeyShape(t *testing.T) {
	id := domain.NewFileID()
	key := fileKey(id)
	assert.Equal(t, "file:"+id.String(), key)

	// The key round-trips through the notification parser.
	ev, ok := parseRemoval("__keyevent@0__:del", key)
	require.True(t, ok)
	assert.Equal(t, id, ev.ID)
}
