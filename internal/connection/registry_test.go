package connection

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopCallback(json.RawMessage) {}

func TestRegistryAddLookup(t *testing.T) {
	r := NewRegistry()

	called := false
	r.Add("home-1", func(json.RawMessage) { called = true })

	cb, ok := r.Lookup("home-1")
	require.True(t, ok)
	cb(nil)
	assert.True(t, called)

	_, ok = r.Lookup("home-2")
	assert.False(t, ok)
}

func TestRegistryReplaceInvalidatesOldHandle(t *testing.T) {
	r := NewRegistry()

	first := r.Add("home-1", nopCallback)
	second := r.Add("home-1", nopCallback)
	require.NotEqual(t, first, second)

	// The stale handle must not tear down the replacement registration.
	assert.False(t, r.Remove("home-1", first))
	_, ok := r.Lookup("home-1")
	assert.True(t, ok)

	assert.True(t, r.Remove("home-1", second))
	_, ok = r.Lookup("home-1")
	assert.False(t, ok)
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	r := NewRegistry()

	handle := r.Add("home-1", nopCallback)
	assert.True(t, r.Remove("home-1", handle))
	assert.False(t, r.Remove("home-1", handle))
	assert.False(t, r.Remove("home-1", uuid.New()))
	assert.False(t, r.Remove("missing", handle))
}

func TestRegistryInactiveEntriesExcluded(t *testing.T) {
	r := NewRegistry()

	a := r.Add("home-a", nopCallback)
	r.Add("home-b", nopCallback)
	r.Add("home-c", nopCallback)

	r.Remove("home-a", a)

	assert.Equal(t, []string{"home-b", "home-c"}, r.SnapshotActive())
	assert.Equal(t, 2, r.ActiveCount())

	_, ok := r.Lookup("home-a")
	assert.False(t, ok, "events for an unsubscribed home must be dropped")
}

func TestRegistryResubscribeReactivates(t *testing.T) {
	r := NewRegistry()

	handle := r.Add("home-1", nopCallback)
	r.Remove("home-1", handle)
	r.Add("home-1", nopCallback)

	_, ok := r.Lookup("home-1")
	assert.True(t, ok)
	assert.Equal(t, []string{"home-1"}, r.SnapshotActive())
}

func TestRegistrySnapshotOrder(t *testing.T) {
	r := NewRegistry()

	r.Add("third", nopCallback)
	r.Add("first", nopCallback)
	r.Add("second", nopCallback)

	// Registration order, not lexical order.
	assert.Equal(t, []string{"third", "first", "second"}, r.SnapshotActive())

	// Re-adding an existing home keeps its original position.
	r.Add("first", nopCallback)
	assert.Equal(t, []string{"third", "first", "second"}, r.SnapshotActive())
}
