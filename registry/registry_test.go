package registry

import (
	"testing"

	"github.com/shoenig/test/must"
	"github.com/stretchr/testify/require"

	"github.com/strata-cms/strata/ci"
)

type entry struct {
	ID    string
	Value int
}

func entryID(e *entry) string { return e.ID }

func TestRegistry_CleanMode_ReplacesOnDuplicate(t *testing.T) {
	ci.Parallel(t)

	r := New[*entry]("test", ModeClean, entryID)
	require.NoError(t, r.Register(&entry{ID: "a", Value: 1}))
	require.NoError(t, r.Register(&entry{ID: "b", Value: 2}))
	require.NoError(t, r.Register(&entry{ID: "a", Value: 3}))

	list := r.List()
	must.Len(t, 2, list)

	got, ok := r.Get("a")
	must.True(t, ok)
	must.Eq(t, 3, got.Value)

	// history preserves the superseded entry
	must.Len(t, 3, r.History())
}

func TestRegistry_HistoryMode_PreservesDuplicates(t *testing.T) {
	ci.Parallel(t)

	r := New[*entry]("test", ModeHistory, entryID)
	require.NoError(t, r.Register(&entry{ID: "a", Value: 1}))
	require.NoError(t, r.Register(&entry{ID: "a", Value: 2}))

	must.Len(t, 2, r.List())

	// Get still returns the latest
	got, ok := r.Get("a")
	must.True(t, ok)
	must.Eq(t, 2, got.Value)
}

func TestRegistry_RejectsBlankAndBannedIDs(t *testing.T) {
	ci.Parallel(t)

	r := New[*entry]("test", ModeClean, entryID)
	require.Error(t, r.Register(&entry{ID: ""}))

	r.Ban("evil")
	require.Error(t, r.Register(&entry{ID: "evil"}))
	must.False(t, r.IsRegistered("evil"))

	r.Unban("evil")
	require.NoError(t, r.Register(&entry{ID: "evil"}))
}

func TestRegistry_BanRemovesExistingEntries(t *testing.T) {
	ci.Parallel(t)

	r := New[*entry]("test", ModeClean, entryID)
	require.NoError(t, r.Register(&entry{ID: "a", Value: 1}))
	require.NoError(t, r.Register(&entry{ID: "b", Value: 2}))

	r.Ban("a")
	must.False(t, r.IsRegistered("a"))
	must.True(t, r.IsRegistered("b"))
}

func TestRegistry_ProtectBlocksUnregister(t *testing.T) {
	ci.Parallel(t)

	r := New[*entry]("test", ModeClean, entryID)
	require.NoError(t, r.Register(&entry{ID: "a", Value: 1}))

	r.Protect("a")
	require.Error(t, r.Unregister("a"))
	must.True(t, r.IsRegistered("a"))

	r.Unprotect("a")
	require.NoError(t, r.Unregister("a"))
	must.False(t, r.IsRegistered("a"))

	// unregistering again is a no-op
	require.NoError(t, r.Unregister("a"))
}

func TestRegistry_Cleanup_TruncatesToCleanView(t *testing.T) {
	ci.Parallel(t)

	r := New[*entry]("test", ModeHistory, entryID)
	require.NoError(t, r.Register(&entry{ID: "a", Value: 1}))
	require.NoError(t, r.Register(&entry{ID: "a", Value: 2}))
	require.NoError(t, r.Register(&entry{ID: "b", Value: 3}))

	r.Cleanup()
	must.Len(t, 2, r.History())

	got, ok := r.Get("a")
	must.True(t, ok)
	must.Eq(t, 2, got.Value)
}

func TestRegistry_ListOrder(t *testing.T) {
	ci.Parallel(t)

	r := New[*entry]("test", ModeClean, entryID)
	for i, id := range []string{"x", "y", "z"} {
		require.NoError(t, r.Register(&entry{ID: id, Value: i}))
	}

	list := r.List()
	must.Eq(t, "x", list[0].ID)
	must.Eq(t, "y", list[1].ID)
	must.Eq(t, "z", list[2].ID)
}
