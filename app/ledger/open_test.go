package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	store, closer, err := Open(ctx, OpenOptions{})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, store)
	require.NoError(t, closer.Close())

	_, _, err = Open(ctx, OpenOptions{Driver: "postgres"})
	require.Error(t, err)

	_, _, err = Open(ctx, OpenOptions{Driver: "sqlite"})
	require.ErrorContains(t, err, "unknown store driver")
}

func TestUpgradeAllRewritesOnlyExistingDocuments(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	l := New(store)

	require.NoError(t, l.PutRaw(ctx, KeyUsers, []byte(`{"42":{"user_id":42,"credits":"1.26"}}`)))
	require.NoError(t, UpgradeAll(ctx, l))

	raw, ok, err := l.GetRaw(ctx, KeyUsers)
	require.NoError(t, err)
	require.True(t, ok)
	var users map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &users))
	require.Equal(t, "en", users["42"]["lang"])
	require.EqualValues(t, UserSchema, users["42"]["schema"])

	_, ok, err = l.GetRaw(ctx, KeyStates)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = l.GetRaw(ctx, KeyRedeemedKeys)
	require.NoError(t, err)
	require.False(t, ok)
}
