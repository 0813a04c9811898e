package ledger

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreGetPut(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "v2ray:")
	t.Cleanup(func() { _ = store.Close() })

	_, ok, err := store.Get(ctx, KeyUsers)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Put(ctx, KeyUsers, []byte(`{"1":{"user_id":1}}`)))
	raw, ok, err := store.Get(ctx, KeyUsers)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"1":{"user_id":1}}`, string(raw))

	stored, err := mr.Get("v2ray:" + KeyUsers)
	require.NoError(t, err)
	require.Contains(t, stored, `"user_id":1`)
}

func TestRedisStoreBacksLedgerUpdates(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	l := New(NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ""))

	require.NoError(t, Update(ctx, l, KeyUsers, addUser(11)))
	users, err := Read[Users](ctx, l, KeyUsers)
	require.NoError(t, err)
	require.NotNil(t, users.Get(11))

	mr.Close()
	err = Update(ctx, l, KeyUsers, addUser(12))
	require.ErrorIs(t, err, ErrUnavailable)
}
