package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aureeaubert/hull-closeio/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapJSON_ComputesOnce(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	calls := 0
	produce := func(context.Context) ([]model.LeadStatus, error) {
		calls++
		return []model.LeadStatus{{ID: "stat_1", Label: "New"}}, nil
	}

	first, err := WrapJSON(ctx, c, "statuses", time.Hour, produce)
	require.NoError(t, err)
	second, err := WrapJSON(ctx, c, "statuses", time.Hour, produce)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, "New", second[0].Label)
}

func TestWrapJSON_ErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	boom := errors.New("boom")

	_, err := WrapJSON(ctx, c, "k", 0, func(context.Context) (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	v, err := WrapJSON(ctx, c, "k", 0, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestMemoryCache_TTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "short", "v", time.Minute))
	require.NoError(t, c.Set(ctx, "forever", "v", 0))

	now = now.Add(2 * time.Minute)
	_, ok, _ := c.Get(ctx, "short")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestIdentities(t *testing.T) {
	ctx := context.Background()
	ids := NewIdentities(NewMemoryCache())

	_, ok, err := ids.Lookup(ctx, model.KindAccount, "acc_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ids.Link(ctx, model.KindAccount, "acc_1", "lead_1"))
	got, ok, err := ids.Lookup(ctx, model.KindAccount, "acc_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "lead_1", got)

	_, ok, _ = ids.Lookup(ctx, model.KindUser, "acc_1")
	assert.False(t, ok, "links are namespaced by kind")

	require.ErrorIs(t, ids.Link(ctx, model.KindUser, "", "cont_1"), ErrEmptyID)
}
