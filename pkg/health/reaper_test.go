package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/storage"
	"github.com/hewenyu/service-registry/pkg/storage/memory"
)

func TestReaper_Disabled(t *testing.T) {
	store := memory.NewServiceStorage()
	register(t, store, "a", "http://a:5000")

	reaper := NewReaper(store, config.NewNopLogger(), 0, 0)
	assert.False(t, reaper.Enabled())

	count, err := reaper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	reaper.Start()
	reaper.Stop()
}

func TestReaper_RunOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewServiceStorage()
	register(t, store, "old", "http://old:5000")

	reaper := NewReaper(store, config.NewNopLogger(), time.Minute, time.Minute)

	count, err := reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	reaper.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	count, err = reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.Get(ctx, "old")
	assert.True(t, storage.IsNotFound(err))
}

func TestReaper_StartStop(t *testing.T) {
	store := memory.NewServiceStorage()
	register(t, store, "old", "http://old:5000")

	reaper := NewReaper(store, config.NewNopLogger(), time.Millisecond, 10*time.Millisecond)
	reaper.Start()
	defer reaper.Stop()

	require.Eventually(t, func() bool {
		services, err := store.List(context.Background(), storage.ListOptions{})
		return err == nil && len(services) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
