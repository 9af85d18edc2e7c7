package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/utils"
)

func slotsConfig() *config.AppConfig {
	return &config.AppConfig{
		MaxConcurrentPages:      3,
		SemaphoreAcquireTimeout: time.Minute,
		Platforms: map[string]*config.PlatformConfig{
			"jumia":    {MaxConcurrentPages: 2},
			"kilimall": {},
		},
	}
}

func TestPlatformSlots_AcquireRelease(t *testing.T) {
	pool := NewPlatformSlots(slotsConfig(), testLogger())

	require.NoError(t, pool.Acquire(context.Background(), models.PlatformJumia))
	require.NoError(t, pool.Acquire(context.Background(), models.PlatformJumia))
	assert.Equal(t, int64(2), pool.Active(models.PlatformJumia))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, pool.Acquire(ctx, models.PlatformJumia), "third acquire should block")
	assert.Equal(t, int64(2), pool.Active(models.PlatformJumia), "failed acquire is not counted")

	pool.Release(models.PlatformJumia)
	require.NoError(t, pool.Acquire(context.Background(), models.PlatformJumia))

	pool.Release(models.PlatformJumia)
	pool.Release(models.PlatformJumia)
	assert.Equal(t, int64(0), pool.Active(models.PlatformJumia))
}

func TestPlatformSlots_Limits(t *testing.T) {
	pool := NewPlatformSlots(slotsConfig(), testLogger())
	assert.Equal(t, int64(2), pool.Limit(models.PlatformJumia))
	assert.Equal(t, int64(3), pool.Limit(models.PlatformKilimall), "falls back to global max_concurrent_pages")
}

func TestPlatformSlots_PlatformsIndependent(t *testing.T) {
	cfg := slotsConfig()
	cfg.Platforms["jumia"].MaxConcurrentPages = 1
	cfg.Platforms["kilimall"].MaxConcurrentPages = 1
	pool := NewPlatformSlots(cfg, testLogger())

	require.NoError(t, pool.Acquire(context.Background(), models.PlatformJumia))
	require.NoError(t, pool.Acquire(context.Background(), models.PlatformKilimall))
	pool.Release(models.PlatformJumia)
	pool.Release(models.PlatformKilimall)
}

func TestPlatformSlots_AcquireTimeout(t *testing.T) {
	cfg := slotsConfig()
	cfg.SemaphoreAcquireTimeout = 30 * time.Millisecond
	cfg.Platforms["jumia"].MaxConcurrentPages = 1
	pool := NewPlatformSlots(cfg, testLogger())

	require.NoError(t, pool.Acquire(context.Background(), models.PlatformJumia))
	err := pool.Acquire(context.Background(), models.PlatformJumia)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrSemaphoreTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = pool.Acquire(ctx, models.PlatformJumia)
	assert.ErrorIs(t, err, context.Canceled, "caller cancellation is not reported as a slot timeout")
}

func TestPlatformSlots_BoundsConcurrency(t *testing.T) {
	pool := NewPlatformSlots(slotsConfig(), testLogger())

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Acquire(context.Background(), models.PlatformJumia); err != nil {
				t.Error(err)
				return
			}
			defer pool.Release(models.PlatformJumia)
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPlatformSlots_ReleaseUnknown(t *testing.T) {
	pool := NewPlatformSlots(slotsConfig(), testLogger())
	assert.NotPanics(t, func() { pool.Release(models.PlatformKilimall) })
}
