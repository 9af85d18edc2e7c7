package fetch

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/models"
)

// RateClock spaces requests to one platform.
// The only state is the next allowed start time in unix nanos, advanced with
// compare-and-swap, so concurrent fetches share one budget without a lock held
// across the request.
type RateClock struct {
	next     atomic.Int64
	minDelay time.Duration
	jitter   time.Duration
	now      func() time.Time
}

// NewRateClock creates a clock enforcing minDelay plus a random extra in [0, jitter)
func NewRateClock(minDelay, jitter time.Duration) *RateClock {
	if minDelay < 0 {
		minDelay = 0
	}
	if jitter < 0 {
		jitter = 0
	}
	return &RateClock{minDelay: minDelay, jitter: jitter, now: time.Now}
}

// Reserve claims the next slot and returns how long the caller must wait before starting.
// Every call pushes the following slot at least minDelay further.
func (c *RateClock) Reserve() time.Duration {
	gap := c.minDelay
	if c.jitter > 0 {
		gap += time.Duration(rand.Int63n(int64(c.jitter)))
	}
	for {
		now := c.now().UnixNano()
		cur := c.next.Load()
		start := cur
		if now > start {
			start = now
		}
		if c.next.CompareAndSwap(cur, start+int64(gap)) {
			return time.Duration(start - now)
		}
	}
}

// Wait reserves a slot and sleeps until it starts.
// The slot stays consumed if ctx ends first.
func (c *RateClock) Wait(ctx context.Context) (time.Duration, error) {
	wait := c.Reserve()
	if wait <= 0 {
		return 0, ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return wait, nil
	case <-ctx.Done():
		return wait, ctx.Err()
	}
}

// RateClocks holds one RateClock per platform, created on first use from config
type RateClocks struct {
	clocks map[models.Platform]*RateClock
	mu     sync.Mutex
	cfg    *config.AppConfig
	log    *logrus.Entry
}

// NewRateClocks creates an empty registry
func NewRateClocks(cfg *config.AppConfig, log *logrus.Entry) *RateClocks {
	return &RateClocks{
		clocks: make(map[models.Platform]*RateClock),
		cfg:    cfg,
		log:    log,
	}
}

// For returns the clock of a platform. The same instance is returned for every call.
func (r *RateClocks) For(platform models.Platform) *RateClock {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clocks[platform]; ok {
		return c
	}
	pCfg := r.cfg.Platform(string(platform))
	minDelay := config.GetEffectiveMinDelay(pCfg, r.cfg)
	var jitter time.Duration
	if pCfg != nil {
		jitter = pCfg.DelayJitter
	}
	c := NewRateClock(minDelay, jitter)
	r.clocks[platform] = c
	r.log.WithFields(logrus.Fields{"platform": platform, "min_delay": minDelay, "jitter": jitter}).Debug("Created platform rate clock")
	return c
}
