package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/utils"
)

// slotEntry tracks one platform's semaphore and its usage
type slotEntry struct {
	sem    *semaphore.Weighted
	limit  int64
	active int64 // held + waiting permits
}

// PlatformSlots bounds how many pages of each platform are in flight at once.
// One pool is shared by every job so the limit holds across concurrent jobs.
type PlatformSlots struct {
	entries        map[models.Platform]*slotEntry
	mu             sync.Mutex
	cfg            *config.AppConfig
	acquireTimeout time.Duration
	log            *logrus.Entry
}

// NewPlatformSlots creates a pool using each platform's effective max_concurrent_pages
func NewPlatformSlots(cfg *config.AppConfig, log *logrus.Entry) *PlatformSlots {
	return &PlatformSlots{
		entries:        make(map[models.Platform]*slotEntry),
		cfg:            cfg,
		acquireTimeout: cfg.SemaphoreAcquireTimeout,
		log:            log.WithField("component", "platform_slots"),
	}
}

func (p *PlatformSlots) entry(platform models.Platform) *slotEntry {
	e, ok := p.entries[platform]
	if !ok {
		limit := int64(config.GetEffectiveMaxConcurrentPages(p.cfg.Platform(string(platform)), p.cfg))
		e = &slotEntry{sem: semaphore.NewWeighted(limit), limit: limit}
		p.entries[platform] = e
		p.log.WithFields(logrus.Fields{"platform": platform, "limit": limit}).Debug("Created platform semaphore")
	}
	return e
}

// Acquire takes one slot for the platform.
// Blocks until a slot frees up, ctx ends or the acquire timeout passes (ErrSemaphoreTimeout).
func (p *PlatformSlots) Acquire(ctx context.Context, platform models.Platform) error {
	p.mu.Lock()
	e := p.entry(platform)
	e.active++
	p.mu.Unlock()

	acquireCtx := ctx
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	if err := e.sem.Acquire(acquireCtx, 1); err != nil {
		p.mu.Lock()
		e.active--
		p.mu.Unlock()
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: platform %s after %v", utils.ErrSemaphoreTimeout, platform, p.acquireTimeout)
		}
		return err
	}
	return nil
}

// Release returns one slot for the platform
func (p *PlatformSlots) Release(platform models.Platform) {
	p.mu.Lock()
	e, ok := p.entries[platform]
	if !ok {
		p.mu.Unlock()
		p.log.Errorf("Release called for unknown platform: %s", platform)
		return
	}
	e.active--
	p.mu.Unlock()

	e.sem.Release(1)
}

// Active returns the number of held plus waiting slots for a platform
func (p *PlatformSlots) Active(platform models.Platform) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[platform]; ok {
		return e.active
	}
	return 0
}

// Limit returns the slot limit of a platform
func (p *PlatformSlots) Limit(platform models.Platform) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entry(platform).limit
}
