package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir(), 16, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func record(nk, name string, price int64) models.ProductRecord {
	return models.ProductRecord{
		NaturalKey: nk,
		Name:       name,
		Price:      &price,
		Platform:   models.PlatformJumia,
		ScrapedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewBadgerStore(t *testing.T) {
	t.Run("fresh start has zero count", func(t *testing.T) {
		store := newTestStore(t)
		count, err := store.Count()
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("reopen keeps records", func(t *testing.T) {
		dir := t.TempDir()
		ctx := context.Background()

		store1, err := NewBadgerStore(dir, 16, testLogger())
		require.NoError(t, err)
		require.NoError(t, store1.Upsert(ctx, "job-a", record("jumia:https://x/1", "One", 100)))
		require.NoError(t, store1.Close())

		store2, err := NewBadgerStore(dir, 16, testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { store2.Close() })

		count, err := store2.Count()
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		recs, err := store2.ListByJob(ctx, "job-a")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "One", recs[0].Name)
	})
}

func TestUpsert(t *testing.T) {
	t.Run("insert then get", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()
		require.NoError(t, store.Upsert(ctx, "job-a", record("jumia:https://x/1", "One", 100)))

		got, found, err := store.Get(ctx, "jumia:https://x/1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "One", got.Name)
		assert.Equal(t, "job-a", got.JobID)
		assert.Equal(t, int64(100), *got.Price)
	})

	t.Run("same key overwrites", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()
		require.NoError(t, store.Upsert(ctx, "job-a", record("jumia:https://x/1", "One", 100)))
		require.NoError(t, store.Upsert(ctx, "job-b", record("jumia:https://x/1", "One v2", 90)))

		count, _ := store.Count()
		assert.Equal(t, 1, count)

		got, found, err := store.Get(ctx, "jumia:https://x/1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "One v2", got.Name)
		assert.Equal(t, int64(90), *got.Price)
		assert.Equal(t, "job-b", got.JobID)
	})

	t.Run("missing natural key rejected", func(t *testing.T) {
		store := newTestStore(t)
		err := store.Upsert(context.Background(), "job-a", record("", "Nameless key", 1))
		require.Error(t, err)
		assert.True(t, errors.Is(err, utils.ErrStore))
	})

	t.Run("cancelled context rejected", func(t *testing.T) {
		store := newTestStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := store.Upsert(ctx, "job-a", record("jumia:https://x/1", "One", 1))
		require.Error(t, err)
		assert.True(t, errors.Is(err, utils.ErrStore))
		assert.Equal(t, "Store_Write", utils.CategorizeError(err))
	})

	t.Run("closed store rejected", func(t *testing.T) {
		store, err := NewBadgerStore(t.TempDir(), 16, testLogger())
		require.NoError(t, err)
		require.NoError(t, store.Close())

		err = store.Upsert(context.Background(), "job-a", record("jumia:https://x/1", "One", 1))
		require.Error(t, err)
		assert.True(t, errors.Is(err, utils.ErrStore))
	})

	t.Run("concurrent upserts of one key", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, store.Upsert(ctx, "job-a", record("jumia:https://x/hot", "Hot", int64(i))))
			}(i)
		}
		wg.Wait()

		count, _ := store.Count()
		assert.Equal(t, 1, count)
		recs, err := store.ListByJob(ctx, "job-a")
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})
}

func TestListByJob(t *testing.T) {
	t.Run("write order and job scoping", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()
		for i, name := range []string{"Zeta", "Alpha", "Mu"} {
			require.NoError(t, store.Upsert(ctx, "job-a", record(fmt.Sprintf("jumia:https://x/%s", name), name, int64(i))))
		}
		require.NoError(t, store.Upsert(ctx, "job-b", record("jumia:https://x/Other", "Other", 5)))

		recs, err := store.ListByJob(ctx, "job-a")
		require.NoError(t, err)
		var names []string
		for _, r := range recs {
			names = append(names, r.Name)
		}
		assert.Equal(t, []string{"Zeta", "Alpha", "Mu"}, names)

		other, err := store.ListByJob(ctx, "job-b")
		require.NoError(t, err)
		require.Len(t, other, 1)
		assert.Equal(t, "Other", other[0].Name)
	})

	t.Run("repeated key listed once at first position", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()
		require.NoError(t, store.Upsert(ctx, "job-a", record("k1", "First", 1)))
		require.NoError(t, store.Upsert(ctx, "job-a", record("k2", "Second", 2)))
		require.NoError(t, store.Upsert(ctx, "job-a", record("k1", "First again", 3)))

		recs, err := store.ListByJob(ctx, "job-a")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "First again", recs[0].Name)
		assert.Equal(t, "Second", recs[1].Name)
	})

	t.Run("job id that prefixes another", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()
		require.NoError(t, store.Upsert(ctx, "job", record("k1", "Short", 1)))
		require.NoError(t, store.Upsert(ctx, "job-long", record("k2", "Long", 2)))

		recs, err := store.ListByJob(ctx, "job")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "Short", recs[0].Name)
	})

	t.Run("unknown job is empty", func(t *testing.T) {
		store := newTestStore(t)
		recs, err := store.ListByJob(context.Background(), "nope")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

func TestGet(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		store := newTestStore(t)
		rec, found, err := store.Get(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, rec)
	})

	t.Run("read through cache after eviction", func(t *testing.T) {
		store, err := NewBadgerStore(t.TempDir(), 1, testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		ctx := context.Background()

		require.NoError(t, store.Upsert(ctx, "job-a", record("k1", "One", 1)))
		require.NoError(t, store.Upsert(ctx, "job-a", record("k2", "Two", 2)))
		assert.False(t, store.cache.Contains("k1"), "k1 evicted by k2")

		got, found, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "One", got.Name)
		assert.True(t, store.cache.Contains("k1"))
	})
}

func TestJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "b-job", record("k1", "One", 1)))
	require.NoError(t, store.Upsert(ctx, "a-job", record("k2", "Two", 2)))
	require.NoError(t, store.Upsert(ctx, "b-job", record("k3", "Three", 3)))

	jobs, err := store.Jobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-job", "b-job"}, jobs)
}

func TestInMemoryStore(t *testing.T) {
	store, err := NewInMemoryStore(0, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "job-a", record("k1", "One", 1)))
	count, _ := store.Count()
	assert.Equal(t, 1, count)
}

func TestRunGC(t *testing.T) {
	t.Run("respects context cancellation", func(t *testing.T) {
		store := newTestStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		done := make(chan struct{})
		go func() {
			store.RunGC(ctx, 50*time.Millisecond)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("RunGC did not respect context cancellation")
		}
	})
}

func TestClose(t *testing.T) {
	t.Run("double close does not panic", func(t *testing.T) {
		store, err := NewBadgerStore(t.TempDir(), 16, testLogger())
		require.NoError(t, err)
		assert.NoError(t, store.Close())
		assert.NoError(t, store.Close())
	})
}

func TestDBUpdateConflictRetry(t *testing.T) {
	t.Run("succeeds after transient conflicts", func(t *testing.T) {
		store := newTestStore(t)
		attempts := 0
		err := store.dbUpdate(func(txn *badger.Txn) error {
			attempts++
			if attempts <= 3 {
				return badger.ErrConflict
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 4, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		store := newTestStore(t)
		attempts := 0
		err := store.dbUpdate(func(txn *badger.Txn) error {
			attempts++
			return badger.ErrConflict
		})
		require.Error(t, err)
		require.ErrorIs(t, err, utils.ErrDatabase)
		assert.Contains(t, err.Error(), "transaction conflict not resolved")
		assert.Equal(t, maxConflictRetries, attempts)
	})

	t.Run("non-conflict error returned immediately", func(t *testing.T) {
		store := newTestStore(t)
		attempts := 0
		sentinel := errors.New("some other error")
		err := store.dbUpdate(func(txn *badger.Txn) error {
			attempts++
			return sentinel
		})
		require.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, attempts)
	})
}
