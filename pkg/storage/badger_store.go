package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"catalog-scraper/pkg/log"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/utils"
)

const (
	productKeyPrefix = "product:"        // product:<natural key> -> JSON ProductRecord
	jobKeyPrefix     = "job:"            // job:<job id>:<seq> -> natural key
	recordSeqKey     = "meta:record_seq" // Badger sequence ordering job index entries
	productsDBDir    = "products_db"     // Subdirectory name within stateDir for Badger DB files
	seqBandwidth     = 256
	defaultCacheSize = 1024
)

// BadgerStore implements ProductStore using BadgerDB.
// Upserts are atomic per record; no operation spans several records.
type BadgerStore struct {
	db    *badger.DB
	seq   *badger.Sequence
	cache *lru.Cache[string, models.ProductRecord]
	log   *logrus.Entry
	count atomic.Int64 // Cached product count for O(1) Count
}

// NewBadgerStore opens (or creates) the product database under stateDir.
// Existing records are kept so reruns upsert over them.
func NewBadgerStore(stateDir string, cacheSize int, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, productsDBDir)
	logger = logger.WithField("component", "product_store")
	logger.Infof("Initializing product database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1) // Only the latest version of a product matters
	return open(opts, cacheSize, logger)
}

// NewInMemoryStore opens a BadgerStore that keeps everything in memory
func NewInMemoryStore(cacheSize int, logger *logrus.Entry) (*BadgerStore, error) {
	logger = logger.WithField("component", "product_store")
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb")))
	return open(opts, cacheSize, logger)
}

func open(opts badger.Options, cacheSize int, logger *logrus.Entry) (*BadgerStore, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, models.ProductRecord](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create record cache: %w", err)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, opts.Dir, err)
	}
	seq, err := db.GetSequence([]byte(recordSeqKey), seqBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to open record sequence: %w", utils.ErrDatabase, err)
	}

	store := &BadgerStore{db: db, seq: seq, cache: cache, log: logger}

	count, err := store.countPrefix([]byte(productKeyPrefix))
	if err != nil {
		logger.Warnf("Failed to count existing products: %v", err)
	} else {
		store.count.Store(int64(count))
		logger.Infof("Product database ready with %d existing products", count)
	}
	return store, nil
}

func productKey(naturalKey string) []byte {
	return []byte(productKeyPrefix + naturalKey)
}

func jobPrefix(jobID string) []byte {
	return []byte(jobKeyPrefix + jobID + ":")
}

func jobIndexKey(jobID string, seq uint64) []byte {
	// Zero padding keeps byte order equal to write order
	return []byte(fmt.Sprintf("%s%s:%020d", jobKeyPrefix, jobID, seq))
}

// countPrefix performs a full key scan over one prefix (used at open)
func (s *BadgerStore) countPrefix(prefix []byte) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on the same product key can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// Upsert implements RecordWriter
func (s *BadgerStore) Upsert(ctx context.Context, jobID string, rec models.ProductRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrStore, err)
	}
	if s.db.IsClosed() {
		return fmt.Errorf("%w: database is closed", utils.ErrStore)
	}
	if rec.NaturalKey == "" {
		return fmt.Errorf("%w: record '%s' has no natural key", utils.ErrStore, rec.Name)
	}

	rec.JobID = jobID
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %w: encoding record '%s': %w", utils.ErrStore, utils.ErrParsing, rec.NaturalKey, err)
	}
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("%w: %w: next sequence: %w", utils.ErrStore, utils.ErrDatabase, err)
	}

	key := productKey(rec.NaturalKey)
	isNew := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		switch {
		case errors.Is(errGet, badger.ErrKeyNotFound):
			isNew = true
		case errGet != nil:
			return errGet
		default:
			isNew = false
		}
		if err := txn.Set(key, val); err != nil {
			return err
		}
		return txn.Set(jobIndexKey(jobID, n), []byte(rec.NaturalKey))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in Upsert: %v", err)
		return fmt.Errorf("%w: %w: upsert '%s': %w", utils.ErrStore, utils.ErrDatabase, rec.NaturalKey, err)
	}

	if isNew {
		s.count.Add(1)
	}
	s.cache.Add(rec.NaturalKey, rec)
	return nil
}

// ListByJob implements RecordReader.
// A product upserted several times by the job appears once, at its first position,
// with its latest stored values.
func (s *BadgerStore) ListByJob(ctx context.Context, jobID string) ([]models.ProductRecord, error) {
	var records []models.ProductRecord
	seen := make(map[string]bool)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = jobPrefix(jobID)
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys []string
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			nk, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			if !seen[string(nk)] {
				seen[string(nk)] = true
				keys = append(keys, string(nk))
			}
		}

		for _, nk := range keys {
			rec, found, err := getRecord(txn, nk)
			if err != nil {
				return err
			}
			if !found {
				s.log.Warnf("Job '%s' index points at missing product '%s', skipping", jobID, nk)
				continue
			}
			records = append(records, *rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing job '%s': %w", utils.ErrDatabase, jobID, err)
	}
	return records, nil
}

// Get implements RecordReader. Reads go through the LRU cache.
func (s *BadgerStore) Get(ctx context.Context, naturalKey string) (*models.ProductRecord, bool, error) {
	if rec, ok := s.cache.Get(naturalKey); ok {
		return &rec, true, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var rec *models.ProductRecord
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, found, err = getRecord(txn, naturalKey)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: get '%s': %w", utils.ErrDatabase, naturalKey, err)
	}
	if found {
		s.cache.Add(naturalKey, *rec)
	}
	return rec, found, nil
}

func getRecord(txn *badger.Txn, naturalKey string) (*models.ProductRecord, bool, error) {
	item, err := txn.Get(productKey(naturalKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec models.ProductRecord
	err = item.Value(func(val []byte) error {
		if errJSON := json.Unmarshal(val, &rec); errJSON != nil {
			return fmt.Errorf("%w: decoding product '%s': %w", utils.ErrParsing, naturalKey, errJSON)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// Jobs implements RecordReader
func (s *BadgerStore) Jobs(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(jobKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rest := strings.TrimPrefix(string(it.Item().Key()), jobKeyPrefix)
			if i := strings.LastIndexByte(rest, ':'); i > 0 {
				seen[rest[:i]] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing jobs: %w", utils.ErrDatabase, err)
	}

	jobs := make([]string, 0, len(seen))
	for id := range seen {
		jobs = append(jobs, id)
	}
	sort.Strings(jobs)
	return jobs, nil
}

// Count implements StoreAdmin.
// Returns the cached product count (O(1)) maintained by atomic increments on writes.
func (s *BadgerStore) Count() (int, error) {
	return int(s.count.Load()), nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db.IsClosed() {
				s.log.Debug("DB GC: Database is closed, skipping GC cycle.")
				continue
			}

			var err error
			// Rewrite value log files while at least half their space is reclaimable
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
				s.log.Debug("BadgerDB GC finished (no rewrite needed).")
			} else {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close implements StoreAdmin. Safe to call more than once.
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.seq.Release(); err != nil {
		s.log.Warnf("Failed to release record sequence: %v", err)
	}
	s.log.Info("Closing product DB...")
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing product DB: %v", err)
		return fmt.Errorf("%w: close: %w", utils.ErrDatabase, err)
	}
	return nil
}
