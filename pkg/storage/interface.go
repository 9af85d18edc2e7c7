package storage

import (
	"context"
	"time"

	"catalog-scraper/pkg/models"
)

// RecordWriter persists product records as they stream out of a job
type RecordWriter interface {
	// Upsert writes rec under its natural key, replacing any earlier version,
	// and records that jobID produced it. Failures wrap utils.ErrStore.
	Upsert(ctx context.Context, jobID string, rec models.ProductRecord) error
}

// RecordReader reads persisted records
type RecordReader interface {
	// ListByJob returns the records upserted by jobID, in the order they were first written
	ListByJob(ctx context.Context, jobID string) ([]models.ProductRecord, error)

	// Get returns the record stored under a natural key, and whether it exists
	Get(ctx context.Context, naturalKey string) (*models.ProductRecord, bool, error)

	// Jobs returns the IDs of every job that wrote at least one record, sorted
	Jobs(ctx context.Context) ([]string, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// Count returns the number of distinct products stored
	Count() (int, error)

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// ProductStore combines all store interfaces for components that need full access
type ProductStore interface {
	RecordWriter
	RecordReader
	StoreAdmin
}
