// Package store persists product records, conflict logs, domain fetch
// profiles, and the dead letter queue. Two implementations exist: SQLite
// for local single-binary use and Postgres for shared deployments.
package store

import (
	"context"

	"github.com/dramcove/catalog-cli/internal/model"
	"github.com/dramcove/catalog-cli/internal/resilience"
)

// RecordFilter specifies criteria for listing product records.
type RecordFilter struct {
	Status      model.Status `json:"status,omitempty"`
	Brand       string       `json:"brand,omitempty"`
	ProductType string       `json:"product_type,omitempty"`
	MinScore    int          `json:"min_score,omitempty"`
	Limit       int          `json:"limit,omitempty"`
	Offset      int          `json:"offset,omitempty"`
}

// Store defines the persistence interface for the catalog pipeline.
// Single-row lookups return (nil, nil) when nothing matches.
type Store interface {
	// Product records. UpsertRecord keys on fingerprint; the gtin unique
	// index is enforced only for non-empty values.
	UpsertRecord(ctx context.Context, rec *model.ProductRecord) error
	GetByFingerprint(ctx context.Context, fingerprint string) (*model.ProductRecord, error)
	GetByGTIN(ctx context.Context, gtin string) (*model.ProductRecord, error)
	ListByBrandType(ctx context.Context, brand, productType string) ([]*model.ProductRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.ProductRecord, error)
	SetRecordStatus(ctx context.Context, fingerprint string, status model.Status) error

	// Conflict logs are append-only.
	AppendConflicts(ctx context.Context, conflicts []model.ConflictLog) error
	ListConflicts(ctx context.Context, fingerprint string) ([]model.ConflictLog, error)

	// Domain fetch profiles, keyed by registrable domain. PutProfile is
	// monotonic on required_tier: concurrent writers can only raise it.
	// ResetProfile is the explicit manual escape hatch that lowers it.
	GetProfile(ctx context.Context, domain string) (*model.DomainFetchProfile, error)
	PutProfile(ctx context.Context, prof *model.DomainFetchProfile) error
	ListProfiles(ctx context.Context) ([]model.DomainFetchProfile, error)
	ResetProfile(ctx context.Context, domain string) error

	// Dead letter queue.
	AddDLQ(ctx context.Context, entry *resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	DeleteDLQ(ctx context.Context, id string) error

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
