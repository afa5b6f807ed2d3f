package db

import (
	"time"

	"github.com/jackc/pgtype"
	"gorm.io/gorm"
)

// MaxMigrationAttempts is the number of failed attempts after which a
// document is quarantined and never retried automatically.
const MaxMigrationAttempts = 15

// FinishedVisitingSliceToken marks a source-store slice whose scan is
// exhausted. An absent token means the slice has not been visited yet.
const FinishedVisitingSliceToken = "__FINISHED_VISITING_SLICE__"

type DocumentMigrationStatus string

const (
	DocumentMigrationStatusPending           DocumentMigrationStatus = "PENDING"
	DocumentMigrationStatusFailed            DocumentMigrationStatus = "FAILED"
	DocumentMigrationStatusPermanentlyFailed DocumentMigrationStatus = "PERMANENTLY_FAILED"
	DocumentMigrationStatusMigrated          DocumentMigrationStatus = "MIGRATED"
)

// Document is the catalog row produced by the ingestion pipeline. This
// service only reads it; it is never written or migrated here.
type Document struct {
	TenantID     string `gorm:"primarykey"`
	DocumentID   string `gorm:"primarykey"`
	LastModified time.Time
}

// DocumentMigrationRecord tracks the migration state of a single document.
// Exactly one row exists per (tenant, document). AttemptsCount never
// decreases, and PERMANENTLY_FAILED is terminal.
type DocumentMigrationRecord struct {
	gorm.Model
	TenantID      string                  `gorm:"uniqueIndex:idx_doc_migration_tenant_doc;not null"`
	DocumentID    string                  `gorm:"uniqueIndex:idx_doc_migration_tenant_doc;not null"`
	Status        DocumentMigrationStatus `gorm:"not null"`
	AttemptsCount int                     `gorm:"not null;default:0"`
}

// TenantMigrationRecord is the per-tenant singleton holding aggregate
// migration state. It is created lazily with an insert-or-noop and its
// counters only move through arithmetic updates.
type TenantMigrationRecord struct {
	gorm.Model
	TenantID string `gorm:"uniqueIndex;not null"`

	// VespaVisitContinuationToken maps slice id to the opaque continuation
	// token of the source-store scan. FinishedVisitingSliceToken marks an
	// exhausted slice.
	VespaVisitContinuationToken pgtype.JSONB `gorm:"type:jsonb"`

	TotalChunksMigrated     int64
	TotalChunksErrored      int64
	TotalChunksInVespa      int64
	ApproxChunkCountInVespa int64

	NumTimesObservedNoAdditionalDocsToMigrate                int64
	NumTimesObservedNoAdditionalDocsToPopulateMigrationTable int64

	MigrationCompletedAt      *time.Time
	EnableOpensearchRetrieval bool
}
