package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	Orm *gorm.DB
}

func (db Database) Initialize() error {
	// The document catalog is owned by the ingestion pipeline and is not
	// migrated here.
	return db.Orm.AutoMigrate(
		&DocumentMigrationRecord{},
		&TenantMigrationRecord{},
	)
}

// ShouldPermanentlyFail is the sole gate between "retry later" and "give up
// forever". The worker must not attempt a document for which it returns true.
func ShouldPermanentlyFail(rec DocumentMigrationRecord) bool {
	if rec.Status == DocumentMigrationStatusPermanentlyFailed {
		return true
	}
	return rec.Status == DocumentMigrationStatusFailed && rec.AttemptsCount >= MaxMigrationAttempts
}

func (db Database) CountCatalogDocuments(tenantID string) (int64, error) {
	var count int64
	tx := db.Orm.Model(&Document{}).Where("tenant_id = ?", tenantID).Count(&count)
	if tx.Error != nil {
		return 0, tx.Error
	}
	return count, nil
}

func (db Database) CountTrackedDocuments(tenantID string) (int64, error) {
	var count int64
	tx := db.Orm.Model(&DocumentMigrationRecord{}).Where("tenant_id = ?", tenantID).Count(&count)
	if tx.Error != nil {
		return 0, tx.Error
	}
	return count, nil
}

// ListCatalogDocumentsAfter pages the catalog by primary key. Ordering by
// document id rather than modification time means a pagination restart can
// never skip a document, at the cost of missing one inserted behind an
// already-passed cursor. That document still reaches the new index through
// the ingestion write path.
func (db Database) ListCatalogDocumentsAfter(tenantID string, afterID string, limit int) ([]Document, error) {
	var docs []Document
	tx := db.Orm.Model(&Document{}).
		Where("tenant_id = ?", tenantID).
		Where("document_id > ?", afterID).
		Order("document_id ASC").
		Limit(limit).
		Find(&docs)
	if tx.Error != nil {
		return nil, tx.Error
	}
	return docs, nil
}

// LastTrackedDocumentID returns the maximum document id already present in
// the migration record table, or empty when nothing is tracked yet. It is
// the resume point of the discovery scan.
func (db Database) LastTrackedDocumentID(tenantID string) (string, error) {
	var ids []string
	tx := db.Orm.Model(&DocumentMigrationRecord{}).
		Where("tenant_id = ?", tenantID).
		Order("document_id DESC").
		Limit(1).
		Pluck("document_id", &ids)
	if tx.Error != nil {
		return "", tx.Error
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// TrackPendingDocuments inserts PENDING records for the given documents.
// Documents already tracked are silently skipped. Returns the number of
// records actually created.
func (db Database) TrackPendingDocuments(tenantID string, documentIDs []string) (int64, error) {
	if len(documentIDs) == 0 {
		return 0, nil
	}
	records := make([]DocumentMigrationRecord, 0, len(documentIDs))
	for _, id := range documentIDs {
		records = append(records, DocumentMigrationRecord{
			TenantID:   tenantID,
			DocumentID: id,
			Status:     DocumentMigrationStatusPending,
		})
	}
	tx := db.Orm.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "document_id"}},
			DoNothing: true,
		}).
		Create(&records)
	if tx.Error != nil {
		return 0, tx.Error
	}
	return tx.RowsAffected, nil
}

func (db Database) GetDocumentMigrationRecord(tenantID string, documentID string) (*DocumentMigrationRecord, error) {
	var rec DocumentMigrationRecord
	tx := db.Orm.Model(&DocumentMigrationRecord{}).
		Where("tenant_id = ? AND document_id = ?", tenantID, documentID).
		First(&rec)
	if tx.Error != nil {
		if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, tx.Error
	}
	return &rec, nil
}

// EnsureTenantMigrationRecord creates the per-tenant singleton if it does
// not exist yet. Safe to call concurrently; losers of the insert race no-op.
func (db Database) EnsureTenantMigrationRecord(tenantID string) error {
	rec := TenantMigrationRecord{TenantID: tenantID}
	if err := rec.VespaVisitContinuationToken.Set([]byte("{}")); err != nil {
		return err
	}
	tx := db.Orm.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoNothing: true,
		}).
		Create(&rec)
	if tx.Error != nil {
		return tx.Error
	}
	return nil
}

func (db Database) GetTenantMigrationRecord(tenantID string) (*TenantMigrationRecord, error) {
	var rec TenantMigrationRecord
	tx := db.Orm.Model(&TenantMigrationRecord{}).Where("tenant_id = ?", tenantID).First(&rec)
	if tx.Error != nil {
		if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, tx.Error
	}
	return &rec, nil
}

func (db Database) IncrementNoDocsToMigrateObservations(tenantID string) error {
	tx := db.Orm.Model(&TenantMigrationRecord{}).
		Where("tenant_id = ?", tenantID).
		Update("num_times_observed_no_additional_docs_to_migrate",
			gorm.Expr("num_times_observed_no_additional_docs_to_migrate + 1"))
	return tx.Error
}

func (db Database) IncrementNoDocsToPopulateObservations(tenantID string) error {
	tx := db.Orm.Model(&TenantMigrationRecord{}).
		Where("tenant_id = ?", tenantID).
		Update("num_times_observed_no_additional_docs_to_populate_migration_table",
			gorm.Expr("num_times_observed_no_additional_docs_to_populate_migration_table + 1"))
	return tx.Error
}

// AddChunksObservedInVespa bumps the source-store chunk accounting counters
// as the sliced scan makes progress.
func (db Database) AddChunksObservedInVespa(tenantID string, count int64) error {
	tx := db.Orm.Model(&TenantMigrationRecord{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"total_chunks_in_vespa":       gorm.Expr("total_chunks_in_vespa + ?", count),
			"approx_chunk_count_in_vespa": gorm.Expr("approx_chunk_count_in_vespa + ?", count),
		})
	return tx.Error
}

// RecordDocumentMigrated marks the document as terminally migrated and adds
// its chunk count to the tenant total.
func (db Database) RecordDocumentMigrated(tenantID string, documentID string, chunkCount int64) error {
	tx := db.Orm.Model(&DocumentMigrationRecord{}).
		Where("tenant_id = ? AND document_id = ?", tenantID, documentID).
		Where("status <> ?", DocumentMigrationStatusPermanentlyFailed).
		Update("status", DocumentMigrationStatusMigrated)
	if tx.Error != nil {
		return tx.Error
	}
	tx = db.Orm.Model(&TenantMigrationRecord{}).
		Where("tenant_id = ?", tenantID).
		Update("total_chunks_migrated", gorm.Expr("total_chunks_migrated + ?", chunkCount))
	return tx.Error
}

// RecordDocumentFailed increments the attempt count and moves the record to
// FAILED. Terminal records are left untouched.
func (db Database) RecordDocumentFailed(tenantID string, documentID string, chunksErrored int64) error {
	tx := db.Orm.Model(&DocumentMigrationRecord{}).
		Where("tenant_id = ? AND document_id = ?", tenantID, documentID).
		Where("status IN ?", []DocumentMigrationStatus{
			DocumentMigrationStatusPending,
			DocumentMigrationStatusFailed,
		}).
		Updates(map[string]any{
			"status":         DocumentMigrationStatusFailed,
			"attempts_count": gorm.Expr("attempts_count + 1"),
		})
	if tx.Error != nil {
		return tx.Error
	}
	if chunksErrored > 0 {
		tx = db.Orm.Model(&TenantMigrationRecord{}).
			Where("tenant_id = ?", tenantID).
			Update("total_chunks_errored", gorm.Expr("total_chunks_errored + ?", chunksErrored))
		if tx.Error != nil {
			return tx.Error
		}
	}
	return nil
}

func (db Database) MarkDocumentPermanentlyFailed(tenantID string, documentID string) error {
	tx := db.Orm.Model(&DocumentMigrationRecord{}).
		Where("tenant_id = ? AND document_id = ?", tenantID, documentID).
		Update("status", DocumentMigrationStatusPermanentlyFailed)
	return tx.Error
}

// GetSliceContinuationTokens returns the saved per-slice scan positions. A
// missing slice key means the slice has not been visited yet.
func (db Database) GetSliceContinuationTokens(tenantID string) (map[string]string, error) {
	rec, err := db.GetTenantMigrationRecord(tenantID)
	if err != nil {
		return nil, err
	}
	tokens := make(map[string]string)
	if rec == nil || len(rec.VespaVisitContinuationToken.Bytes) == 0 {
		return tokens, nil
	}
	if err := json.Unmarshal(rec.VespaVisitContinuationToken.Bytes, &tokens); err != nil {
		return nil, fmt.Errorf("decode continuation tokens: %w", err)
	}
	return tokens, nil
}

// SaveSliceContinuationToken persists the scan position of one slice. Only
// the lock-holding worker mutates the token map, so the read-update-write is
// race free.
func (db Database) SaveSliceContinuationToken(tenantID string, sliceID int, token string) error {
	tokens, err := db.GetSliceContinuationTokens(tenantID)
	if err != nil {
		return err
	}
	tokens[strconv.Itoa(sliceID)] = token
	encoded, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	var rec TenantMigrationRecord
	if err := rec.VespaVisitContinuationToken.Set(encoded); err != nil {
		return err
	}
	tx := db.Orm.Model(&TenantMigrationRecord{}).
		Where("tenant_id = ?", tenantID).
		Update("vespa_visit_continuation_token", rec.VespaVisitContinuationToken)
	return tx.Error
}

func (db Database) SetRetrievalEnabled(tenantID string, enabled bool) error {
	tx := db.Orm.Model(&TenantMigrationRecord{}).
		Where("tenant_id = ?", tenantID).
		Update("enable_opensearch_retrieval", enabled)
	return tx.Error
}

// SetMigrationCompleted stamps the completion time once. Later calls no-op.
func (db Database) SetMigrationCompleted(tenantID string, at time.Time) error {
	tx := db.Orm.Model(&TenantMigrationRecord{}).
		Where("tenant_id = ?", tenantID).
		Where("migration_completed_at IS NULL").
		Update("migration_completed_at", at)
	return tx.Error
}

// ListPendingCandidates returns up to limit never-attempted records, oldest
// catalog modification first. Older documents are less likely to be mid-write
// in the ingestion pipeline.
func (db Database) ListPendingCandidates(tenantID string, limit int) ([]DocumentMigrationRecord, error) {
	var recs []DocumentMigrationRecord
	tx := db.Orm.Model(&DocumentMigrationRecord{}).
		Select("document_migration_records.*").
		Joins("JOIN documents ON documents.tenant_id = document_migration_records.tenant_id"+
			" AND documents.document_id = document_migration_records.document_id").
		Where("document_migration_records.tenant_id = ?", tenantID).
		Where("document_migration_records.status = ?", DocumentMigrationStatusPending).
		Order("documents.last_modified ASC").
		Limit(limit).
		Find(&recs)
	if tx.Error != nil {
		return nil, tx.Error
	}
	return recs, nil
}

// ListRetryableFailedCandidates returns up to limit FAILED records still
// below the permanent-failure threshold, fewest prior failures first. The
// attempt-count ordering backs off repeat offenders without a delay timer.
func (db Database) ListRetryableFailedCandidates(tenantID string, limit int) ([]DocumentMigrationRecord, error) {
	var recs []DocumentMigrationRecord
	tx := db.Orm.Model(&DocumentMigrationRecord{}).
		Select("document_migration_records.*").
		Joins("JOIN documents ON documents.tenant_id = document_migration_records.tenant_id"+
			" AND documents.document_id = document_migration_records.document_id").
		Where("document_migration_records.tenant_id = ?", tenantID).
		Where("document_migration_records.status = ?", DocumentMigrationStatusFailed).
		Where("document_migration_records.attempts_count < ?", MaxMigrationAttempts).
		Order("document_migration_records.attempts_count ASC").
		Order("documents.last_modified ASC").
		Limit(limit).
		Find(&recs)
	if tx.Error != nil {
		return nil, tx.Error
	}
	return recs, nil
}

// ListCatalogTenants enumerates tenants visible to the scheduler: every
// tenant in the catalog plus every tenant that already has migration state.
func (db Database) ListCatalogTenants() ([]string, error) {
	var fromCatalog []string
	tx := db.Orm.Model(&Document{}).Distinct("tenant_id").Pluck("tenant_id", &fromCatalog)
	if tx.Error != nil {
		return nil, tx.Error
	}
	var fromRecords []string
	tx = db.Orm.Model(&TenantMigrationRecord{}).Distinct("tenant_id").Pluck("tenant_id", &fromRecords)
	if tx.Error != nil {
		return nil, tx.Error
	}
	seen := make(map[string]bool, len(fromCatalog))
	tenants := make([]string, 0, len(fromCatalog)+len(fromRecords))
	for _, lists := range [][]string{fromCatalog, fromRecords} {
		for _, t := range lists {
			if !seen[t] {
				seen[t] = true
				tenants = append(tenants, t)
			}
		}
	}
	return tenants, nil
}
