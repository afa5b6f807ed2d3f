package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/opengovern/og-search-migration/services/migration/db"
	"github.com/opengovern/og-search-migration/services/migration/selector"
	"github.com/opengovern/og-search-migration/services/migration/vespa"
)

// CandidateBatchSize is the number of documents attempted per invocation.
const CandidateBatchSize = 100

var DocumentsProcessedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "opengovernance",
	Subsystem: "search_migration",
	Name:      "documents_processed_total",
	Help:      "Count of documents processed by the migration worker",
}, []string{"result"})

var ChunksProcessedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "opengovernance",
	Subsystem: "search_migration",
	Name:      "chunks_processed_total",
	Help:      "Count of chunks moved or errored by the migration worker",
}, []string{"result"})

// SourceStore reads chunks out of the legacy index.
type SourceStore interface {
	VisitSlice(ctx context.Context, tenantID string, sliceID int, continuation string) (*vespa.VisitPage, error)
	GetDocumentChunks(ctx context.Context, tenantID string, documentID string) ([]vespa.Chunk, error)
}

// DestinationStore writes chunks into the new index.
type DestinationStore interface {
	EnsureIndex(ctx context.Context, tenantID string) error
	WriteDocumentChunks(ctx context.Context, tenantID string, documentID string, chunks []vespa.Chunk) error
}

// Worker migrates one tenant's documents for one invocation. The caller
// holds the tenant run lock for the whole call; the worker only has to
// honor the soft deadline, checked before every unit of work.
type Worker struct {
	logger   *zap.Logger
	db       db.Database
	selector selector.Selector
	source   SourceStore
	dest     DestinationStore
}

func New(logger *zap.Logger, database db.Database, source SourceStore, dest DestinationStore) *Worker {
	return &Worker{
		logger:   logger.Named("worker"),
		db:       database,
		selector: selector.New(database),
		source:   source,
		dest:     dest,
	}
}

// RunOnce advances the sliced source scan, migrates one candidate batch,
// and stamps completion when nothing is left. Every unit commits on its
// own; an early exit or failure never rolls back finished units.
func (w *Worker) RunOnce(ctx context.Context, tenantID string, deadline time.Time) error {
	if err := w.db.EnsureTenantMigrationRecord(tenantID); err != nil {
		return fmt.Errorf("ensure tenant migration record: %w", err)
	}
	if err := w.dest.EnsureIndex(ctx, tenantID); err != nil {
		return fmt.Errorf("ensure destination index: %w", err)
	}

	if err := w.advanceSliceScan(ctx, tenantID, deadline); err != nil {
		return fmt.Errorf("advance slice scan: %w", err)
	}

	selected, err := w.migrateBatch(ctx, tenantID, deadline)
	if err != nil {
		return fmt.Errorf("migrate batch: %w", err)
	}

	if selected == 0 {
		if err := w.db.IncrementNoDocsToMigrateObservations(tenantID); err != nil {
			return fmt.Errorf("increment no docs to migrate observations: %w", err)
		}
		if err := w.maybeMarkCompleted(tenantID); err != nil {
			return fmt.Errorf("check migration completion: %w", err)
		}
	}

	return nil
}

// advanceSliceScan resumes each slice of the source-store scan from its
// saved continuation token and accounts the chunks it sees. Tokens are
// persisted after every page so a budget exit loses at most one page of
// progress.
func (w *Worker) advanceSliceScan(ctx context.Context, tenantID string, deadline time.Time) error {
	tokens, err := w.db.GetSliceContinuationTokens(tenantID)
	if err != nil {
		return err
	}

	for sliceID := 0; sliceID < vespa.NumVisitSlices; sliceID++ {
		continuation := tokens[strconv.Itoa(sliceID)]
		if continuation == db.FinishedVisitingSliceToken {
			continue
		}

		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !time.Now().Before(deadline) {
				w.logger.Info("soft time limit reached during slice scan",
					zap.String("tenantID", tenantID),
					zap.Int("sliceID", sliceID))
				return nil
			}

			page, err := w.source.VisitSlice(ctx, tenantID, sliceID, continuation)
			if err != nil {
				return err
			}
			if len(page.Chunks) > 0 {
				if err := w.db.AddChunksObservedInVespa(tenantID, int64(len(page.Chunks))); err != nil {
					return err
				}
			}

			if page.Exhausted {
				if err := w.db.SaveSliceContinuationToken(tenantID, sliceID, db.FinishedVisitingSliceToken); err != nil {
					return err
				}
				w.logger.Info("finished visiting slice",
					zap.String("tenantID", tenantID),
					zap.Int("sliceID", sliceID))
				break
			}

			if err := w.db.SaveSliceContinuationToken(tenantID, sliceID, page.Continuation); err != nil {
				return err
			}
			continuation = page.Continuation
		}
	}

	return nil
}

// migrateBatch attempts one selector batch and returns how many documents
// the selector handed out. A deadline exit mid-batch still reports the full
// selection so the caller does not mistake it for an empty backlog. Each
// document's destination write plus record update is one unit of work.
func (w *Worker) migrateBatch(ctx context.Context, tenantID string, deadline time.Time) (int, error) {
	batch, err := w.selector.NextBatch(tenantID, CandidateBatchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			return len(batch), err
		}
		if !time.Now().Before(deadline) {
			w.logger.Info("soft time limit reached during batch migration",
				zap.String("tenantID", tenantID))
			return len(batch), nil
		}

		if db.ShouldPermanentlyFail(rec) {
			if err := w.db.MarkDocumentPermanentlyFailed(tenantID, rec.DocumentID); err != nil {
				return len(batch), err
			}
			DocumentsProcessedCount.WithLabelValues("permanently_failed").Inc()
			w.logger.Warn("document exhausted its migration attempts, quarantined",
				zap.String("tenantID", tenantID),
				zap.String("documentID", rec.DocumentID),
				zap.Int("attempts", rec.AttemptsCount))
			continue
		}

		if err := w.migrateDocument(ctx, tenantID, rec.DocumentID); err != nil {
			w.logger.Error("failed to migrate document",
				zap.String("tenantID", tenantID),
				zap.String("documentID", rec.DocumentID),
				zap.Error(err))
		}
	}

	return len(batch), nil
}

func (w *Worker) migrateDocument(ctx context.Context, tenantID string, documentID string) error {
	chunks, err := w.source.GetDocumentChunks(ctx, tenantID, documentID)
	if err != nil {
		if recordErr := w.db.RecordDocumentFailed(tenantID, documentID, 0); recordErr != nil {
			return recordErr
		}
		DocumentsProcessedCount.WithLabelValues("failed").Inc()
		return err
	}

	if err := w.dest.WriteDocumentChunks(ctx, tenantID, documentID, chunks); err != nil {
		if recordErr := w.db.RecordDocumentFailed(tenantID, documentID, int64(len(chunks))); recordErr != nil {
			return recordErr
		}
		DocumentsProcessedCount.WithLabelValues("failed").Inc()
		ChunksProcessedCount.WithLabelValues("errored").Add(float64(len(chunks)))
		return err
	}

	if err := w.db.RecordDocumentMigrated(tenantID, documentID, int64(len(chunks))); err != nil {
		return err
	}
	DocumentsProcessedCount.WithLabelValues("migrated").Inc()
	ChunksProcessedCount.WithLabelValues("migrated").Add(float64(len(chunks)))
	return nil
}

// maybeMarkCompleted stamps migration_completed_at once discovery has
// caught up with the catalog, every slice scan is exhausted, and no record
// is left to attempt.
func (w *Worker) maybeMarkCompleted(tenantID string) error {
	tracked, err := w.db.CountTrackedDocuments(tenantID)
	if err != nil {
		return err
	}
	total, err := w.db.CountCatalogDocuments(tenantID)
	if err != nil {
		return err
	}
	if tracked != total {
		return nil
	}

	tokens, err := w.db.GetSliceContinuationTokens(tenantID)
	if err != nil {
		return err
	}
	for sliceID := 0; sliceID < vespa.NumVisitSlices; sliceID++ {
		if tokens[strconv.Itoa(sliceID)] != db.FinishedVisitingSliceToken {
			return nil
		}
	}

	if err := w.db.SetMigrationCompleted(tenantID, time.Now()); err != nil {
		return err
	}
	w.logger.Info("migration completed for tenant", zap.String("tenantID", tenantID))
	return nil
}
