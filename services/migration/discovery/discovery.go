package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/opengovern/og-search-migration/services/migration/db"
	"go.uber.org/zap"
)

// BatchSize is the number of catalog rows fetched per discovery page.
const BatchSize = 1000

// Cursor enumerates the document catalog by primary key and creates a
// PENDING migration record for every document not tracked yet. It resumes
// from the highest tracked document id, so repeated runs eventually cover
// the whole catalog without ever re-reading a page.
type Cursor struct {
	logger *zap.Logger
	db     db.Database
}

func NewCursor(logger *zap.Logger, database db.Database) *Cursor {
	return &Cursor{
		logger: logger.Named("discovery"),
		db:     database,
	}
}

// RunOnce pages the catalog from the resume point until it is caught up or
// the soft deadline passes. A full pass that tracks nothing bumps the
// no-docs-to-populate observation counter.
func (c *Cursor) RunOnce(ctx context.Context, tenantID string, deadline time.Time) error {
	if err := c.db.EnsureTenantMigrationRecord(tenantID); err != nil {
		return fmt.Errorf("ensure tenant migration record: %w", err)
	}

	afterID, err := c.db.LastTrackedDocumentID(tenantID)
	if err != nil {
		return fmt.Errorf("last tracked document id: %w", err)
	}

	var tracked int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			c.logger.Info("discovery soft time limit reached, stopping cleanly",
				zap.String("tenantID", tenantID),
				zap.Int64("tracked", tracked))
			return nil
		}

		docs, err := c.db.ListCatalogDocumentsAfter(tenantID, afterID, BatchSize)
		if err != nil {
			return fmt.Errorf("list catalog documents: %w", err)
		}
		if len(docs) == 0 {
			break
		}

		ids := make([]string, 0, len(docs))
		for _, doc := range docs {
			ids = append(ids, doc.DocumentID)
		}
		inserted, err := c.db.TrackPendingDocuments(tenantID, ids)
		if err != nil {
			return fmt.Errorf("track pending documents: %w", err)
		}
		tracked += inserted
		afterID = docs[len(docs)-1].DocumentID

		if len(docs) < BatchSize {
			break
		}
	}

	if tracked == 0 {
		if err := c.db.IncrementNoDocsToPopulateObservations(tenantID); err != nil {
			return fmt.Errorf("increment no docs to populate observations: %w", err)
		}
	} else {
		c.logger.Info("tracked new documents for migration",
			zap.String("tenantID", tenantID),
			zap.Int64("count", tracked))
	}

	return nil
}
