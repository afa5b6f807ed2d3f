package selector

import (
	"github.com/opengovern/og-search-migration/services/migration/db"
)

// Selector composes the next worker batch with a fixed two-tier priority:
// every eligible PENDING record first, then retryable FAILED records for
// whatever room is left. Fresh work is never starved by the retry backlog,
// and the backlog still drains when fresh work runs out.
type Selector struct {
	db db.Database
}

func New(database db.Database) Selector {
	return Selector{db: database}
}

// NextBatch returns up to limit records to attempt. PENDING records come
// ordered by catalog modification time ascending; FAILED ones by attempt
// count then modification time. Records at or past the permanent-failure
// threshold never appear.
func (s Selector) NextBatch(tenantID string, limit int) ([]db.DocumentMigrationRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	batch, err := s.db.ListPendingCandidates(tenantID, limit)
	if err != nil {
		return nil, err
	}
	if len(batch) >= limit {
		return batch, nil
	}

	failed, err := s.db.ListRetryableFailedCandidates(tenantID, limit-len(batch))
	if err != nil {
		return nil, err
	}
	return append(batch, failed...), nil
}
