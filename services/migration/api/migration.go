package api

import "time"

type MigrationStatusResponse struct {
	TotalChunksMigrated     int64      `json:"total_chunks_migrated"`
	CreatedAt               time.Time  `json:"created_at"`
	MigrationCompletedAt    *time.Time `json:"migration_completed_at"`
	ApproxChunkCountInVespa int64      `json:"approx_chunk_count_in_vespa"`
}

type RetrievalSettings struct {
	EnableOpensearchRetrieval bool `json:"enable_opensearch_retrieval"`
}
