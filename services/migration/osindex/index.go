package osindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"go.uber.org/zap"

	"github.com/opengovern/og-search-migration/services/migration/vespa"
)

const chunkIndexPrefix = "document_chunks_"

// Index writes migrated chunks into the new search index.
type Index struct {
	logger *zap.Logger
	client *opensearch.Client

	existingIndices map[string]bool
}

func NewIndex(logger *zap.Logger, client *opensearch.Client) *Index {
	return &Index{
		logger:          logger.Named("osindex"),
		client:          client,
		existingIndices: make(map[string]bool),
	}
}

func IndexName(tenantID string) string {
	return chunkIndexPrefix + tenantID
}

// EnsureIndex creates the tenant's chunk index if it does not exist yet.
func (i *Index) EnsureIndex(ctx context.Context, tenantID string) error {
	indexName := IndexName(tenantID)
	if i.existingIndices[indexName] {
		return nil
	}

	existsReq := opensearchapi.IndicesExistsRequest{Index: []string{indexName}}
	existsRes, err := existsReq.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("check index %s: %w", indexName, err)
	}
	defer existsRes.Body.Close()
	if existsRes.StatusCode == 200 {
		i.existingIndices[indexName] = true
		return nil
	}

	req := opensearchapi.IndicesCreateRequest{Index: indexName}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() && !strings.Contains(res.String(), "resource_already_exists_exception") {
		return fmt.Errorf("create index %s: %s", indexName, res.String())
	}

	i.logger.Info("created chunk index", zap.String("index", indexName))
	i.existingIndices[indexName] = true
	return nil
}

// WriteDocumentChunks indexes all chunks of one document in a single bulk
// request. The write either lands as a whole or reports an error, so a
// record update never commits ahead of its chunks.
func (i *Index) WriteDocumentChunks(ctx context.Context, tenantID string, documentID string, chunks []vespa.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	indexName := IndexName(tenantID)
	var body strings.Builder
	for _, chunk := range chunks {
		actionLine, err := json.Marshal(map[string]map[string]string{
			"index": {
				"_index": indexName,
				"_id":    fmt.Sprintf("%s::%d", documentID, chunk.ChunkIndex),
			},
		})
		if err != nil {
			return err
		}
		dataLine, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		body.WriteString(string(actionLine) + "\n")
		body.WriteString(string(dataLine) + "\n")
	}

	req := opensearchapi.BulkRequest{Body: strings.NewReader(body.String())}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("bulk write document %s: %w", documentID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk write document %s: %s", documentID, res.String())
	}

	var bulkRes struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkRes); err != nil {
		return fmt.Errorf("decode bulk response for document %s: %w", documentID, err)
	}
	if bulkRes.Errors {
		return fmt.Errorf("bulk write document %s: some chunks were rejected", documentID)
	}

	return nil
}
