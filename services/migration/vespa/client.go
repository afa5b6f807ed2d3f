package vespa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	// NumVisitSlices is the number of parallel partitions of the source
	// store scan. Each slice keeps its own continuation token.
	NumVisitSlices = 4

	// VisitPageSize is the number of chunks requested per visit call.
	VisitPageSize = 500
)

// Chunk is one indexed unit of a document in the legacy store.
type Chunk struct {
	DocumentID string          `json:"document_id"`
	ChunkIndex int             `json:"chunk_index"`
	Content    string          `json:"content"`
	Embedding  []float32       `json:"embedding,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// VisitPage is one page of a sliced scan. Continuation resumes the scan;
// Exhausted means the slice has no further pages.
type VisitPage struct {
	Chunks       []Chunk
	Continuation string
	Exhausted    bool
}

type visitResponse struct {
	Documents    []Chunk `json:"documents"`
	Continuation string  `json:"continuation"`
}

type documentChunksResponse struct {
	Chunks       []Chunk `json:"chunks"`
	Continuation string  `json:"continuation"`
}

// Client talks to the legacy index over its visit HTTP API.
type Client struct {
	logger  *zap.Logger
	baseURL string
	client  *http.Client
}

func NewClient(logger *zap.Logger, baseURL string, timeout time.Duration) *Client {
	return &Client{
		logger:  logger.Named("vespa"),
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// VisitSlice reads one page of the given slice, resuming from continuation
// when non-empty. The store signals slice exhaustion by returning no
// continuation token.
func (c *Client) VisitSlice(ctx context.Context, tenantID string, sliceID int, continuation string) (*VisitPage, error) {
	params := url.Values{}
	params.Set("tenant", tenantID)
	params.Set("sliceId", strconv.Itoa(sliceID))
	params.Set("slices", strconv.Itoa(NumVisitSlices))
	params.Set("wantedDocumentCount", strconv.Itoa(VisitPageSize))
	if continuation != "" {
		params.Set("continuation", continuation)
	}

	var resp visitResponse
	if err := c.get(ctx, "/document/v1/chunks/visit", params, &resp); err != nil {
		return nil, fmt.Errorf("visit slice %d: %w", sliceID, err)
	}

	return &VisitPage{
		Chunks:       resp.Documents,
		Continuation: resp.Continuation,
		Exhausted:    resp.Continuation == "",
	}, nil
}

// GetDocumentChunks fetches every chunk of one document, following the
// store's pagination internally.
func (c *Client) GetDocumentChunks(ctx context.Context, tenantID string, documentID string) ([]Chunk, error) {
	var chunks []Chunk
	continuation := ""
	for {
		params := url.Values{}
		params.Set("tenant", tenantID)
		params.Set("documentId", documentID)
		params.Set("wantedDocumentCount", strconv.Itoa(VisitPageSize))
		if continuation != "" {
			params.Set("continuation", continuation)
		}

		var resp documentChunksResponse
		if err := c.get(ctx, "/document/v1/chunks/by-document", params, &resp); err != nil {
			return nil, fmt.Errorf("get chunks for document %s: %w", documentID, err)
		}
		chunks = append(chunks, resp.Chunks...)
		if resp.Continuation == "" {
			return chunks, nil
		}
		continuation = resp.Continuation
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		c.logger.Warn("unexpected response from source store",
			zap.String("path", path),
			zap.Int("status", res.StatusCode))
		return fmt.Errorf("unexpected status %d: %s", res.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}
