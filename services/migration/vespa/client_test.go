package vespa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestVisitSliceContinuation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/document/v1/chunks/visit", r.URL.Path)
		require.Equal(t, "t1", r.URL.Query().Get("tenant"))
		require.Equal(t, "2", r.URL.Query().Get("sliceId"))
		require.Equal(t, "4", r.URL.Query().Get("slices"))
		require.Equal(t, "500", r.URL.Query().Get("wantedDocumentCount"))

		resp := visitResponse{}
		if r.URL.Query().Get("continuation") == "" {
			resp.Documents = []Chunk{{DocumentID: "d1", ChunkIndex: 0, Content: "a"}}
			resp.Continuation = "next-page"
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client := NewClient(zap.NewNop(), server.URL, time.Second)

	page, err := client.VisitSlice(context.Background(), "t1", 2, "")
	require.NoError(t, err)
	assert.Len(t, page.Chunks, 1)
	assert.Equal(t, "next-page", page.Continuation)
	assert.False(t, page.Exhausted)

	page, err = client.VisitSlice(context.Background(), "t1", 2, "next-page")
	require.NoError(t, err)
	assert.Empty(t, page.Chunks)
	assert.True(t, page.Exhausted, "an empty continuation means the slice is done")
}

func TestGetDocumentChunksFollowsPagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/document/v1/chunks/by-document", r.URL.Path)
		require.Equal(t, "d1", r.URL.Query().Get("documentId"))

		resp := documentChunksResponse{}
		if r.URL.Query().Get("continuation") == "" {
			resp.Chunks = []Chunk{{DocumentID: "d1", ChunkIndex: 0}, {DocumentID: "d1", ChunkIndex: 1}}
			resp.Continuation = "page-2"
		} else {
			resp.Chunks = []Chunk{{DocumentID: "d1", ChunkIndex: 2}}
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client := NewClient(zap.NewNop(), server.URL, time.Second)

	chunks, err := client.GetDocumentChunks(context.Background(), "t1", "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 2, chunks[2].ChunkIndex)
}

func TestClientSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "visit failed", http.StatusBadGateway)
	}))
	defer server.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	client := NewClient(zap.New(core), server.URL, time.Second)

	_, err := client.VisitSlice(context.Background(), "t1", 0, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	entries := logs.FilterMessage("unexpected response from source store").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(http.StatusBadGateway), entries[0].ContextMap()["status"])
}
