package vectorstore

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopKByResearchQuestion_NotConfiguredReturnsError(t *testing.T) {
	c := New(Config{})
	_, err := c.TopKByResearchQuestion(t.Context(), "proj-1", "ing-1", "what is the effect?", 5)
	assert.Error(t, err)
}

func TestTopKByResearchQuestion_ParsesHitsIntoChunkMatches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/document_chunks/search", r.URL.Path)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "proj-1", req.ProjectID)
		assert.Equal(t, "ing-1", req.IngestionID)
		assert.Equal(t, 5, req.TopK)

		resp := searchResponse{Hits: []searchHit{
			{
				ChunkID:    "chunk-1",
				Text:       "the effect was significant",
				DocID:      "doc-1",
				PageNumber: 3,
				BBox:       &bboxDTO{X: 10, Y: 20, W: 100, H: 50},
			},
			{
				ChunkID:          "chunk-2",
				Text:             "no effect observed",
				DocID:            "doc-1",
				PageNumber:       4,
				ResearchQuestion: "what is the effect?",
			},
		}}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	matches, err := c.TopKByResearchQuestion(t.Context(), "proj-1", "ing-1", "what is the effect?", 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "chunk-1", matches[0].ChunkID)
	assert.Equal(t, "doc-1", matches[0].Anchor.DocID)
	assert.Equal(t, 3, matches[0].Anchor.PageNumber)
	require.NotNil(t, matches[0].Anchor.BBox)
	assert.Equal(t, 10, matches[0].Anchor.BBox.X)

	assert.Equal(t, "what is the effect?", matches[1].RQHit)
}

func TestTopKByResearchQuestion_NonOKStatusIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	_, err := c.TopKByResearchQuestion(t.Context(), "proj-1", "ing-1", "q", 5)
	assert.Error(t, err)
}

func TestTopKByResearchQuestion_DefaultsKWhenNonPositive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 10, req.TopK)
		require.NoError(t, json.NewEncoder(w).Encode(searchResponse{}))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})
	_, err := c.TopKByResearchQuestion(t.Context(), "proj-1", "ing-1", "q", 0)
	require.NoError(t, err)
}
