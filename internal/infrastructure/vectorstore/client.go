// Package vectorstore implements pipeline.VectorStore against the semantic
// search engine spec §1 names as an out-of-scope external collaborator ("the
// vector store ... as a black box exposing standard operations"). Embedding
// inference happens on the far side of this HTTP boundary; the client sends
// the research question as text and a project/ingestion scope, and the
// service is responsible for turning that into a query vector and a
// collection-scoped search.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smilemakc/vyasa/internal/application/pipeline"
	"github.com/smilemakc/vyasa/internal/domain"
)

// Config configures the client (spec §6.3).
type Config struct {
	BaseURL    string
	Collection string
	Timeout    time.Duration
}

// DefaultConfig returns the literal defaults named in spec §6.3/§5.
func DefaultConfig() Config {
	return Config{Collection: "document_chunks", Timeout: 5 * time.Second}
}

// Client is the concrete pipeline.VectorStore.
type Client struct {
	cfg    Config
	client *http.Client
}

var _ pipeline.VectorStore = (*Client)(nil)

// New constructs a Client. An empty BaseURL is valid: every query then
// reports a "not configured" error rather than attempting a request, the
// same degrade-gracefully shape the prompt registry and telemetry sink use
// for their own optional collaborators.
func New(cfg Config) *Client {
	if cfg.Collection == "" {
		cfg.Collection = DefaultConfig().Collection
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type searchRequest struct {
	ProjectID        string `json:"project_id"`
	IngestionID      string `json:"ingestion_id"`
	ResearchQuestion string `json:"research_question"`
	Collection       string `json:"collection"`
	TopK             int    `json:"top_k"`
}

type searchHit struct {
	ChunkID          string  `json:"chunk_id"`
	Text             string  `json:"text"`
	DocID            string  `json:"doc_id"`
	PageNumber       int     `json:"page_number"`
	BBox             *bboxDTO `json:"bbox,omitempty"`
	SpanStart        *int    `json:"span_start,omitempty"`
	SpanEnd          *int    `json:"span_end,omitempty"`
	Snippet          string  `json:"snippet,omitempty"`
	ResearchQuestion string  `json:"research_question_hit,omitempty"`
}

type bboxDTO struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

type searchResponse struct {
	Hits []searchHit `json:"hits"`
}

// TopKByResearchQuestion implements pipeline.VectorStore (spec §4.4 step 3).
func (c *Client) TopKByResearchQuestion(ctx context.Context, projectID, ingestionID, researchQuestion string, k int) ([]pipeline.ChunkMatch, error) {
	if c.cfg.BaseURL == "" {
		return nil, fmt.Errorf("vectorstore: not configured")
	}
	if k <= 0 {
		k = 10
	}

	body, err := json.Marshal(searchRequest{
		ProjectID:        projectID,
		IngestionID:      ingestionID,
		ResearchQuestion: researchQuestion,
		Collection:       c.cfg.Collection,
		TopK:             k,
	})
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/collections/" + c.cfg.Collection + "/search"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vectorstore: search returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	var parsed searchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("vectorstore: malformed search response: %w", err)
	}

	matches := make([]pipeline.ChunkMatch, 0, len(parsed.Hits))
	for _, hit := range parsed.Hits {
		anchor := domain.SourceAnchor{
			DocID:      hit.DocID,
			PageNumber: hit.PageNumber,
			Snippet:    hit.Snippet,
		}
		if hit.BBox != nil {
			anchor.BBox = &domain.BBox{X: hit.BBox.X, Y: hit.BBox.Y, W: hit.BBox.W, H: hit.BBox.H}
		}
		if hit.SpanStart != nil && hit.SpanEnd != nil {
			anchor.Span = &domain.Span{Start: *hit.SpanStart, End: *hit.SpanEnd}
		}
		matches = append(matches, pipeline.ChunkMatch{
			ChunkID: hit.ChunkID,
			Text:    hit.Text,
			Anchor:  anchor,
			RQHit:   hit.ResearchQuestion,
		})
	}
	return matches, nil
}
