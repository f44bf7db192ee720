// Package graphstore implements pipeline.GraphStore against the document
// graph database spec §1 names as an out-of-scope external collaborator
// ("the ... graph store (document database) as a black box exposing
// standard operations"). Candidate/canonical fact lookup and the page-text
// cache are genuine calls across that boundary; existing-claim lookup is
// not -- claims already live in this orchestrator's own document store
// (internal/infrastructure/storage), so Client delegates that one method to
// an injected domain.ClaimRepository instead of round-tripping externally.
package graphstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smilemakc/vyasa/internal/application/pipeline"
	"github.com/smilemakc/vyasa/internal/domain"
)

// Config configures the client (spec §4.4 steps 2-3, §6.3).
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig mirrors the bounded-timeout default used by the other
// external-collaborator clients in this codebase.
func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Second}
}

// Client is the concrete pipeline.GraphStore.
type Client struct {
	cfg    Config
	client *http.Client
	claims domain.ClaimRepository
}

var _ pipeline.GraphStore = (*Client)(nil)

// New constructs a Client. claims may be nil in degraded setups; ExistingClaims
// then reports an empty set rather than panicking, the same nil-collaborator
// tolerance the node graph already extends to Deps.Graph itself.
func New(cfg Config, claims domain.ClaimRepository) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, claims: claims}
}

type factDTO struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

func (f factDTO) toDomain() pipeline.CandidateFact {
	return pipeline.CandidateFact{Subject: f.Subject, Predicate: f.Predicate, Object: f.Object}
}

type factsResponse struct {
	Facts []factDTO `json:"facts"`
}

// CanonicalFacts implements pipeline.GraphStore (spec §4.4 step 2: canonical
// fact lookup restricted to the supplied entity names).
func (c *Client) CanonicalFacts(ctx context.Context, projectID string, entities []string) ([]pipeline.CandidateFact, error) {
	if c.cfg.BaseURL == "" {
		return nil, fmt.Errorf("graphstore: not configured")
	}
	body, err := json.Marshal(map[string]any{"project_id": projectID, "entities": entities})
	if err != nil {
		return nil, err
	}
	return c.postFacts(ctx, "/facts/canonical", body)
}

// ReferencedFacts implements pipeline.GraphStore (spec §4.4 step 2: facts
// bound to externally-supplied reference ids, used when force_refresh_context
// is set).
func (c *Client) ReferencedFacts(ctx context.Context, referenceIDs []string) ([]pipeline.CandidateFact, error) {
	if c.cfg.BaseURL == "" {
		return nil, fmt.Errorf("graphstore: not configured")
	}
	body, err := json.Marshal(map[string]any{"reference_ids": referenceIDs})
	if err != nil {
		return nil, err
	}
	return c.postFacts(ctx, "/facts/referenced", body)
}

func (c *Client) postFacts(ctx context.Context, path string, body []byte) ([]pipeline.CandidateFact, error) {
	data, err := c.post(ctx, path, body)
	if err != nil {
		return nil, err
	}
	var parsed factsResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("graphstore: malformed facts response: %w", err)
	}
	out := make([]pipeline.CandidateFact, 0, len(parsed.Facts))
	for _, f := range parsed.Facts {
		out = append(out, f.toDomain())
	}
	return out, nil
}

// ExistingClaims implements pipeline.GraphStore by delegating to the claim
// store already used for persistence (spec §4.4 step 3's contradiction
// index loads claims already extracted for this project+ingestion, not a
// fresh graph-store lookup).
func (c *Client) ExistingClaims(ctx context.Context, projectID, ingestionID string) ([]domain.Claim, error) {
	if c.claims == nil {
		return nil, nil
	}
	id, err := uuid.Parse(projectID)
	if err != nil {
		return nil, fmt.Errorf("graphstore: invalid project id: %w", err)
	}
	return c.claims.ListByProjectAndIngestion(ctx, id, ingestionID)
}

type pageTextResponse struct {
	Text  string `json:"text"`
	Found bool   `json:"found"`
}

// PageText implements pipeline.GraphStore's page-text cache read (spec
// §4.5: real evidence verification needs the extracted page text, cached
// in the graph/document store by doc id and page number).
func (c *Client) PageText(ctx context.Context, docID string, page int) (string, bool, error) {
	if c.cfg.BaseURL == "" {
		return "", false, fmt.Errorf("graphstore: not configured")
	}
	url := fmt.Sprintf("%s/page-text/%s/%d", strings.TrimRight(c.cfg.BaseURL, "/"), docID, page)

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("graphstore: page text request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("graphstore: page text returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", false, err
	}
	var parsed pageTextResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", false, fmt.Errorf("graphstore: malformed page text response: %w", err)
	}
	return parsed.Text, parsed.Found, nil
}

// StorePageText implements pipeline.GraphStore's page-text cache write.
func (c *Client) StorePageText(ctx context.Context, docID string, page int, text string) error {
	if c.cfg.BaseURL == "" {
		return fmt.Errorf("graphstore: not configured")
	}
	body, err := json.Marshal(map[string]any{"doc_id": docID, "page_number": page, "text": text})
	if err != nil {
		return err
	}
	_, err = c.post(ctx, "/page-text", body)
	return err
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphstore: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("graphstore: %s returned status %d", path, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}
