package graphstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/vyasa/internal/domain"
)

type stubClaimRepo struct {
	claims []domain.Claim
	err    error
}

func (s *stubClaimRepo) SaveBatch(ctx context.Context, projectID uuid.UUID, ingestionID string, claims []domain.Claim) error {
	return nil
}

func (s *stubClaimRepo) ListByProjectAndIngestion(ctx context.Context, projectID uuid.UUID, ingestionID string) ([]domain.Claim, error) {
	return s.claims, s.err
}

func (s *stubClaimRepo) Get(ctx context.Context, claimID string) (*domain.Claim, error) {
	return nil, nil
}

func TestCanonicalFacts_NotConfiguredReturnsError(t *testing.T) {
	c := New(Config{}, nil)
	_, err := c.CanonicalFacts(t.Context(), "proj-1", []string{"Entity"})
	assert.Error(t, err)
}

func TestCanonicalFacts_ParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/facts/canonical", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode(factsResponse{Facts: []factDTO{
			{Subject: "Acme Corp", Predicate: "founded_in", Object: "1998"},
		}}))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL}, nil)
	facts, err := c.CanonicalFacts(t.Context(), "proj-1", []string{"Acme Corp"})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "founded_in", facts[0].Predicate)
}

func TestReferencedFacts_ParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/facts/referenced", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode(factsResponse{Facts: []factDTO{
			{Subject: "X", Predicate: "is_a", Object: "Y"},
		}}))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL}, nil)
	facts, err := c.ReferencedFacts(t.Context(), []string{"ref-1"})
	require.NoError(t, err)
	require.Len(t, facts, 1)
}

func TestExistingClaims_DelegatesToClaimRepository(t *testing.T) {
	projectID := uuid.New()
	repo := &stubClaimRepo{claims: []domain.Claim{{ClaimID: "c1", Subject: "A", Predicate: "p", Object: "B"}}}
	c := New(Config{}, repo)

	claims, err := c.ExistingClaims(t.Context(), projectID.String(), "ing-1")
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "c1", claims[0].ClaimID)
}

func TestExistingClaims_NilRepositoryReturnsEmpty(t *testing.T) {
	c := New(Config{}, nil)
	claims, err := c.ExistingClaims(t.Context(), uuid.New().String(), "ing-1")
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestExistingClaims_InvalidProjectIDIsAnError(t *testing.T) {
	c := New(Config{}, &stubClaimRepo{})
	_, err := c.ExistingClaims(t.Context(), "not-a-uuid", "ing-1")
	assert.Error(t, err)
}

func TestPageText_FoundAndNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/page-text/doc-1/3" {
			require.NoError(t, json.NewEncoder(w).Encode(pageTextResponse{Text: "hello page three", Found: true}))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL}, nil)

	text, found, err := c.PageText(t.Context(), "doc-1", 3)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello page three", text)

	_, found, err = c.PageText(t.Context(), "doc-1", 99)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStorePageText_PostsToCache(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/page-text", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL}, nil)
	err := c.StorePageText(t.Context(), "doc-1", 5, "page five text")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", gotBody["doc_id"])
	assert.Equal(t, float64(5), gotBody["page_number"])
}
