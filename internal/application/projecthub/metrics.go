package projecthub

import (
	"context"

	"github.com/google/uuid"

	"github.com/smilemakc/vyasa/internal/domain"
)

// Metrics is the GET /api/projects/<id>/metrics response body
// (SPEC_FULL.md SUPPLEMENTED FEATURES #3): per-project rollups computed on
// demand, never cached.
type Metrics struct {
	ProjectID            uuid.UUID `json:"project_id"`
	ClaimCount           int       `json:"claim_count"`
	AverageConfidence    float64   `json:"average_confidence"`
	ConflictRate         float64   `json:"conflict_rate"`
	ManuscriptBlockCount int       `json:"manuscript_block_count"`
}

// MetricsCollector computes Metrics from the persisted claim and manuscript
// collections, the document-store equivalents named in spec §6.2.
type MetricsCollector struct {
	claims    domain.ClaimRepository
	blocks    domain.ManuscriptBlockRepository
	conflicts domain.ConflictReportRepository
}

// NewMetricsCollector constructs a MetricsCollector.
func NewMetricsCollector(claims domain.ClaimRepository, blocks domain.ManuscriptBlockRepository, conflicts domain.ConflictReportRepository) *MetricsCollector {
	return &MetricsCollector{claims: claims, blocks: blocks, conflicts: conflicts}
}

// Compute rolls up metrics for a project over the claims attached to a
// specific ingestion (the unit claims are persisted under, spec §6.2) and
// the project's manuscript blocks.
func (c *MetricsCollector) Compute(ctx context.Context, projectID uuid.UUID, ingestionID string) (Metrics, error) {
	claims, err := c.claims.ListByProjectAndIngestion(ctx, projectID, ingestionID)
	if err != nil {
		return Metrics{}, err
	}
	blocks, err := c.blocks.ListByProject(ctx, projectID)
	if err != nil {
		return Metrics{}, err
	}

	m := Metrics{
		ProjectID:            projectID,
		ClaimCount:           len(claims),
		ManuscriptBlockCount: len(blocks),
	}

	if len(claims) > 0 {
		var confidenceSum float64
		var unverified int
		for _, cl := range claims {
			confidenceSum += cl.Confidence
			if !cl.IsExpertVerified {
				unverified++
			}
		}
		m.AverageConfidence = confidenceSum / float64(len(claims))
		m.ConflictRate = float64(unverified) / float64(len(claims))
	}
	return m, nil
}
