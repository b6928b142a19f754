package interfaces

import (
	"context"

	"github.com/kardex-io/kardex/internal/models"
)

// MatchQuery is one resolution attempt: the extracted primary identifier,
// fallback candidates in reading order, and the optional name/site scope.
type MatchQuery struct {
	BusinessID string
	PrimaryRaw string
	Candidates []string
	Name       string
	SiteID     *string
}

// Matcher resolves a card to at most one employee. A nil result with a nil
// error means no confident match; ambiguity is never resolved by guessing.
type Matcher interface {
	Resolve(ctx context.Context, query MatchQuery) (*models.MatchResult, error)
}

// CardProcessor runs the extraction pipeline for one claimed job. The worker
// pool owns claiming and stale recovery; the processor owns everything from
// image load to the job's terminal state.
type CardProcessor interface {
	Process(ctx context.Context, job *models.ExtractionJob) error
}
