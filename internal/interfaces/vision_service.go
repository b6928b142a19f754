package interfaces

import (
	"context"
	"time"

	"github.com/kardex-io/kardex/internal/models"
)

// VisionRequest carries one card image into the model chain.
type VisionRequest struct {
	// ImageBytes is the original upload; MimeType tells the provider how to
	// encode it (image/* are sent as image blocks, PDFs as documents).
	ImageBytes []byte
	MimeType   string

	// Mode selects the prompt: FULL reads identity fields and day rows,
	// HOURS_ONLY skips the identity sections.
	Mode models.JobMode

	// Month hints the expected card month so the prompt can anchor the model.
	Month time.Time
}

// VisionOutcome is one successful structured read plus provenance.
type VisionOutcome struct {
	Result *models.ExtractionResult

	// RawText is the model output before fence stripping and decoding,
	// persisted on the job for audit.
	RawText string

	// ModelName is the chain entry that produced the result; FallbackUsed is
	// true when it was not the first entry.
	ModelName    string
	FallbackUsed bool
}

// VisionExtractor reads handwritten hour cards through a configured model
// chain. Implementations try models in order until one returns a result that
// parses and validates; only when the whole chain fails do they return an
// error. Each attempt is bounded by the configured per-request timeout.
type VisionExtractor interface {
	ExtractCard(ctx context.Context, req VisionRequest) (*VisionOutcome, error)
}
