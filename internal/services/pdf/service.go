// Package pdf validates uploaded PDF card scans before they enter the
// extraction queue. Uses pdfcpu for Go-native PDF processing.
package pdf

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
)

// Info describes an accepted PDF upload.
type Info struct {
	PageCount int
	FileSize  int64
}

// Validator checks PDF uploads. A card scan is one page; multi-page files
// are accepted but only the first page is sent to the vision model, so the
// page count is surfaced for the upload response.
type Validator struct {
	logger arbor.ILogger
	conf   *model.Configuration
}

// NewValidator creates a new PDF validator
func NewValidator(logger arbor.ILogger) *Validator {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	return &Validator{
		logger: logger,
		conf:   conf,
	}
}

// Validate parses and validates PDF bytes. Encrypted documents are rejected:
// the vision model cannot read them and storing them would strand the job in
// retries.
func (v *Validator) Validate(data []byte) (*Info, error) {
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), v.conf)
	if err != nil {
		return nil, fmt.Errorf("not a valid PDF: %w", err)
	}

	if pdfCtx.Encrypt != nil {
		return nil, fmt.Errorf("encrypted PDFs are not supported")
	}
	if pdfCtx.PageCount < 1 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	v.logger.Debug().
		Int("page_count", pdfCtx.PageCount).
		Int("file_size", len(data)).
		Msg("PDF upload validated")

	return &Info{
		PageCount: pdfCtx.PageCount,
		FileSize:  int64(len(data)),
	}, nil
}
