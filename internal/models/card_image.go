package models

import "time"

// CardImage is the original uploaded file for a work card, exactly one per
// card and immutable after create. Stored in the blob store keyed by card ID.
type CardImage struct {
	WorkCardID string `json:"work_card_id" badgerhold:"key"`
	Bytes      []byte `json:"-"`
	Mime       string `json:"mime"`
	Filename   string `json:"filename"`
	SizeBytes  int64  `json:"size_bytes"`

	CreatedAt time.Time `json:"created_at"`
}

// NewCardImage builds the blob row for an upload.
func NewCardImage(workCardID string, data []byte, mime, filename string) *CardImage {
	return &CardImage{
		WorkCardID: workCardID,
		Bytes:      data,
		Mime:       mime,
		Filename:   filename,
		SizeBytes:  int64(len(data)),
		CreatedAt:  time.Now().UTC(),
	}
}
