package badger

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// ImageStorage implements the ImageStorage interface for Badger. One blob per
// card; Put rejects a second write for the same card.
type ImageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewImageStorage creates a new ImageStorage instance
func NewImageStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ImageStorage {
	return &ImageStorage{
		db:     db,
		logger: logger,
	}
}

// Put stores the original upload bytes for a card.
func (s *ImageStorage) Put(ctx context.Context, image *models.CardImage) error {
	if image.WorkCardID == "" {
		return fmt.Errorf("work card ID is required")
	}
	if len(image.Bytes) == 0 {
		return fmt.Errorf("image bytes are required")
	}

	if err := s.db.Store().Insert(image.WorkCardID, image); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to store card image: %w", err)
	}

	s.logger.Debug().
		Str("card_id", image.WorkCardID).
		Int64("size_bytes", image.SizeBytes).
		Msg("Card image stored")

	return nil
}

// Get loads the original upload bytes for a card.
func (s *ImageStorage) Get(ctx context.Context, workCardID string) (*models.CardImage, error) {
	var image models.CardImage
	if err := s.db.Store().Get(workCardID, &image); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get card image: %w", err)
	}
	return &image, nil
}

// Delete removes the blob for a card. Missing blobs are not an error.
func (s *ImageStorage) Delete(ctx context.Context, workCardID string) error {
	if err := s.db.Store().Delete(workCardID, &models.CardImage{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete card image: %w", err)
	}
	return nil
}

// RunGC triggers one value-log garbage collection pass. Badger returns
// ErrNoRewrite when nothing was reclaimable, which is not a failure.
func (s *ImageStorage) RunGC() error {
	err := s.db.Store().Badger().RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
		return fmt.Errorf("blob store GC failed: %w", err)
	}
	if err == nil {
		s.logger.Info().Msg("Blob store GC reclaimed space")
	}
	return nil
}
