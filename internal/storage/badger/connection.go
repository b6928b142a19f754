package badger

import (
	"fmt"
	"os"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// BadgerDB manages the blob store connection. Card images live here; the
// relational rows referencing them live in SQLite.
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BlobConfig
}

// NewBadgerDB opens the blob store at the configured path.
func NewBadgerDB(logger arbor.ILogger, config *common.BlobConfig) (*BadgerDB, error) {
	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob store directory: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Opening blob store")

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Blob store initialized")

	return &BadgerDB{
		store:  store,
		logger: logger,
		config: config,
	}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Close closes the database connection
func (b *BadgerDB) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
