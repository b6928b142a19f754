// Package storage assembles the two stores behind one lifecycle: SQLite is
// the system of record, Badger holds the card image blobs.
package storage

import (
	"context"
	"fmt"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/storage/badger"
	"github.com/kardex-io/kardex/internal/storage/sqlite"
	"github.com/ternarybob/arbor"
)

// Manager implements the StorageManager interface over SQLite and Badger.
type Manager struct {
	db     *sqlite.DB
	blobs  *badger.BadgerDB
	logger arbor.ILogger

	businesses   interfaces.BusinessStorage
	sites        interfaces.SiteStorage
	employees    interfaces.EmployeeStorage
	workCards    interfaces.WorkCardStorage
	dayEntries   interfaces.DayEntryStorage
	jobs         interfaces.JobStorage
	uploadAccess interfaces.UploadAccessStorage
	images       interfaces.ImageStorage
}

// NewStorageManager opens both stores and wires the per-entity storages.
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	db, err := sqlite.NewDB(logger, &config.Database)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	blobs, err := badger.NewBadgerDB(logger, &config.Blobs)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening blob store: %w", err)
	}

	manager := &Manager{
		db:           db,
		blobs:        blobs,
		logger:       logger,
		businesses:   sqlite.NewBusinessStorage(db, logger),
		sites:        sqlite.NewSiteStorage(db, logger),
		employees:    sqlite.NewEmployeeStorage(db, logger),
		workCards:    sqlite.NewWorkCardStorage(db, logger),
		dayEntries:   sqlite.NewDayEntryStorage(db, logger),
		jobs:         sqlite.NewJobStorage(db, logger),
		uploadAccess: sqlite.NewUploadAccessStorage(db, logger),
		images:       badger.NewImageStorage(blobs, logger),
	}

	logger.Info().Msg("Storage manager initialized")

	return manager, nil
}

func (m *Manager) Businesses() interfaces.BusinessStorage     { return m.businesses }
func (m *Manager) Sites() interfaces.SiteStorage              { return m.sites }
func (m *Manager) Employees() interfaces.EmployeeStorage      { return m.employees }
func (m *Manager) WorkCards() interfaces.WorkCardStorage      { return m.workCards }
func (m *Manager) DayEntries() interfaces.DayEntryStorage     { return m.dayEntries }
func (m *Manager) Jobs() interfaces.JobStorage                { return m.jobs }
func (m *Manager) UploadAccess() interfaces.UploadAccessStorage {
	return m.uploadAccess
}
func (m *Manager) Images() interfaces.ImageStorage { return m.images }

// Ping verifies the relational store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.Ping(ctx)
}

// Close closes both stores. The blob store closes first so in-flight image
// reads fail fast while the system of record stays consistent.
func (m *Manager) Close() error {
	var firstErr error
	if m.blobs != nil {
		if err := m.blobs.Close(); err != nil {
			firstErr = err
		}
	}
	if m.db != nil {
		if err := m.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
