package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/optrelay/signal-relay/internal/database/migrations"
	"github.com/optrelay/signal-relay/internal/dispatch"
	"github.com/optrelay/signal-relay/internal/monitor"
	"github.com/optrelay/signal-relay/internal/session"
	"github.com/optrelay/signal-relay/internal/types"
)

// NewDatabase opens the store at path and brings the schema up to date. The
// returned handle is the single synchronization point shared by the watchers,
// the dispatcher and the sweeps.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&dispatch.Signal{},
		&types.Trade{},
		&session.TradingSession{},
		&session.Settings{},
		&monitor.Entry{},
	); err != nil {
		return nil, err
	}

	if err := migrations.AddSessionGuard(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddSignalIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
