package migrations

import (
	"gorm.io/gorm"
)

// AddSignalIndexes adds indexes for the query patterns the pipeline leans on.
// Raw SQL for more control over composite index shapes.
func AddSignalIndexes(db *gorm.DB) error {
	indexes := []string{
		// Dedup lookup: identical raw text, processed, within the window
		`CREATE INDEX IF NOT EXISTS idx_signals_dedup
		 ON signals(raw_text, processed, timestamp)`,

		// Retention sweep
		`CREATE INDEX IF NOT EXISTS idx_signals_timestamp
		 ON signals(timestamp)`,

		// Monitor sweep over pending entries in arrival order
		`CREATE INDEX IF NOT EXISTS idx_contract_monitor_status_created
		 ON contract_monitor(status, created_at)`,

		// Pending-trade counts per session (stop finalizer, contract caps)
		`CREATE INDEX IF NOT EXISTS idx_trades_session_status
		 ON trades(session_id, status)`,

		// Staleness sweep
		`CREATE INDEX IF NOT EXISTS idx_sessions_state_activity
		 ON trading_sessions(state, last_activity_time)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}
	return nil
}
