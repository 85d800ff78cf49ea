package migrations

import (
	"gorm.io/gorm"
)

// AddSessionGuard creates the partial unique index enforcing the
// one-open-session-per-user invariant at the store level. In-process checks
// are not enough here: watcher and cron invocations race from independent
// processes, and the store is their only synchronization point.
func AddSessionGuard(db *gorm.DB) error {
	return db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_one_open_session_per_user
		ON trading_sessions(user_id)
		WHERE end_time IS NULL
		  AND state IN ('initializing', 'active', 'recovering')
		  AND deleted_at IS NULL`).Error
}
