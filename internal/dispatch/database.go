package dispatch

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/optrelay/signal-relay/internal/monitor"
	"github.com/optrelay/signal-relay/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateSignal(sig *Signal) error {
	return d.db.Create(sig).Error
}

func (d *Database) GetSignal(signalID string) (*Signal, error) {
	var sig Signal
	if err := d.db.Where("signal_id = ?", signalID).First(&sig).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sig, nil
}

// RecentProcessedSignal looks for an identical raw signal that was already
// fully processed within the dedup window. Backs the duplicate outcome that
// guards against at-least-once redelivery by the upstream adapters.
func (d *Database) RecentProcessedSignal(rawText string, since time.Time) (*Signal, error) {
	var sig Signal
	err := d.db.
		Where("raw_text = ? AND processed = ? AND timestamp >= ?", rawText, true, since).
		Order("timestamp DESC").
		First(&sig).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sig, nil
}

// MarkProcessed writes the aggregate execution counters onto the signal row.
// Called exactly once per signal, after the fan-out join barrier.
func (d *Database) MarkProcessed(signalID string, total, successful, failed int, elapsedMs int64, at time.Time) error {
	return d.db.Model(&Signal{}).
		Where("signal_id = ?", signalID).
		Updates(map[string]interface{}{
			"processed":             true,
			"total_users":           total,
			"successful_executions": successful,
			"failed_executions":     failed,
			"execution_time_ms":     elapsedMs,
			"processed_at":          at,
		}).Error
}

// CreateTradeWithEntry persists a trade and its contract-monitor entry in one
// transaction so the monitor can never see a contract without its trade or
// the reverse.
func (d *Database) CreateTradeWithEntry(trade *types.Trade, entry *monitor.Entry) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(trade).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Create(entry).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

func (d *Database) TradesBySignalSession(sessionID string) ([]types.Trade, error) {
	var trades []types.Trade
	if err := d.db.Where("session_id = ?", sessionID).Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// DeleteSignalsOlderThan removes signal rows past the retention horizon.
func (d *Database) DeleteSignalsOlderThan(cutoff time.Time) (int64, error) {
	result := d.db.Unscoped().Where("timestamp < ?", cutoff).Delete(&Signal{})
	return result.RowsAffected, result.Error
}
