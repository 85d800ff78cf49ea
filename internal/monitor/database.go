package monitor

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/optrelay/signal-relay/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) PendingEntries() ([]Entry, error) {
	var entries []Entry
	if err := d.db.Where("status = ?", StatusPending).Order("created_at").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (d *Database) GetEntryByContract(contractID string) (*Entry, error) {
	var entry Entry
	if err := d.db.Where("contract_id = ?", contractID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// RecordAttempt bumps the retry counter and check timestamp after a transient
// lookup failure.
func (d *Database) RecordAttempt(entryID uint, now time.Time) error {
	return d.db.Model(&Entry{}).
		Where("id = ?", entryID).
		Updates(map[string]interface{}{
			"retry_count":     gorm.Expr("retry_count + 1"),
			"last_checked_at": now,
		}).Error
}

// MarkEntry transitions a pending entry to resolved or failed. The condition
// on the current status makes the transition idempotent under concurrent
// sweeps. Returns the number of rows changed.
func (d *Database) MarkEntry(entryID uint, status string, now time.Time) (int64, error) {
	result := d.db.Model(&Entry{}).
		Where("id = ? AND status = ?", entryID, StatusPending).
		Updates(map[string]interface{}{
			"status":          status,
			"last_checked_at": now,
		})
	return result.RowsAffected, result.Error
}

func (d *Database) GetTrade(tradeID string) (*types.Trade, error) {
	var trade types.Trade
	if err := d.db.Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

// FinalizeTrade writes the terminal status, profit and close time onto a
// still-pending trade. The status condition guarantees the trade is finalized
// exactly once; a second sweep racing on the same contract changes nothing.
func (d *Database) FinalizeTrade(tradeID, status string, profit float64, closedAt time.Time) (int64, error) {
	result := d.db.Model(&types.Trade{}).
		Where("trade_id = ? AND status = ?", tradeID, types.TradePending).
		Updates(map[string]interface{}{
			"status":    status,
			"profit":    profit,
			"closed_at": closedAt,
		})
	return result.RowsAffected, result.Error
}

// FlagTradeForReview marks a pending trade whose monitor entry exhausted its
// retries. The trade keeps its pending status: no outcome is fabricated.
func (d *Database) FlagTradeForReview(tradeID string) error {
	return d.db.Model(&types.Trade{}).
		Where("trade_id = ? AND status = ?", tradeID, types.TradePending).
		Update("requires_review", true).Error
}
