package monitor

import (
	"time"

	"gorm.io/gorm"
)

// Entry status values.
const (
	StatusPending  = "pending"
	StatusResolved = "resolved"
	StatusFailed   = "failed"
)

// Entry tracks one pending broker contract until the monitor determines its
// outcome or exhausts its retry budget. One-to-one with a pending Trade's
// contract ID.
type Entry struct {
	gorm.Model    `json:"-"`
	UserID        string     `gorm:"index" json:"user_id"`
	ContractID    string     `gorm:"uniqueIndex" json:"contract_id"`
	TradeID       string     `gorm:"index" json:"trade_id"`
	Status        string     `gorm:"index" json:"status"` // pending, resolved, failed
	RetryCount    int        `json:"retry_count"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
}

func (Entry) TableName() string { return "contract_monitor" }
