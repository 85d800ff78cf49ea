package types

import (
	"time"

	"gorm.io/gorm"
)

// Direction is the normalized side of a trade directive.
type Direction string

const (
	DirectionRise Direction = "RISE"
	DirectionFall Direction = "FALL"
)

// SignalSource identifies where a raw signal line was obtained.
type SignalSource string

const (
	SourceFile       SignalSource = "file"
	SourceRemoteFile SignalSource = "remote_file"
	SourceAPI        SignalSource = "api"
)

// Trade status values. A trade is append-only once it leaves "pending".
const (
	TradePending = "pending"
	TradeWon     = "won"
	TradeLost    = "lost"
)

// Trade is a broker position opened by the dispatcher on behalf of a session.
// It stays "pending" until the contract monitor resolves the underlying
// contract; ClosedAt and Profit are fixed permanently at that point.
type Trade struct {
	gorm.Model     `json:"-"`
	TradeID        string     `gorm:"uniqueIndex" json:"trade_id"`
	UserID         string     `gorm:"index" json:"user_id"`
	SessionID      string     `gorm:"index" json:"session_id"`
	ContractID     string     `gorm:"index" json:"contract_id"`
	Asset          string     `json:"asset"`
	Direction      Direction  `json:"direction"`
	Stake          float64    `json:"stake"`
	Payout         float64    `json:"payout"`
	Profit         float64    `json:"profit"`
	Status         string     `gorm:"index" json:"status"` // pending, won, lost
	RequiresReview bool       `json:"requires_review"`
	Timestamp      time.Time  `json:"timestamp"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}
