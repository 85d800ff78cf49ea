package session

import (
	"time"

	"gorm.io/gorm"
)

// Session lifecycle states. A user has at most one session in an open state
// (initializing, active, recovering) with no end time; the partial unique
// index created in the database migrations enforces this at the store level.
const (
	StateInitializing = "initializing"
	StateActive       = "active"
	StateRecovering   = "recovering"
	StateStopping     = "stopping"
	StateStopped      = "stopped"
	StateExpired      = "expired"
	StateError        = "error"
)

// OpenStates are the states that count against the one-open-session-per-user
// invariant and are candidates for the staleness sweep.
var OpenStates = []string{StateInitializing, StateActive, StateRecovering}

type TradingSession struct {
	gorm.Model         `json:"-"`
	SessionID          string     `gorm:"uniqueIndex" json:"session_id"`
	UserID             string     `gorm:"index" json:"user_id"`
	State              string     `gorm:"index" json:"state"`
	Stake              float64    `json:"stake"`
	Target             float64    `json:"target"`
	StopLimit          float64    `json:"stop_limit"`
	MaxActiveContracts int        `json:"max_active_contracts"`
	MaxDailyTrades     int        `json:"max_daily_trades"`
	StartTime          time.Time  `json:"start_time"`
	LastActivityTime   time.Time  `json:"last_activity_time"`
	EndTime            *time.Time `json:"end_time,omitempty"`
	StoppedBy          string     `json:"stopped_by,omitempty"`
	StopReason         string     `json:"stop_reason,omitempty"`
}

// Settings is the per-user record owning bot enablement, broker credentials
// and the daily profit/loss counters the daily reset acts on.
type Settings struct {
	gorm.Model   `json:"-"`
	UserID       string    `gorm:"uniqueIndex" json:"user_id"`
	BotEnabled   bool      `json:"bot_enabled"`
	Suspended    bool      `json:"suspended"`
	BrokerToken  string    `json:"-"`
	DefaultAsset string    `json:"default_asset"`
	DailyProfit  float64   `json:"daily_profit"`
	DailyLoss    float64   `json:"daily_loss"`
	ResetDate    time.Time `json:"reset_date"`
}

func (Settings) TableName() string { return "settings" }
