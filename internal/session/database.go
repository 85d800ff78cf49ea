package session

import (
	"errors"
	"strings"
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

// ErrSessionExists is returned when a second open session would violate the
// one-open-session-per-user invariant.
var ErrSessionExists = errors.New("user already has an open trading session")

func (d *Database) CreateSession(sess *TradingSession) error {
	if err := d.db.Create(sess).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrSessionExists
		}
		return err
	}
	return nil
}

func (d *Database) GetSession(sessionID string) (*TradingSession, error) {
	var sess TradingSession
	if err := d.db.Where("session_id = ?", sessionID).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

func (d *Database) GetOpenSessionByUser(userID string) (*TradingSession, error) {
	var sess TradingSession
	err := d.db.
		Where("user_id = ? AND end_time IS NULL AND state IN ?", userID, OpenStates).
		First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

// TransitionSession performs a conditional state transition. It only applies
// when the session is currently in one of fromStates, so concurrent sweeps
// and stop requests cannot double-apply. Returns the number of rows changed.
func (d *Database) TransitionSession(sessionID string, fromStates []string, updates map[string]interface{}) (int64, error) {
	result := d.db.Model(&TradingSession{}).
		Where("session_id = ? AND state IN ?", sessionID, fromStates).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// TransitionOpenSessionByUser transitions whichever open session the user
// owns. Used by stop requests, which address users rather than session IDs.
func (d *Database) TransitionOpenSessionByUser(userID string, fromStates []string, updates map[string]interface{}) (int64, error) {
	result := d.db.Model(&TradingSession{}).
		Where("user_id = ? AND end_time IS NULL AND state IN ?", userID, fromStates).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (d *Database) TouchSession(sessionID string, now time.Time) error {
	return d.db.Model(&TradingSession{}).
		Where("session_id = ?", sessionID).
		Update("last_activity_time", now).Error
}

// ExpireStaleSessions moves open sessions whose last activity is older than
// cutoff to expired, setting the end time. Returns the number of sessions
// reclaimed.
func (d *Database) ExpireStaleSessions(cutoff, now time.Time) (int64, error) {
	result := d.db.Model(&TradingSession{}).
		Where("end_time IS NULL AND state IN ? AND last_activity_time < ?", OpenStates, cutoff).
		Updates(map[string]interface{}{
			"state":       StateExpired,
			"end_time":    now,
			"stopped_by":  "system",
			"stop_reason": "session stale",
		})
	return result.RowsAffected, result.Error
}

func (d *Database) SessionsInState(state string) ([]TradingSession, error) {
	var sessions []TradingSession
	if err := d.db.Where("state = ?", state).Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (d *Database) SessionsInStates(states []string) ([]TradingSession, error) {
	var sessions []TradingSession
	if err := d.db.Where("end_time IS NULL AND state IN ?", states).Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// ActiveEligibleSessions returns sessions in the active state whose owning
// settings record has the bot enabled, the user not suspended, and a broker
// token present.
func (d *Database) ActiveEligibleSessions() ([]TradingSession, error) {
	var sessions []TradingSession
	err := d.db.Model(&TradingSession{}).
		Joins("JOIN settings ON settings.user_id = trading_sessions.user_id").
		Where("trading_sessions.state = ? AND trading_sessions.end_time IS NULL", StateActive).
		Where("settings.bot_enabled = ? AND settings.suspended = ? AND settings.broker_token <> ''", true, false).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (d *Database) PendingTradeCount(sessionID string) (int64, error) {
	var count int64
	err := d.db.Model(&types.Trade{}).
		Where("session_id = ? AND status = ?", sessionID, types.TradePending).
		Count(&count).Error
	return count, err
}

func (d *Database) TradeCountSince(sessionID string, since time.Time) (int64, error) {
	var count int64
	err := d.db.Model(&types.Trade{}).
		Where("session_id = ? AND timestamp >= ?", sessionID, since).
		Count(&count).Error
	return count, err
}

func (d *Database) GetSettings(userID string) (*Settings, error) {
	var settings Settings
	if err := d.db.Where("user_id = ?", userID).First(&settings).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &settings, nil
}

func (d *Database) SaveSettings(settings *Settings) error {
	return d.db.Save(settings).Error
}

// AccumulateDailyResult adds a resolved trade's profit to the owning settings
// record. Wins increment daily_profit, losses increment daily_loss.
func (d *Database) AccumulateDailyResult(userID string, profit float64) error {
	column := "daily_profit"
	amount := profit
	if profit < 0 {
		column = "daily_loss"
		amount = -profit
	}
	return d.db.Model(&Settings{}).
		Where("user_id = ?", userID).
		Update(column, gorm.Expr(column+" + ?", amount)).Error
}

// SettingsDueForReset returns settings records whose reset date has passed.
func (d *Database) SettingsDueForReset(now time.Time) ([]Settings, error) {
	var due []Settings
	if err := d.db.Where("reset_date < ?", now).Find(&due).Error; err != nil {
		return nil, err
	}
	return due, nil
}
