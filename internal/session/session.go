package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/optrelay/signal-relay/internal/broker"
)

// Service owns the trading session lifecycle: start, stop, recovery, the
// staleness sweep and the daily reset. All coordination with concurrent
// watcher and sweep invocations goes through conditional updates in the
// relational store, never through in-process state.
type Service struct {
	db     *Database
	broker broker.Client
}

func NewService(gormDB *gorm.DB, brokerClient broker.Client) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		broker: brokerClient,
	}
}

// StartParams carries the risk parameters a new session is created with.
type StartParams struct {
	Stake              float64 `json:"stake" binding:"required,gt=0"`
	Target             float64 `json:"target"`
	StopLimit          float64 `json:"stop_limit"`
	MaxActiveContracts int     `json:"max_active_contracts"`
	MaxDailyTrades     int     `json:"max_daily_trades"`
}

var ErrNoSettings = errors.New("user has no settings record")
var ErrUserSuspended = errors.New("user is suspended")
var ErrNoOpenSession = errors.New("user has no open trading session")

// Start creates a session in initializing and promotes it to active once the
// user's broker credential validates. The partial unique index makes a second
// concurrent Start for the same user fail with ErrSessionExists regardless of
// which process it runs in.
func (s *Service) Start(ctx context.Context, userID string, params StartParams) (*TradingSession, error) {
	logger := log.With().
		Str("component", "session").
		Str("user_id", userID).
		Logger()

	settings, err := s.db.GetSettings(userID)
	if err != nil {
		return nil, fmt.Errorf("fetch settings: %w", err)
	}
	if settings == nil {
		return nil, ErrNoSettings
	}
	if settings.Suspended {
		return nil, ErrUserSuspended
	}

	now := time.Now()
	sess := &TradingSession{
		SessionID:          "SES_" + uuid.New().String(),
		UserID:             userID,
		State:              StateInitializing,
		Stake:              params.Stake,
		Target:             params.Target,
		StopLimit:          params.StopLimit,
		MaxActiveContracts: params.MaxActiveContracts,
		MaxDailyTrades:     params.MaxDailyTrades,
		StartTime:          now,
		LastActivityTime:   now,
	}

	if err := s.db.CreateSession(sess); err != nil {
		return nil, err
	}

	logger.Info().Str("session_id", sess.SessionID).Msg("session created")

	if err := s.activate(ctx, sess, settings); err != nil {
		logger.Warn().Err(err).
			Str("session_id", sess.SessionID).
			Msg("session not activated yet")
	}

	refreshed, err := s.db.GetSession(sess.SessionID)
	if err != nil {
		return nil, err
	}
	return refreshed, nil
}

// activate validates the broker credential and moves the session from
// initializing (or recovering) to active. Transient validation failures leave
// the session where it is for the revalidation sweep to retry; permanent
// failures move it to error.
func (s *Service) activate(ctx context.Context, sess *TradingSession, settings *Settings) error {
	err := s.broker.ValidateCredentials(ctx, settings.BrokerToken)
	if err == nil {
		_, terr := s.db.TransitionSession(sess.SessionID,
			[]string{StateInitializing, StateRecovering},
			map[string]interface{}{
				"state":              StateActive,
				"last_activity_time": time.Now(),
			})
		return terr
	}

	if broker.IsTransient(err) {
		return err
	}

	now := time.Now()
	_, terr := s.db.TransitionSession(sess.SessionID,
		[]string{StateInitializing, StateRecovering},
		map[string]interface{}{
			"state":       StateError,
			"end_time":    now,
			"stopped_by":  "system",
			"stop_reason": "broker credential validation failed",
		})
	if terr != nil {
		return terr
	}
	return err
}

// RequestStop moves the user's open session to stopping. The session is
// finalized to stopped by FinalizeStops once its pending contracts resolve.
func (s *Service) RequestStop(ctx context.Context, userID, stoppedBy, reason string) error {
	rows, err := s.db.TransitionOpenSessionByUser(userID, OpenStates, map[string]interface{}{
		"state":              StateStopping,
		"stopped_by":         stoppedBy,
		"stop_reason":        reason,
		"last_activity_time": time.Now(),
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNoOpenSession
	}

	log.Info().
		Str("component", "session").
		Str("user_id", userID).
		Str("stopped_by", stoppedBy).
		Str("stop_reason", reason).
		Msg("session stop requested")
	return nil
}

// FinalizeStops moves stopping sessions with no pending trades to stopped,
// setting the end time. Sessions with in-flight contracts stay in stopping so
// the monitor can still count their results.
func (s *Service) FinalizeStops(ctx context.Context) error {
	stopping, err := s.db.SessionsInState(StateStopping)
	if err != nil {
		return err
	}

	for _, sess := range stopping {
		pending, err := s.db.PendingTradeCount(sess.SessionID)
		if err != nil {
			return err
		}
		if pending > 0 {
			continue
		}

		rows, err := s.db.TransitionSession(sess.SessionID,
			[]string{StateStopping},
			map[string]interface{}{
				"state":    StateStopped,
				"end_time": time.Now(),
			})
		if err != nil {
			return err
		}
		if rows > 0 {
			log.Info().
				Str("component", "session").
				Str("session_id", sess.SessionID).
				Str("user_id", sess.UserID).
				Msg("session stopped")
		}
	}
	return nil
}

// MarkRecovering flags an active session after a transient broker fault.
// Recovering sessions are not dispatch-eligible until revalidation succeeds.
func (s *Service) MarkRecovering(ctx context.Context, sessionID, reason string) error {
	rows, err := s.db.TransitionSession(sessionID,
		[]string{StateActive},
		map[string]interface{}{
			"state":              StateRecovering,
			"last_activity_time": time.Now(),
		})
	if err != nil {
		return err
	}
	if rows > 0 {
		log.Warn().
			Str("component", "session").
			Str("session_id", sessionID).
			Str("reason", reason).
			Msg("session entered recovery")
	}
	return nil
}

// Revalidate retries broker credential validation for sessions stuck in
// initializing or recovering and promotes them back to active.
func (s *Service) Revalidate(ctx context.Context) error {
	candidates, err := s.db.SessionsInStates([]string{StateInitializing, StateRecovering})
	if err != nil {
		return err
	}

	for _, sess := range candidates {
		settings, err := s.db.GetSettings(sess.UserID)
		if err != nil {
			return err
		}
		if settings == nil {
			continue
		}
		sess := sess
		if err := s.activate(ctx, &sess, settings); err != nil {
			log.Debug().
				Str("component", "session").
				Str("session_id", sess.SessionID).
				Err(err).
				Msg("revalidation attempt failed")
		}
	}
	return nil
}

// ExpireStale reclaims open sessions left behind by crashed watchers: any
// open session idle longer than threshold becomes expired with its end time
// set. Returns the number of sessions reclaimed.
func (s *Service) ExpireStale(ctx context.Context, threshold time.Duration) (int64, error) {
	now := time.Now()
	reclaimed, err := s.db.ExpireStaleSessions(now.Add(-threshold), now)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		log.Info().
			Str("component", "session").
			Int64("reclaimed", reclaimed).
			Msg("expired stale sessions")
	}
	return reclaimed, nil
}

// ResetDaily zeroes daily profit/loss counters on settings records whose
// reset date has passed, then advances the reset date by one day. The sweep
// runs every minute, so a record several days behind catches up across a few
// passes rather than jumping.
func (s *Service) ResetDaily(ctx context.Context, now time.Time) error {
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	due, err := s.db.SettingsDueForReset(startOfToday)
	if err != nil {
		return err
	}

	for _, settings := range due {
		settings.DailyProfit = 0
		settings.DailyLoss = 0
		settings.ResetDate = settings.ResetDate.AddDate(0, 0, 1)
		if err := s.db.SaveSettings(&settings); err != nil {
			return err
		}
		log.Info().
			Str("component", "session").
			Str("user_id", settings.UserID).
			Time("next_reset", settings.ResetDate).
			Msg("daily counters reset")
	}
	return nil
}

// Eligible pairs an active session with its owning settings record.
type Eligible struct {
	Session  TradingSession
	Settings Settings
}

// EligibleSessions returns the sessions the dispatcher may submit trades to:
// active state, bot enabled, user not suspended, broker token present, and
// within the session's own contract and daily-trade caps.
func (s *Service) EligibleSessions(ctx context.Context) ([]Eligible, error) {
	sessions, err := s.db.ActiveEligibleSessions()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	eligible := make([]Eligible, 0, len(sessions))
	for _, sess := range sessions {
		if sess.MaxActiveContracts > 0 {
			pending, err := s.db.PendingTradeCount(sess.SessionID)
			if err != nil {
				return nil, err
			}
			if pending >= int64(sess.MaxActiveContracts) {
				continue
			}
		}
		if sess.MaxDailyTrades > 0 {
			placed, err := s.db.TradeCountSince(sess.SessionID, startOfToday)
			if err != nil {
				return nil, err
			}
			if placed >= int64(sess.MaxDailyTrades) {
				continue
			}
		}

		settings, err := s.db.GetSettings(sess.UserID)
		if err != nil {
			return nil, err
		}
		if settings == nil {
			continue
		}
		eligible = append(eligible, Eligible{Session: sess, Settings: *settings})
	}
	return eligible, nil
}

// Touch records dispatcher activity on a session so the staleness sweep does
// not reclaim it mid-trade.
func (s *Service) Touch(sessionID string) error {
	return s.db.TouchSession(sessionID, time.Now())
}

// ApplyTradeResult rolls a resolved trade's profit into the owning user's
// daily counters and stops the session automatically when the daily target or
// stop limit is crossed.
func (s *Service) ApplyTradeResult(ctx context.Context, sessionID, userID string, profit float64) error {
	if err := s.db.AccumulateDailyResult(userID, profit); err != nil {
		return fmt.Errorf("accumulate daily result: %w", err)
	}

	sess, err := s.db.GetSession(sessionID)
	if err != nil {
		return err
	}
	settings, err := s.db.GetSettings(userID)
	if err != nil {
		return err
	}
	if sess == nil || settings == nil {
		return nil
	}

	switch {
	case sess.Target > 0 && settings.DailyProfit >= sess.Target:
		if err := s.RequestStop(ctx, userID, "system", "daily target reached"); err != nil && !errors.Is(err, ErrNoOpenSession) {
			return err
		}
	case sess.StopLimit > 0 && settings.DailyLoss >= sess.StopLimit:
		if err := s.RequestStop(ctx, userID, "system", "daily stop limit reached"); err != nil && !errors.Is(err, ErrNoOpenSession) {
			return err
		}
	}
	return nil
}

// GetOpenSession returns the user's open session, if any.
func (s *Service) GetOpenSession(userID string) (*TradingSession, error) {
	return s.db.GetOpenSessionByUser(userID)
}

// UpsertSettings creates or replaces a user's settings record. Used by the
// simulation seeder and operational tooling.
func (s *Service) UpsertSettings(settings *Settings) error {
	existing, err := s.db.GetSettings(settings.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		settings.ID = existing.ID
	}
	return s.db.SaveSettings(settings)
}
