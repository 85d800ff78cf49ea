package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/optrelay/signal-relay/internal/broker"
	"github.com/optrelay/signal-relay/internal/metrics"
	"github.com/optrelay/signal-relay/internal/monitor"
	"github.com/optrelay/signal-relay/internal/session"
	"github.com/optrelay/signal-relay/internal/signal"
	"github.com/optrelay/signal-relay/internal/types"
)

// Service fans a normalized directive out to every eligible trading session
// exactly once per signal. Per-session submissions run concurrently; the
// signal's aggregate counters are written only after all of them complete.
type Service struct {
	db          *Database
	sessions    *session.Service
	broker      broker.Client
	dedupWindow time.Duration
}

func NewService(gormDB *gorm.DB, sessions *session.Service, brokerClient broker.Client, dedupWindow time.Duration) *Service {
	return &Service{
		db:          NewDatabase(gormDB),
		sessions:    sessions,
		broker:      brokerClient,
		dedupWindow: dedupWindow,
	}
}

// Receive persists the directive as a signal row, submits one trade per
// eligible session and records the aggregate outcome. Redelivery of an
// already-processed raw signal within the dedup window yields a duplicate
// receipt and no trade placements. Zero eligible sessions is a valid,
// non-error outcome.
func (s *Service) Receive(ctx context.Context, directive signal.Directive, src types.SignalSource) (*Receipt, error) {
	// Cancellation gates starting new work only. Checked once here; the
	// submissions below run detached so a placement the broker may already be
	// executing is never abandoned half-recorded.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("component", "dispatcher").
		Str("source", string(src)).
		Str("asset", directive.Asset).
		Str("direction", string(directive.Type)).
		Logger()

	existing, err := s.db.RecentProcessedSignal(directive.RawText, time.Now().Add(-s.dedupWindow))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		metrics.SignalsDuplicate.Inc()
		logger.Info().Str("signal_id", existing.SignalID).Msg("duplicate signal, skipping fan-out")
		return &Receipt{
			SignalID:   existing.SignalID,
			Duplicate:  true,
			TotalUsers: existing.TotalUsers,
			Successful: existing.SuccessfulExecutions,
			Failed:     existing.FailedExecutions,
		}, nil
	}

	sig := &Signal{
		SignalID:   "SIG_" + uuid.New().String(),
		SignalType: directive.Type,
		Asset:      directive.Asset,
		RawText:    directive.RawText,
		Source:     src,
		Timestamp:  time.Now(),
	}
	if err := s.db.CreateSignal(sig); err != nil {
		return nil, err
	}

	eligible, err := s.sessions.EligibleSessions(ctx)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("signal_id", sig.SignalID).
		Int("eligible_sessions", len(eligible)).
		Msg("dispatching signal")

	start := time.Now()
	var (
		mu         sync.Mutex
		successful int
		failed     int
		wg         sync.WaitGroup
	)

	// In-flight submissions must complete and be recorded even if the caller
	// shuts down mid-batch.
	detached := context.WithoutCancel(ctx)

	for _, target := range eligible {
		wg.Add(1)
		go func(target session.Eligible) {
			defer wg.Done()
			if err := s.submit(detached, sig, directive, target); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			mu.Lock()
			successful++
			mu.Unlock()
		}(target)
	}
	wg.Wait()

	elapsed := time.Since(start).Milliseconds()
	now := time.Now()
	if err := s.db.MarkProcessed(sig.SignalID, len(eligible), successful, failed, elapsed, now); err != nil {
		return nil, err
	}

	metrics.SignalsProcessed.WithLabelValues(string(src)).Inc()
	logger.Info().
		Str("signal_id", sig.SignalID).
		Int("total_users", len(eligible)).
		Int("successful", successful).
		Int("failed", failed).
		Int64("execution_time_ms", elapsed).
		Msg("signal processed")

	return &Receipt{
		SignalID:   sig.SignalID,
		TotalUsers: len(eligible),
		Successful: successful,
		Failed:     failed,
	}, nil
}

// submit places one trade for one session. Failures are isolated here: an
// error for one user never aborts the batch, it only counts against the
// signal's failed_executions.
func (s *Service) submit(ctx context.Context, sig *Signal, directive signal.Directive, target session.Eligible) error {
	logger := log.With().
		Str("component", "dispatcher").
		Str("signal_id", sig.SignalID).
		Str("session_id", target.Session.SessionID).
		Str("user_id", target.Session.UserID).
		Logger()

	asset := directive.Asset
	if asset == "" {
		asset = target.Settings.DefaultAsset
	}

	placement, err := s.broker.PlaceTrade(ctx, target.Session.UserID, asset, directive.Type, target.Session.Stake)
	if err != nil {
		metrics.TradeFailures.Inc()
		logger.Warn().Err(err).Msg("trade placement failed")
		if broker.IsTransient(err) {
			if rerr := s.sessions.MarkRecovering(ctx, target.Session.SessionID, err.Error()); rerr != nil {
				logger.Error().Err(rerr).Msg("failed to mark session recovering")
			}
		}
		return err
	}

	trade := &types.Trade{
		TradeID:    "TRD_" + uuid.New().String(),
		UserID:     target.Session.UserID,
		SessionID:  target.Session.SessionID,
		ContractID: placement.ContractID,
		Asset:      asset,
		Direction:  directive.Type,
		Stake:      target.Session.Stake,
		Payout:     placement.Payout,
		Status:     types.TradePending,
		Timestamp:  time.Now(),
	}
	entry := &monitor.Entry{
		UserID:     target.Session.UserID,
		ContractID: placement.ContractID,
		TradeID:    trade.TradeID,
		Status:     monitor.StatusPending,
	}

	if err := s.db.CreateTradeWithEntry(trade, entry); err != nil {
		logger.Error().Err(err).Msg("failed to persist trade")
		return err
	}

	if err := s.sessions.Touch(target.Session.SessionID); err != nil {
		logger.Warn().Err(err).Msg("failed to touch session activity")
	}

	metrics.TradesPlaced.Inc()
	logger.Info().
		Str("trade_id", trade.TradeID).
		Str("contract_id", trade.ContractID).
		Float64("stake", trade.Stake).
		Msg("trade placed")
	return nil
}

// GetSignal returns a signal row with its execution counters.
func (s *Service) GetSignal(signalID string) (*Signal, error) {
	return s.db.GetSignal(signalID)
}

// PruneSignals deletes signals older than maxAge. Retention sweep.
func (s *Service) PruneSignals(maxAge time.Duration) (int64, error) {
	removed, err := s.db.DeleteSignalsOlderThan(time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Info().
			Str("component", "dispatcher").
			Int64("removed", removed).
			Msg("pruned old signals")
	}
	return removed, nil
}
