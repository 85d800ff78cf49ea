package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/optrelay/signal-relay/internal/broker"
	"github.com/optrelay/signal-relay/internal/metrics"
	"github.com/optrelay/signal-relay/internal/session"
)

// Monitor reconciles pending broker contracts: it polls contract outcomes,
// retries transient lookup failures up to a bounded retry count, finalizes
// the linked trades exactly once and rolls profits into the owning session's
// daily accounting.
type Monitor struct {
	db         *Database
	sessions   *session.Service
	broker     broker.Client
	interval   time.Duration
	maxRetries int
}

func New(gormDB *gorm.DB, sessions *session.Service, brokerClient broker.Client, interval time.Duration, maxRetries int) *Monitor {
	return &Monitor{
		db:         NewDatabase(gormDB),
		sessions:   sessions,
		broker:     brokerClient,
		interval:   interval,
		maxRetries: maxRetries,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	logger := log.With().Str("component", "contract_monitor").Logger()
	logger.Info().Dur("interval", m.interval).Msg("starting contract monitor")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down contract monitor")
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// Sweep processes every pending entry once. It is idempotent and safe to call
// from an external scheduler as well as the Start loop.
func (m *Monitor) Sweep(ctx context.Context) error {
	logger := log.With().Str("component", "contract_monitor").Logger()

	entries, err := m.db.PendingEntries()
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		logger.Debug().Int("pending_count", len(entries)).Msg("sweeping pending contracts")
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.checkEntry(ctx, entry); err != nil {
			logger.Error().Err(err).
				Str("contract_id", entry.ContractID).
				Msg("failed to process monitor entry")
		}
	}
	return nil
}

func (m *Monitor) checkEntry(ctx context.Context, entry Entry) error {
	logger := log.With().
		Str("component", "contract_monitor").
		Str("contract_id", entry.ContractID).
		Str("trade_id", entry.TradeID).
		Logger()

	result, err := m.broker.ContractStatus(ctx, entry.ContractID)
	if err != nil {
		// A lookup aborted by shutdown is not a broker attempt; the retry
		// budget stays untouched and the entry is retried on the next sweep.
		if errors.Is(err, context.Canceled) {
			return err
		}

		now := time.Now()
		if !broker.IsTransient(err) {
			logger.Warn().Err(err).Msg("non-transient contract lookup failure")
		}

		// retry_count counts the attempt just made
		if entry.RetryCount+1 > m.maxRetries {
			return m.exhaust(ctx, entry, now)
		}
		if rerr := m.db.RecordAttempt(entry.ID, now); rerr != nil {
			return rerr
		}
		logger.Debug().Int("retry_count", entry.RetryCount+1).Msg("contract not resolved yet")
		return nil
	}

	return m.finalize(ctx, entry, result)
}

// finalize writes the trade outcome and rolls it into the session's daily
// counters. The conditional trade update makes the whole path exactly-once:
// if another sweep already finalized this contract, both updates are no-ops.
func (m *Monitor) finalize(ctx context.Context, entry Entry, result *broker.ContractResult) error {
	logger := log.With().
		Str("component", "contract_monitor").
		Str("contract_id", entry.ContractID).
		Str("trade_id", entry.TradeID).
		Logger()

	now := time.Now()
	rows, err := m.db.FinalizeTrade(entry.TradeID, result.Status, result.Profit, now)
	if err != nil {
		return err
	}
	if rows == 0 {
		// Another sweep got here first; just retire the entry.
		_, err := m.db.MarkEntry(entry.ID, StatusResolved, now)
		return err
	}

	if _, err := m.db.MarkEntry(entry.ID, StatusResolved, now); err != nil {
		return err
	}

	trade, err := m.db.GetTrade(entry.TradeID)
	if err != nil {
		return err
	}
	if trade != nil {
		if err := m.sessions.ApplyTradeResult(ctx, trade.SessionID, trade.UserID, result.Profit); err != nil {
			return err
		}
	}

	metrics.ContractsResolved.WithLabelValues(result.Status).Inc()
	logger.Info().
		Str("result", result.Status).
		Float64("profit", result.Profit).
		Msg("contract resolved")
	return nil
}

// exhaust retires an entry whose retry budget ran out. The linked trade stays
// pending but is flagged for manual reconciliation; the monitor never invents
// an outcome the broker did not report.
func (m *Monitor) exhaust(ctx context.Context, entry Entry, now time.Time) error {
	rows, err := m.db.MarkEntry(entry.ID, StatusFailed, now)
	if err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}

	if err := m.db.FlagTradeForReview(entry.TradeID); err != nil {
		return err
	}

	metrics.MonitorRetriesExhausted.Inc()
	log.Warn().
		Str("component", "contract_monitor").
		Str("contract_id", entry.ContractID).
		Str("trade_id", entry.TradeID).
		Int("retry_count", entry.RetryCount+1).
		Msg("retry budget exhausted, trade flagged for manual reconciliation")
	return nil
}
