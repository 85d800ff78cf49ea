package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/optrelay/signal-relay/internal/dispatch"
	"github.com/optrelay/signal-relay/internal/metrics"
	"github.com/optrelay/signal-relay/internal/signal"
	"github.com/optrelay/signal-relay/internal/source"
	"github.com/optrelay/signal-relay/internal/types"
)

// Dispatcher is the downstream the watcher hands parsed directives to.
type Dispatcher interface {
	Receive(ctx context.Context, directive signal.Directive, src types.SignalSource) (*dispatch.Receipt, error)
}

// Config bounds the watcher's polling and failure behavior.
type Config struct {
	PollInterval time.Duration
	// ErrorThreshold is how many consecutive fetch/dispatch failures trigger
	// one backoff pause.
	ErrorThreshold int
	// Backoff is a fixed pause, not exponential: the polling cadence is short
	// and an unbounded backoff would delay live signals.
	Backoff time.Duration
}

// emptyFingerprint is the sentinel for "nothing processed yet" and for empty
// upstream content.
const emptyFingerprint = ""

// Watcher drives one source adapter on a fixed interval, detects genuine
// content changes by fingerprint, and hands new content to the parser and
// dispatcher. Watchers share no mutable state with each other; the database
// is the only coordination point.
type Watcher struct {
	src        source.Source
	dispatcher Dispatcher
	sourceKind types.SignalSource
	cfg        Config
	logger     zerolog.Logger

	lastFingerprint string
	errCount        int
}

func New(src source.Source, dispatcher Dispatcher, sourceKind types.SignalSource, cfg Config) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 10
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 30 * time.Second
	}
	return &Watcher{
		src:        src,
		dispatcher: dispatcher,
		sourceKind: sourceKind,
		cfg:        cfg,
		logger:     log.With().Str("component", "watcher").Str("source", src.Name()).Logger(),
	}
}

// Run polls until ctx is cancelled. Cancellation is observed within at most
// one poll interval. A single failure never terminates the loop; consecutive
// failures up to the threshold trigger one fixed backoff pause and reset the
// counter.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info().Dur("interval", w.cfg.PollInterval).Msg("starting signal watcher")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("shutting down signal watcher")
			return
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				w.errCount++
				metrics.WatcherErrors.WithLabelValues(w.src.Name()).Inc()
				w.logger.Error().Err(err).Int("consecutive_errors", w.errCount).Msg("watcher tick failed")

				if w.errCount >= w.cfg.ErrorThreshold {
					w.logger.Warn().Dur("backoff", w.cfg.Backoff).Msg("error threshold reached, backing off")
					select {
					case <-ctx.Done():
						return
					case <-time.After(w.cfg.Backoff):
					}
					w.errCount = 0
				}
				continue
			}
			w.errCount = 0
		}
	}
}

// Tick performs one poll cycle. It is idempotent against unchanged content
// and safe for an external scheduler to call directly instead of Run.
func (w *Watcher) Tick(ctx context.Context) error {
	content, ok, err := w.src.Fetch(ctx)
	if err != nil {
		return err
	}

	trimmed := strings.TrimSpace(content)
	if !ok || trimmed == "" {
		// Nothing pending. Reset the fingerprint so the same content showing
		// up again later is treated as new.
		w.lastFingerprint = emptyFingerprint
		return nil
	}

	fp := fingerprint(trimmed)
	if fp == w.lastFingerprint {
		// Timestamp or size churn without a content change is a no-op.
		return nil
	}

	directive, err := signal.Parse(trimmed)
	if err != nil {
		// Bad content stays upstream for operator inspection and the
		// fingerprint is not advanced, so it is retried every tick until
		// fixed. Deliberately loud rather than silently dropped.
		metrics.ParseErrors.WithLabelValues(w.src.Name()).Inc()
		w.logger.Warn().Err(err).Str("raw_text", trimmed).Msg("unparseable signal content")
		return nil
	}

	receipt, err := w.dispatcher.Receive(ctx, directive, w.sourceKind)
	if err != nil {
		return err
	}

	// The signal row is durably recorded at this point (dispatch success or
	// duplicate), so advancing the fingerprint and clearing upstream is safe.
	w.lastFingerprint = fp

	if err := w.src.Clear(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("failed to clear upstream signal artifact")
	}

	if receipt.Duplicate {
		w.logger.Info().Str("signal_id", receipt.SignalID).Msg("signal already processed")
	} else {
		w.logger.Info().
			Str("signal_id", receipt.SignalID).
			Int("total_users", receipt.TotalUsers).
			Int("successful", receipt.Successful).
			Int("failed", receipt.Failed).
			Msg("signal dispatched")
	}
	return nil
}

func fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
