package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/optrelay/signal-relay/internal/broker"
	"github.com/optrelay/signal-relay/internal/database"
	"github.com/optrelay/signal-relay/internal/dispatch"
	"github.com/optrelay/signal-relay/internal/monitor"
	"github.com/optrelay/signal-relay/internal/session"
	"github.com/optrelay/signal-relay/internal/signal"
	"github.com/optrelay/signal-relay/internal/types"
)

// scriptedBroker validates every credential and places trades according to a
// per-user script: nil means success, any other error is returned as-is.
type scriptedBroker struct {
	mu        sync.Mutex
	placeErrs map[string]error
	placed    []string
	seq       int
}

func (f *scriptedBroker) PlaceTrade(ctx context.Context, userID, asset string, direction types.Direction, stake float64) (*broker.Placement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.placeErrs[userID]; err != nil {
		return nil, err
	}
	f.seq++
	f.placed = append(f.placed, userID)
	return &broker.Placement{
		TradeID:    fmt.Sprintf("BRK_%d", f.seq),
		ContractID: fmt.Sprintf("CON_%d", f.seq),
		Payout:     stake * 1.85,
	}, nil
}

func (f *scriptedBroker) ContractStatus(ctx context.Context, contractID string) (*broker.ContractResult, error) {
	return nil, broker.Transient(errors.New("not settled"))
}

func (f *scriptedBroker) ValidateCredentials(ctx context.Context, token string) error {
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db
}

func startSession(t *testing.T, svc *session.Service, userID string) *session.TradingSession {
	t.Helper()
	require.NoError(t, svc.UpsertSettings(&session.Settings{
		UserID:       userID,
		BotEnabled:   true,
		BrokerToken:  "tok-" + userID,
		DefaultAsset: "R_50",
		ResetDate:    time.Now().AddDate(0, 0, 1),
	}))
	sess, err := svc.Start(context.Background(), userID, session.StartParams{Stake: 10})
	require.NoError(t, err)
	require.Equal(t, session.StateActive, sess.State)
	return sess
}

func riseDirective(rawText string) signal.Directive {
	return signal.Directive{
		Asset:     "BTCUSD",
		Type:      types.DirectionRise,
		RawText:   rawText,
		Timestamp: "1700000000",
	}
}

func TestReceive_FanOutToEligibleSessions(t *testing.T) {
	db := newTestDB(t)
	fb := &scriptedBroker{}
	sessions := session.NewService(db, fb)
	dispatcher := dispatch.NewService(db, sessions, fb, 5*time.Minute)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		startSession(t, sessions, fmt.Sprintf("u%d", i))
	}

	receipt, err := dispatcher.Receive(ctx, riseDirective("BTCUSD,Buy signal,1700000000"), types.SourceFile)
	require.NoError(t, err)
	assert.False(t, receipt.Duplicate)
	assert.Equal(t, 3, receipt.TotalUsers)
	assert.Equal(t, 3, receipt.Successful)
	assert.Zero(t, receipt.Failed)

	sig, err := dispatcher.GetSignal(receipt.SignalID)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.True(t, sig.Processed)
	assert.NotNil(t, sig.ProcessedAt)
	assert.Equal(t, types.DirectionRise, sig.SignalType)
	assert.Equal(t, "BTCUSD", sig.Asset)

	var trades []types.Trade
	require.NoError(t, db.Find(&trades).Error)
	require.Len(t, trades, 3)
	for _, trade := range trades {
		assert.Equal(t, types.TradePending, trade.Status)
		assert.Equal(t, "BTCUSD", trade.Asset)
		assert.Equal(t, types.DirectionRise, trade.Direction)
		assert.Equal(t, 10.0, trade.Stake)
	}

	var entries []monitor.Entry
	require.NoError(t, db.Find(&entries).Error)
	assert.Len(t, entries, 3, "each placed trade gets a monitor entry")
}

func TestReceive_ZeroEligibleSessions(t *testing.T) {
	db := newTestDB(t)
	fb := &scriptedBroker{}
	sessions := session.NewService(db, fb)
	dispatcher := dispatch.NewService(db, sessions, fb, 5*time.Minute)

	receipt, err := dispatcher.Receive(context.Background(), riseDirective("BTCUSD,Buy,1"), types.SourceFile)
	require.NoError(t, err)
	assert.Zero(t, receipt.TotalUsers)
	assert.Zero(t, receipt.Successful)
	assert.Zero(t, receipt.Failed)

	sig, err := dispatcher.GetSignal(receipt.SignalID)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.True(t, sig.Processed, "zero eligible sessions is still a processed signal")
}

func TestReceive_DuplicateWithinWindow(t *testing.T) {
	db := newTestDB(t)
	fb := &scriptedBroker{}
	sessions := session.NewService(db, fb)
	dispatcher := dispatch.NewService(db, sessions, fb, 5*time.Minute)
	ctx := context.Background()

	startSession(t, sessions, "u1")

	first, err := dispatcher.Receive(ctx, riseDirective("BTCUSD,Buy signal,1700000000"), types.SourceFile)
	require.NoError(t, err)
	require.Equal(t, 1, first.Successful)

	second, err := dispatcher.Receive(ctx, riseDirective("BTCUSD,Buy signal,1700000000"), types.SourceRemoteFile)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.SignalID, second.SignalID)

	var trades []types.Trade
	require.NoError(t, db.Find(&trades).Error)
	assert.Len(t, trades, 1, "duplicate redelivery must not place trades")
}

func TestReceive_ExpiredDedupWindowDispatchesAgain(t *testing.T) {
	db := newTestDB(t)
	fb := &scriptedBroker{}
	sessions := session.NewService(db, fb)
	dispatcher := dispatch.NewService(db, sessions, fb, 50*time.Millisecond)
	ctx := context.Background()

	startSession(t, sessions, "u1")

	first, err := dispatcher.Receive(ctx, riseDirective("BTCUSD,Buy signal,1700000000"), types.SourceFile)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	second, err := dispatcher.Receive(ctx, riseDirective("BTCUSD,Buy signal,1700000000"), types.SourceFile)
	require.NoError(t, err)
	assert.False(t, second.Duplicate)
	assert.NotEqual(t, first.SignalID, second.SignalID)
}

func TestReceive_PerUserFailureIsolated(t *testing.T) {
	db := newTestDB(t)
	fb := &scriptedBroker{placeErrs: map[string]error{
		"u2": errors.New("insufficient balance"),
	}}
	sessions := session.NewService(db, fb)
	dispatcher := dispatch.NewService(db, sessions, fb, 5*time.Minute)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		startSession(t, sessions, fmt.Sprintf("u%d", i))
	}

	receipt, err := dispatcher.Receive(ctx, riseDirective("BTCUSD,Buy signal,1700000000"), types.SourceFile)
	require.NoError(t, err)
	assert.Equal(t, 3, receipt.TotalUsers)
	assert.Equal(t, 2, receipt.Successful)
	assert.Equal(t, 1, receipt.Failed)

	var trades []types.Trade
	require.NoError(t, db.Find(&trades).Error)
	assert.Len(t, trades, 2)
	for _, trade := range trades {
		assert.NotEqual(t, "u2", trade.UserID)
	}
}

func TestReceive_TransientPlacementMarksSessionRecovering(t *testing.T) {
	db := newTestDB(t)
	fb := &scriptedBroker{placeErrs: map[string]error{
		"u1": broker.Transient(errors.New("broker unreachable")),
	}}
	sessions := session.NewService(db, fb)
	dispatcher := dispatch.NewService(db, sessions, fb, 5*time.Minute)
	ctx := context.Background()

	sess := startSession(t, sessions, "u1")

	receipt, err := dispatcher.Receive(ctx, riseDirective("BTCUSD,Buy signal,1700000000"), types.SourceFile)
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Failed)

	var current session.TradingSession
	require.NoError(t, db.Where("session_id = ?", sess.SessionID).First(&current).Error)
	assert.Equal(t, session.StateRecovering, current.State)
}

func TestReceive_EmptyAssetFallsBackToDefault(t *testing.T) {
	db := newTestDB(t)
	fb := &scriptedBroker{}
	sessions := session.NewService(db, fb)
	dispatcher := dispatch.NewService(db, sessions, fb, 5*time.Minute)
	ctx := context.Background()

	startSession(t, sessions, "u1")

	directive := signal.Directive{
		Type:      types.DirectionFall,
		RawText:   ",Sell now,1700000000",
		Timestamp: "1700000000",
	}
	_, err := dispatcher.Receive(ctx, directive, types.SourceAPI)
	require.NoError(t, err)

	var trade types.Trade
	require.NoError(t, db.First(&trade).Error)
	assert.Equal(t, "R_50", trade.Asset)
}

// gatedBroker blocks PlaceTrade until released, signalling when the call has
// started. Placement aborts if its own context is cancelled.
type gatedBroker struct {
	scriptedBroker
	started chan struct{}
	release chan struct{}
}

func (f *gatedBroker) PlaceTrade(ctx context.Context, userID, asset string, direction types.Direction, stake float64) (*broker.Placement, error) {
	close(f.started)
	select {
	case <-ctx.Done():
		return nil, broker.Transient(ctx.Err())
	case <-f.release:
	}
	return f.scriptedBroker.PlaceTrade(ctx, userID, asset, direction, stake)
}

func TestReceive_ShutdownDoesNotAbortInFlightPlacement(t *testing.T) {
	db := newTestDB(t)
	fb := &gatedBroker{started: make(chan struct{}), release: make(chan struct{})}
	sessions := session.NewService(db, fb)
	dispatcher := dispatch.NewService(db, sessions, fb, 5*time.Minute)

	sess := startSession(t, sessions, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		receipt *dispatch.Receipt
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		receipt, err := dispatcher.Receive(ctx, riseDirective("BTCUSD,Buy signal,1700000000"), types.SourceFile)
		done <- outcome{receipt, err}
	}()

	// Shut down while the broker is still executing the placement
	<-fb.started
	cancel()
	close(fb.release)

	result := <-done
	require.NoError(t, result.err)
	assert.Equal(t, 1, result.receipt.Successful)
	assert.Zero(t, result.receipt.Failed)

	var trades []types.Trade
	require.NoError(t, db.Find(&trades).Error)
	require.Len(t, trades, 1, "an accepted placement must leave a trade row")
	assert.Equal(t, types.TradePending, trades[0].Status)

	var entries []monitor.Entry
	require.NoError(t, db.Find(&entries).Error)
	assert.Len(t, entries, 1)

	var current session.TradingSession
	require.NoError(t, db.Where("session_id = ?", sess.SessionID).First(&current).Error)
	assert.Equal(t, session.StateActive, current.State, "shutdown is not a broker fault")
}

func TestReceive_CancelledBeforeFanOut(t *testing.T) {
	db := newTestDB(t)
	fb := &scriptedBroker{}
	sessions := session.NewService(db, fb)
	dispatcher := dispatch.NewService(db, sessions, fb, 5*time.Minute)

	startSession(t, sessions, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dispatcher.Receive(ctx, riseDirective("BTCUSD,Buy signal,1700000000"), types.SourceFile)
	assert.ErrorIs(t, err, context.Canceled)

	var count int64
	require.NoError(t, db.Model(&dispatch.Signal{}).Count(&count).Error)
	assert.Zero(t, count, "no new work may start after cancellation")
}

func TestPruneSignals(t *testing.T) {
	db := newTestDB(t)
	fb := &scriptedBroker{}
	sessions := session.NewService(db, fb)
	dispatcher := dispatch.NewService(db, sessions, fb, 5*time.Minute)
	ctx := context.Background()

	receipt, err := dispatcher.Receive(ctx, riseDirective("old line"), types.SourceFile)
	require.NoError(t, err)

	require.NoError(t, db.Model(&dispatch.Signal{}).
		Where("signal_id = ?", receipt.SignalID).
		Update("timestamp", time.Now().AddDate(0, 0, -40)).Error)

	fresh, err := dispatcher.Receive(ctx, riseDirective("fresh line"), types.SourceFile)
	require.NoError(t, err)

	removed, err := dispatcher.PruneSignals(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	gone, err := dispatcher.GetSignal(receipt.SignalID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := dispatcher.GetSignal(fresh.SignalID)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}
