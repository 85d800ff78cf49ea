package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/optrelay/signal-relay/internal/broker"
	"github.com/optrelay/signal-relay/internal/database"
	"github.com/optrelay/signal-relay/internal/dispatch"
	"github.com/optrelay/signal-relay/internal/monitor"
	"github.com/optrelay/signal-relay/internal/session"
	"github.com/optrelay/signal-relay/internal/source"
	"github.com/optrelay/signal-relay/internal/types"
	"github.com/optrelay/signal-relay/internal/watcher"
)

// Simulation drives the whole pipeline end to end against the mock broker:
// seed users, start sessions, drop a signal file, tick the watcher, sweep the
// monitor and print what happened. Useful as a smoke test of the wiring.
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

const simulatedUsers = 3

func main() {
	_ = godotenv.Load()

	workDir, err := os.MkdirTemp("", "signal-relay-sim")
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to create work dir")
	}
	defer os.RemoveAll(workDir)

	db, err := database.NewDatabase(filepath.Join(workDir, "sim.db"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to initialize database")
	}

	brokerClient := broker.NewMock(42)
	brokerClient.ContractDuration = 2 * time.Second
	brokerClient.PlaceSuccessRate = 1.0

	sessions := session.NewService(db, brokerClient)
	dispatcher := dispatch.NewService(db, sessions, brokerClient, 5*time.Minute)
	contractMonitor := monitor.New(db, sessions, brokerClient, time.Second, 10)

	ctx := context.Background()

	// Seed users and start a session for each
	for i := 1; i <= simulatedUsers; i++ {
		userID := fmt.Sprintf("user-%d", i)
		if err := sessions.UpsertSettings(&session.Settings{
			UserID:       userID,
			BotEnabled:   true,
			BrokerToken:  "sim-token",
			DefaultAsset: "R_50",
			ResetDate:    time.Now().AddDate(0, 0, 1),
		}); err != nil {
			zlog.Fatal().Err(err).Msg("failed to seed settings")
		}

		sess, err := sessions.Start(ctx, userID, session.StartParams{
			Stake:     10,
			Target:    100,
			StopLimit: 50,
		})
		if err != nil {
			zlog.Fatal().Err(err).Str("user_id", userID).Msg("failed to start session")
		}
		zlog.Info().Str("user_id", userID).Str("state", sess.State).Msg("session started")
	}

	// Drop a signal file and run one watcher tick
	signalPath := filepath.Join(workDir, "signal.txt")
	if err := os.WriteFile(signalPath, []byte("BTCUSD,Buy signal,1700000000\n"), 0o644); err != nil {
		zlog.Fatal().Err(err).Msg("failed to write signal file")
	}

	w := watcher.New(source.NewFileSource(signalPath), dispatcher, types.SourceFile, watcher.Config{
		PollInterval:   time.Second,
		ErrorThreshold: 10,
		Backoff:        5 * time.Second,
	})
	if err := w.Tick(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("watcher tick failed")
	}

	// A second tick with the now-empty file must be a no-op
	if err := w.Tick(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("second watcher tick failed")
	}

	// Let the contracts settle, then sweep until everything resolves
	zlog.Info().Msg("waiting for contracts to settle")
	brokerClient.ResolveNow()
	for i := 0; i < 5; i++ {
		if err := contractMonitor.Sweep(ctx); err != nil {
			zlog.Fatal().Err(err).Msg("monitor sweep failed")
		}
		time.Sleep(200 * time.Millisecond)
	}

	if err := sessions.FinalizeStops(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("stop finalizer failed")
	}

	printSummary(db)
}

func printSummary(db *gorm.DB) {
	var signals []dispatch.Signal
	db.Find(&signals)
	for _, sig := range signals {
		zlog.Info().
			Str("signal_id", sig.SignalID).
			Str("asset", sig.Asset).
			Str("direction", string(sig.SignalType)).
			Bool("processed", sig.Processed).
			Int("total_users", sig.TotalUsers).
			Int("successful", sig.SuccessfulExecutions).
			Int("failed", sig.FailedExecutions).
			Int64("execution_time_ms", sig.ExecutionTimeMs).
			Msg("signal")
	}

	var trades []types.Trade
	db.Find(&trades)
	wins, losses, pending := 0, 0, 0
	var totalProfit float64
	for _, trade := range trades {
		switch trade.Status {
		case types.TradeWon:
			wins++
		case types.TradeLost:
			losses++
		default:
			pending++
		}
		totalProfit += trade.Profit
	}
	zlog.Info().
		Int("trades", len(trades)).
		Int("won", wins).
		Int("lost", losses).
		Int("pending", pending).
		Float64("total_profit", totalProfit).
		Msg("simulation complete")
}
