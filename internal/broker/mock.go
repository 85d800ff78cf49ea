package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/optrelay/signal-relay/internal/types"
)

// Mock simulates a binary-options broker for local runs and the simulation
// command. Contracts resolve a fixed duration after placement with a
// configurable win rate.
type Mock struct {
	mu        sync.Mutex
	contracts map[string]mockContract

	rng *rand.Rand

	// PlaceSuccessRate is the probability a PlaceTrade call succeeds.
	PlaceSuccessRate float64
	// WinRate is the probability a resolved contract wins.
	WinRate float64
	// PayoutRate is the profit multiple on a winning stake.
	PayoutRate float64
	// ContractDuration is how long a contract stays unresolved.
	ContractDuration time.Duration
	// MinLatency/MaxLatency bound the simulated call latency.
	MinLatency time.Duration
	MaxLatency time.Duration
}

type mockContract struct {
	stake      float64
	payout     float64
	resolvesAt time.Time
	won        bool
}

// NewMock returns a mock broker with a deterministic RNG seed.
func NewMock(seed int64) *Mock {
	return &Mock{
		contracts:        make(map[string]mockContract),
		rng:              rand.New(rand.NewSource(seed)),
		PlaceSuccessRate: 0.95,
		WinRate:          0.55,
		PayoutRate:       0.85,
		ContractDuration: 30 * time.Second,
		MinLatency:       5 * time.Millisecond,
		MaxLatency:       40 * time.Millisecond,
	}
}

func (m *Mock) PlaceTrade(ctx context.Context, userID, asset string, direction types.Direction, stake float64) (*Placement, error) {
	logger := log.With().
		Str("component", "mock_broker").
		Str("user_id", userID).
		Str("asset", asset).
		Str("direction", string(direction)).
		Float64("stake", stake).
		Logger()

	if err := m.sleep(ctx); err != nil {
		return nil, Transient(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rng.Float64() > m.PlaceSuccessRate {
		logger.Warn().Msg("simulated trade placement failure")
		return nil, Transient(fmt.Errorf("broker rejected trade for %s", asset))
	}

	payout := stake * (1 + m.PayoutRate)
	contractID := "CON_" + uuid.New().String()
	m.contracts[contractID] = mockContract{
		stake:      stake,
		payout:     payout,
		resolvesAt: time.Now().Add(m.ContractDuration),
		won:        m.rng.Float64() < m.WinRate,
	}

	placement := &Placement{
		TradeID:    "BRK_" + uuid.New().String(),
		ContractID: contractID,
		Payout:     payout,
	}

	logger.Info().
		Str("contract_id", placement.ContractID).
		Float64("payout", placement.Payout).
		Msg("trade placed")

	return placement, nil
}

func (m *Mock) ContractStatus(ctx context.Context, contractID string) (*ContractResult, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, Transient(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.contracts[contractID]
	if !exists {
		return nil, fmt.Errorf("unknown contract %s", contractID)
	}

	if time.Now().Before(c.resolvesAt) {
		return nil, Transient(fmt.Errorf("contract %s not yet settled", contractID))
	}

	if c.won {
		return &ContractResult{Status: types.TradeWon, Profit: c.payout - c.stake}, nil
	}
	return &ContractResult{Status: types.TradeLost, Profit: -c.stake}, nil
}

func (m *Mock) ValidateCredentials(ctx context.Context, token string) error {
	if err := m.sleep(ctx); err != nil {
		return Transient(err)
	}
	if token == "" {
		return fmt.Errorf("empty broker token")
	}
	return nil
}

// ResolveNow forces all open contracts to settle immediately. Test and
// simulation helper.
func (m *Mock) ResolveNow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.contracts {
		c.resolvesAt = time.Now().Add(-time.Second)
		m.contracts[id] = c
	}
}

func (m *Mock) sleep(ctx context.Context) error {
	span := m.MaxLatency - m.MinLatency
	m.mu.Lock()
	latency := m.MinLatency
	if span > 0 {
		latency += time.Duration(m.rng.Int63n(int64(span)))
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(latency):
		return nil
	}
}
