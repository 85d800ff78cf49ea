package broker

import (
	"context"
	"errors"

	"github.com/optrelay/signal-relay/internal/types"
)

// Placement is the broker's acknowledgement of a newly opened contract.
type Placement struct {
	TradeID    string
	ContractID string
	Payout     float64
}

// ContractResult is the final outcome of a resolved contract.
type ContractResult struct {
	Status string // won or lost
	Profit float64
}

// Client is the external broker collaborator. Placing trades and querying
// contract outcomes are the only operations this pipeline needs; the wire
// protocol behind them is out of scope.
type Client interface {
	PlaceTrade(ctx context.Context, userID, asset string, direction types.Direction, stake float64) (*Placement, error)
	ContractStatus(ctx context.Context, contractID string) (*ContractResult, error)
	ValidateCredentials(ctx context.Context, token string) error
}

// TransientError marks a broker failure that is worth retrying: timeouts,
// connection resets, contract-not-settled-yet responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient broker error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether err is a retryable broker failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
