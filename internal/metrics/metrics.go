package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	SignalsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalrelay",
			Subsystem: "dispatch",
			Name:      "signals_processed_total",
			Help:      "Signals fully processed, by source",
		},
		[]string{"source"},
	)

	SignalsDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signalrelay",
			Subsystem: "dispatch",
			Name:      "signals_duplicate_total",
			Help:      "Redelivered signals rejected by raw-text dedup",
		},
	)

	TradesPlaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signalrelay",
			Subsystem: "dispatch",
			Name:      "trades_placed_total",
			Help:      "Trades successfully submitted to the broker",
		},
	)

	TradeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signalrelay",
			Subsystem: "dispatch",
			Name:      "trade_failures_total",
			Help:      "Per-session trade submissions that failed",
		},
	)

	ParseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalrelay",
			Subsystem: "watcher",
			Name:      "parse_errors_total",
			Help:      "Signal lines rejected by the parser, by source",
		},
		[]string{"source"},
	)

	WatcherErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalrelay",
			Subsystem: "watcher",
			Name:      "errors_total",
			Help:      "Fetch or dispatch failures per watcher tick, by source",
		},
		[]string{"source"},
	)

	ContractsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalrelay",
			Subsystem: "monitor",
			Name:      "contracts_resolved_total",
			Help:      "Contracts finalized by the monitor, by result",
		},
		[]string{"result"},
	)

	MonitorRetriesExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signalrelay",
			Subsystem: "monitor",
			Name:      "retries_exhausted_total",
			Help:      "Monitor entries that hit the retry cap and were flagged for review",
		},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			SignalsProcessed,
			SignalsDuplicate,
			TradesPlaced,
			TradeFailures,
			ParseErrors,
			WatcherErrors,
			ContractsResolved,
			MonitorRetriesExhausted,
		)
	})
}
