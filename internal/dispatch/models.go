package dispatch

import (
	"time"

	"gorm.io/gorm"

	"github.com/optrelay/signal-relay/internal/types"
)

// Signal is the persisted record of one ingested trade directive. It is
// written once on ingestion and mutated once by the dispatcher, which sets
// the aggregate execution counters and processed flag after every eligible
// session has been attempted. The retention sweep is the only thing that ever
// deletes one.
type Signal struct {
	gorm.Model           `json:"-"`
	SignalID             string             `gorm:"uniqueIndex" json:"signal_id"`
	SignalType           types.Direction    `json:"signal_type"`
	Asset                string             `json:"asset"` // empty means any asset
	RawText              string             `gorm:"index" json:"raw_text"`
	Source               types.SignalSource `json:"source"`
	Processed            bool               `gorm:"index" json:"processed"`
	TotalUsers           int                `json:"total_users"`
	SuccessfulExecutions int                `json:"successful_executions"`
	FailedExecutions     int                `json:"failed_executions"`
	ExecutionTimeMs      int64              `json:"execution_time_ms"`
	Timestamp            time.Time          `json:"timestamp"`
	ProcessedAt          *time.Time         `json:"processed_at,omitempty"`
}

// Receipt summarizes one dispatcher invocation.
type Receipt struct {
	SignalID   string `json:"signal_id"`
	Duplicate  bool   `json:"duplicate"`
	TotalUsers int    `json:"total_users"`
	Successful int    `json:"successful_executions"`
	Failed     int    `json:"failed_executions"`
}
