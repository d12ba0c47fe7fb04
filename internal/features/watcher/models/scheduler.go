package models

import (
	"time"
)

// SchedulerConfig holds configuration for the poll orchestrator
type SchedulerConfig struct {
	PollInterval       time.Duration `json:"poll_interval"`
	MaxWorkers         int           `json:"max_workers"`
	PageDepth          int           `json:"page_depth"`
	MaxSessionAttempts int           `json:"max_session_attempts"`
	MaxFetchRetries    int           `json:"max_fetch_retries"`
	RefreshEvery       int           `json:"refresh_every"`
	AcquireTimeout     time.Duration `json:"acquire_timeout"`
	PersistTimeout     time.Duration `json:"persist_timeout"`
	DeliverTimeout     time.Duration `json:"deliver_timeout"`
	ExpectedCurrency   string        `json:"expected_currency"`
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		PollInterval:       2 * time.Minute,
		MaxWorkers:         4,
		PageDepth:          1,
		MaxSessionAttempts: 3,
		MaxFetchRetries:    2,
		RefreshEvery:       10,
		AcquireTimeout:     5 * time.Minute,
		PersistTimeout:     10 * time.Second,
		DeliverTimeout:     30 * time.Second,
		ExpectedCurrency:   "EUR",
	}
}

// CycleOutcome summarises how a topic's last cycle ended
type CycleOutcome string

const (
	OutcomeBaseline  CycleOutcome = "baseline"
	OutcomeNoChange  CycleOutcome = "no_change"
	OutcomeDelivered CycleOutcome = "delivered"
	OutcomeSkipped   CycleOutcome = "skipped"
	OutcomeCancelled CycleOutcome = "cancelled"
)

// TopicStatus is the last observed state of one topic, served by the status API
type TopicStatus struct {
	Topic       Topic        `json:"topic"`
	Watermark   *time.Time   `json:"watermark,omitempty"`
	LastCycleAt *time.Time   `json:"last_cycle_at,omitempty"`
	Outcome     CycleOutcome `json:"outcome,omitempty"`
	Parsed      int          `json:"parsed"`
	Fresh       int          `json:"fresh"`
	Delivered   int          `json:"delivered"`
	Error       string       `json:"error,omitempty"`
}
