// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// RunState is a stage of the batch run state machine.
type RunState string

const (
	RunInit      RunState = "init"
	RunResuming  RunState = "resuming"
	RunStarting  RunState = "starting"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunCancelled RunState = "cancelled"
	RunFailed    RunState = "failed"
)

// Terminal reports whether the state ends a run.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunCancelled || s == RunFailed
}

// RunRecord is one row of the run ledger.
type RunRecord struct {
	ID             string        `json:"id" yaml:"id"`
	JobID          string        `json:"job_id" yaml:"job_id"`
	Model          string        `json:"model" yaml:"model"`
	Dataset        string        `json:"dataset" yaml:"dataset"`
	State          RunState      `json:"state" yaml:"state"`
	Total          int           `json:"total" yaml:"total"`
	Processed      int           `json:"processed" yaml:"processed"`
	Dispatched     int           `json:"dispatched" yaml:"dispatched"`
	Failed         int           `json:"failed" yaml:"failed"`
	CumulativeTime time.Duration `json:"cumulative_time" yaml:"cumulative_time"`
	AvgLatency     time.Duration `json:"avg_latency" yaml:"avg_latency"`
	ConfigHash     string        `json:"config_hash" yaml:"config_hash"`
	Error          string        `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt      time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt     time.Time     `json:"finished_at" yaml:"finished_at"`
}
