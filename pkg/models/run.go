package models

import "time"

// RunResult summarizes one pipeline run.
type RunResult struct {
	RunID      string           `json:"run_id"`
	Mode       string           `json:"mode"`
	From       time.Time        `json:"from,omitempty"`
	To         time.Time        `json:"to"`
	Read       int              `json:"read"`
	Malformed  int              `json:"malformed"`
	Static     int              `json:"static"`
	OutOfRange int              `json:"out_of_range"`
	Duplicates int              `json:"duplicates"`
	Records    int              `json:"records"`
	Features   int              `json:"features"`
	Scored     int              `json:"scored"`
	Expected   int              `json:"expected_flagged"`
	Tiers      map[RiskTier]int `json:"tiers"`
	Published  int              `json:"published"`
	Duration   time.Duration    `json:"duration"`
}

// SweepResult reports rows removed by a retention sweep.
type SweepResult struct {
	Logs     int64 `json:"logs"`
	Features int64 `json:"features"`
	Scores   int64 `json:"scores"`
}
