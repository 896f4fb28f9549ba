package models

import (
	"fmt"
	"time"
)

// RiskTier is the discrete bucket derived from an anomaly score.
type RiskTier string

const (
	TierNormal RiskTier = "normal"
	TierLow    RiskTier = "low_risk"
	TierMedium RiskTier = "medium_risk"
	TierHigh   RiskTier = "high_risk"
)

// Tiers lists every tier from least to most severe.
var Tiers = []RiskTier{TierNormal, TierLow, TierMedium, TierHigh}

// Rank orders tiers by severity; unknown tiers rank below normal.
func (t RiskTier) Rank() int {
	for i, v := range Tiers {
		if v == t {
			return i
		}
	}
	return -1
}

// ParseTier accepts the tier labels used in the bot_scores table.
func ParseTier(s string) (RiskTier, error) {
	t := RiskTier(s)
	if t.Rank() < 0 {
		return "", fmt.Errorf("unknown risk tier %q", s)
	}
	return t, nil
}

// RiskComponents are the normalized inputs of an anomaly score, each in [0,1].
type RiskComponents struct {
	Rate          float64 `json:"rate"`
	UserAgent     float64 `json:"user_agent"`
	URIRepetition float64 `json:"uri_repetition"`
	CacheMiss     float64 `json:"cache_miss"`
	Burst         float64 `json:"burst"`
}

// RiskScore is the scored output for one IP-day.
type RiskScore struct {
	IP           string         `json:"ip"`
	Day          time.Time      `json:"log_date"`
	RequestCount int            `json:"request_count"`
	Score        float64        `json:"anomaly_score"`
	Tier         RiskTier       `json:"risk_level"`
	Analyzed     bool           `json:"analyzed"`
	Components   RiskComponents `json:"components"`
}

// ScoreQueryOpts filters stored scores.
type ScoreQueryOpts struct {
	Day     time.Time
	IP      string
	MinTier RiskTier
	Limit   int
}

// TierStat counts scored IPs per day and tier.
type TierStat struct {
	Day   string   `json:"day"`
	Tier  RiskTier `json:"risk_level"`
	Count int      `json:"count"`
}
