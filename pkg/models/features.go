package models

import "time"

// IPDayFeatures holds the behavioral features of one source IP on one calendar day.
type IPDayFeatures struct {
	IP                string    `json:"ip"`
	Day               time.Time `json:"log_date"`
	RequestCount      int       `json:"request_count"`
	UniqueURIs        int       `json:"unique_uris"`
	CacheHitRatio     float64   `json:"cache_hit_ratio"`
	ErrorRate         float64   `json:"error_rate"`
	UserAgentEntropy  float64   `json:"cs_user_agent_entropy"`
	URIEntropy        float64   `json:"cs_uri_stem_entropy"`
	PeakRPS           int       `json:"peak_rps"`
	AvgBytes          float64   `json:"avg_bytes"`
	MovingAvgRequests float64   `json:"moving_avg_requests"`
}

// DayCount is a stored request count used to seed trailing windows.
type DayCount struct {
	IP           string
	Day          time.Time
	RequestCount int
}
