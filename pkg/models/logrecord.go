package models

import "time"

// RawRecord is one edge-log line split into named columns.
// Missing columns and CloudFront's "-" placeholder are absent from the map.
// Truncated marks a line longer than the parser accepts; it has no fields.
type RawRecord struct {
	Fields    map[string]string
	Source    string
	Line      int
	Truncated bool
}

// Get returns the named column, or "" if it is null.
func (r RawRecord) Get(name string) string {
	return r.Fields[name]
}

// LogRecord is a normalized edge request.
type LogRecord struct {
	DedupKey       string    `json:"dedup_key"`
	Timestamp      time.Time `json:"timestamp"`
	Date           time.Time `json:"log_date"`
	EdgeLocation   string    `json:"edge_location,omitempty"`
	Bytes          int64     `json:"sc_bytes"`
	ClientIP       string    `json:"c_ip"`
	Method         string    `json:"cs_method"`
	Host           string    `json:"cs_host,omitempty"`
	URIStem        string    `json:"cs_uri_stem"`
	Status         int       `json:"sc_status"`
	Referrer       string    `json:"cs_referer,omitempty"`
	UserAgent      string    `json:"cs_user_agent,omitempty"`
	URIQuery       string    `json:"cs_uri_query,omitempty"`
	EdgeResultType string    `json:"x_edge_result_type,omitempty"`
	EdgeRequestID  string    `json:"x_edge_request_id,omitempty"`
	Protocol       string    `json:"cs_protocol,omitempty"`
	TimeTaken      float64   `json:"time_taken"`
	ContentType    string    `json:"sc_content_type,omitempty"`
	SizeCategory   string    `json:"size_category"`
	CacheHit       bool      `json:"is_cache_hit"`
}
