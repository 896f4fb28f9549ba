package normalize

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/edgescore/edgescore/pkg/dedup"
	"github.com/edgescore/edgescore/pkg/models"
)

// Outcome classifies what happened to one raw record.
type Outcome int

const (
	Kept Outcome = iota
	Malformed
	Static
)

// DefaultCacheHitTypes are the x-edge-result-type values counted as cache hits.
var DefaultCacheHitTypes = []string{"Hit", "RefreshHit", "LimitExceeded-Hit", "CapacityExceeded-Hit"}

// SizeCategories are exclusive upper bounds in bytes for the named size buckets.
type SizeCategories struct {
	Tiny   int64 `yaml:"tiny" koanf:"tiny" validate:"gt=0"`
	Small  int64 `yaml:"small" koanf:"small" validate:"gtfield=Tiny"`
	Medium int64 `yaml:"medium" koanf:"medium" validate:"gtfield=Small"`
	Large  int64 `yaml:"large" koanf:"large" validate:"gtfield=Medium"`
}

// DefaultSizeCategories are 1KB, 10KB, 100KB and 1MB.
var DefaultSizeCategories = SizeCategories{Tiny: 1024, Small: 10240, Medium: 102400, Large: 1048576}

// Category buckets a response size.
func (s SizeCategories) Category(bytes int64) string {
	switch {
	case bytes < s.Tiny:
		return "tiny"
	case bytes < s.Small:
		return "small"
	case bytes < s.Medium:
		return "medium"
	case bytes < s.Large:
		return "large"
	}
	return "xlarge"
}

// Options configure a Normalizer.
type Options struct {
	ContentTypePattern string
	URIPattern         string
	CacheHitTypes      []string
	SizeCategories     SizeCategories
	KeyFields          []string
}

// DefaultOptions mirrors the stock pipeline constants.
func DefaultOptions() Options {
	return Options{
		ContentTypePattern: DefaultContentTypePattern,
		URIPattern:         DefaultURIPattern,
		CacheHitTypes:      DefaultCacheHitTypes,
		SizeCategories:     DefaultSizeCategories,
		KeyFields:          dedup.DefaultKeyFields,
	}
}

// Stats counts normalizer outcomes.
type Stats struct {
	Read      int `json:"read"`
	Malformed int `json:"malformed"`
	Static    int `json:"static"`
	Kept      int `json:"kept"`
}

// Normalizer filters and maps raw records. It is not safe for concurrent use.
type Normalizer struct {
	filter    *StaticFilter
	hitTypes  map[string]bool
	sizes     SizeCategories
	keyFields []string
	stats     Stats
}

// New builds a Normalizer, failing on bad patterns or key fields.
func New(opts Options) (*Normalizer, error) {
	f, err := NewStaticFilter(opts.ContentTypePattern, opts.URIPattern)
	if err != nil {
		return nil, err
	}
	if err := dedup.ValidateFields(opts.KeyFields); err != nil {
		return nil, err
	}
	hits := make(map[string]bool, len(opts.CacheHitTypes))
	for _, h := range opts.CacheHitTypes {
		hits[h] = true
	}
	return &Normalizer{filter: f, hitTypes: hits, sizes: opts.SizeCategories, keyFields: opts.KeyFields}, nil
}

// Stats returns the running counters.
func (n *Normalizer) Stats() Stats { return n.stats }

// IsCacheHit reports whether an edge result type counts as a hit.
func (n *Normalizer) IsCacheHit(resultType string) bool {
	return n.hitTypes[resultType]
}

// Normalize maps raw into the canonical schema. Only a Kept outcome carries a
// usable record.
func (n *Normalizer) Normalize(raw models.RawRecord) (models.LogRecord, Outcome) {
	n.stats.Read++

	ts, ok := parseTimestamp(raw)
	ip := strings.TrimSpace(raw.Get("c_ip"))
	if raw.Truncated || !ok || ip == "" {
		n.stats.Malformed++
		return models.LogRecord{}, Malformed
	}

	contentType := raw.Get("sc_content_type")
	uri := raw.Get("cs_uri_stem")
	if n.filter.IsStatic(contentType, uri) {
		n.stats.Static++
		return models.LogRecord{}, Static
	}

	bytes, _ := strconv.ParseInt(raw.Get("sc_bytes"), 10, 64)
	status, _ := strconv.Atoi(raw.Get("sc_status"))
	timeTaken, _ := strconv.ParseFloat(raw.Get("time_taken"), 64)
	result := raw.Get("x_edge_result_type")

	rec := models.LogRecord{
		Timestamp:      ts,
		Date:           time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC),
		EdgeLocation:   raw.Get("x_edge_location"),
		Bytes:          bytes,
		ClientIP:       ip,
		Method:         raw.Get("cs_method"),
		Host:           raw.Get("cs_host"),
		URIStem:        uri,
		Status:         status,
		Referrer:       decode(raw.Get("cs_referer")),
		UserAgent:      decode(raw.Get("cs_user_agent")),
		URIQuery:       raw.Get("cs_uri_query"),
		EdgeResultType: result,
		EdgeRequestID:  raw.Get("x_edge_request_id"),
		Protocol:       raw.Get("cs_protocol"),
		TimeTaken:      timeTaken,
		ContentType:    contentType,
		SizeCategory:   n.sizes.Category(bytes),
		CacheHit:       n.hitTypes[result],
	}
	rec.DedupKey = dedup.KeyFor(rec, n.keyFields)

	n.stats.Kept++
	return rec, Kept
}

// parseTimestamp reads date+time columns, or a real-time log epoch timestamp.
func parseTimestamp(raw models.RawRecord) (time.Time, bool) {
	if d, t := raw.Get("date"), raw.Get("time"); d != "" && t != "" {
		ts, err := time.Parse("2006-01-02 15:04:05", d+" "+t)
		if err != nil {
			return time.Time{}, false
		}
		return ts.UTC(), true
	}
	if epoch := raw.Get("timestamp"); epoch != "" {
		f, err := strconv.ParseFloat(epoch, 64)
		if err != nil || f <= 0 {
			return time.Time{}, false
		}
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC().Truncate(time.Millisecond), true
	}
	return time.Time{}, false
}

// decode undoes CloudFront's percent-encoding; double-encoded values are
// decoded twice. Invalid escapes keep the raw text.
func decode(s string) string {
	for range 2 {
		if !strings.Contains(s, "%") {
			return s
		}
		d, err := url.PathUnescape(s)
		if err != nil {
			return s
		}
		s = d
	}
	return s
}
