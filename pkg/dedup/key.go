// Package dedup derives record fingerprints and collapses repeated log deliveries.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/edgescore/edgescore/pkg/models"
)

// ErrUnknownField is returned for a key field that LogRecord does not carry.
var ErrUnknownField = errors.New("unknown dedup key field")

// Separator joins key field values before hashing.
const Separator = "|"

// TimestampLayout renders the timestamp field inside a key.
const TimestampLayout = "2006-01-02 15:04:05"

// DefaultKeyFields identify one physical delivery of a request.
var DefaultKeyFields = []string{"timestamp", "c_ip", "cs_uri_stem", "cs_method"}

var extractors = map[string]func(models.LogRecord) string{
	"timestamp": func(r models.LogRecord) string {
		if r.Timestamp.IsZero() {
			return ""
		}
		return r.Timestamp.UTC().Format(TimestampLayout)
	},
	"log_date":           func(r models.LogRecord) string { return dateString(r) },
	"c_ip":               func(r models.LogRecord) string { return r.ClientIP },
	"cs_method":          func(r models.LogRecord) string { return r.Method },
	"cs_host":            func(r models.LogRecord) string { return r.Host },
	"cs_uri_stem":        func(r models.LogRecord) string { return r.URIStem },
	"cs_uri_query":       func(r models.LogRecord) string { return r.URIQuery },
	"sc_status":          func(r models.LogRecord) string { return strconv.Itoa(r.Status) },
	"sc_bytes":           func(r models.LogRecord) string { return strconv.FormatInt(r.Bytes, 10) },
	"cs_referer":         func(r models.LogRecord) string { return r.Referrer },
	"cs_user_agent":      func(r models.LogRecord) string { return r.UserAgent },
	"x_edge_location":    func(r models.LogRecord) string { return r.EdgeLocation },
	"x_edge_result_type": func(r models.LogRecord) string { return r.EdgeResultType },
	"x_edge_request_id":  func(r models.LogRecord) string { return r.EdgeRequestID },
	"cs_protocol":        func(r models.LogRecord) string { return r.Protocol },
	"sc_content_type":    func(r models.LogRecord) string { return r.ContentType },
}

func dateString(r models.LogRecord) string {
	if r.Date.IsZero() {
		return ""
	}
	return r.Date.Format("2006-01-02")
}

// ValidateFields checks every name against the supported field vocabulary.
func ValidateFields(fields []string) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: key field list is empty", ErrUnknownField)
	}
	for _, f := range fields {
		if _, ok := extractors[f]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, f)
		}
	}
	return nil
}

// Key hashes the ordered values into a 64-char hex digest.
func Key(values ...string) string {
	h := sha256.Sum256([]byte(strings.Join(values, Separator)))
	return hex.EncodeToString(h[:])
}

// KeyFor computes the fingerprint of rec over the named fields.
// Unknown names contribute an empty value; call ValidateFields up front.
func KeyFor(rec models.LogRecord, fields []string) string {
	values := make([]string, len(fields))
	for i, f := range fields {
		if fn, ok := extractors[f]; ok {
			values[i] = fn(rec)
		}
	}
	return Key(values...)
}
