package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/edgescore/edgescore/pkg/models"
	"github.com/edgescore/edgescore/pkg/window"
)

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("not found")

// Store persists deduplicated logs, IP-day features and risk scores in SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS cf_logs_dedup (
	dedup_key TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	log_date TEXT NOT NULL,
	edge_location TEXT,
	sc_bytes INTEGER NOT NULL DEFAULT 0,
	c_ip TEXT NOT NULL,
	cs_method TEXT,
	cs_host TEXT,
	cs_uri_stem TEXT,
	sc_status INTEGER,
	cs_referer TEXT,
	cs_user_agent TEXT,
	cs_uri_query TEXT,
	x_edge_result_type TEXT,
	x_edge_request_id TEXT,
	cs_protocol TEXT,
	time_taken REAL,
	sc_content_type TEXT,
	size_category TEXT,
	is_cache_hit INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_logs_date ON cf_logs_dedup(log_date);
CREATE INDEX IF NOT EXISTS idx_logs_ip_date ON cf_logs_dedup(c_ip, log_date);

CREATE TABLE IF NOT EXISTS ip_features (
	ip TEXT NOT NULL,
	log_date TEXT NOT NULL,
	request_count INTEGER NOT NULL,
	unique_uris INTEGER NOT NULL,
	cache_hit_ratio REAL NOT NULL,
	error_rate REAL NOT NULL,
	cs_user_agent_entropy REAL NOT NULL,
	cs_uri_stem_entropy REAL NOT NULL,
	peak_rps INTEGER NOT NULL,
	avg_bytes REAL NOT NULL,
	moving_avg_requests REAL NOT NULL,
	PRIMARY KEY (ip, log_date)
);
CREATE INDEX IF NOT EXISTS idx_features_date ON ip_features(log_date);

CREATE TABLE IF NOT EXISTS bot_scores (
	ip TEXT NOT NULL,
	log_date TEXT NOT NULL,
	request_count INTEGER NOT NULL,
	anomaly_score REAL NOT NULL,
	risk_level TEXT NOT NULL,
	analyzed INTEGER NOT NULL,
	rate_score REAL NOT NULL,
	user_agent_score REAL NOT NULL,
	uri_repetition_score REAL NOT NULL,
	cache_miss_score REAL NOT NULL,
	burst_score REAL NOT NULL,
	PRIMARY KEY (ip, log_date)
);
CREATE INDEX IF NOT EXISTS idx_scores_date_level ON bot_scores(log_date, risk_level);
`

// New opens the SQLite database at dbPath and creates the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// A single connection keeps the window transaction and readers serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func dateString(t time.Time) string {
	return t.UTC().Format(window.DateLayout)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(window.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse log_date %q: %w", s, err)
	}
	return t, nil
}

// rangeClause restricts log_date to r. An unbounded range covers every day up to To.
func rangeClause(r window.DateRange) (string, []any) {
	if !r.Bounded() {
		return "log_date <= ?", []any{dateString(r.To)}
	}
	return "log_date BETWEEN ? AND ?", []any{dateString(r.From), dateString(r.To)}
}

// CommitWindow replaces every output row for the days in r inside one transaction.
// Rows outside r are untouched. On error nothing is written.
func (s *Store) CommitWindow(ctx context.Context, r window.DateRange, records []models.LogRecord, features []models.IPDayFeatures, scores []models.RiskScore) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	where, args := rangeClause(r)
	for _, table := range []string{"cf_logs_dedup", "ip_features", "bot_scores"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+where, args...); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := insertLogs(ctx, tx, records); err != nil {
		return err
	}
	if err := insertFeatures(ctx, tx, features); err != nil {
		return err
	}
	if err := insertScores(ctx, tx, scores); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit window %s: %w", r, err)
	}
	return nil
}

func insertLogs(ctx context.Context, tx *sql.Tx, records []models.LogRecord) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO cf_logs_dedup
		(dedup_key, timestamp, log_date, edge_location, sc_bytes, c_ip, cs_method, cs_host,
		 cs_uri_stem, sc_status, cs_referer, cs_user_agent, cs_uri_query, x_edge_result_type,
		 x_edge_request_id, cs_protocol, time_taken, sc_content_type, size_category, is_cache_hit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare log insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.DedupKey, r.Timestamp.UTC().Format(time.RFC3339Nano), dateString(r.Date),
			r.EdgeLocation, r.Bytes, r.ClientIP, r.Method, r.Host,
			r.URIStem, r.Status, r.Referrer, r.UserAgent, r.URIQuery, r.EdgeResultType,
			r.EdgeRequestID, r.Protocol, r.TimeTaken, r.ContentType, r.SizeCategory, r.CacheHit,
		)
		if err != nil {
			return fmt.Errorf("insert log %s: %w", r.DedupKey, err)
		}
	}
	return nil
}

func insertFeatures(ctx context.Context, tx *sql.Tx, rows []models.IPDayFeatures) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO ip_features
		(ip, log_date, request_count, unique_uris, cache_hit_ratio, error_rate,
		 cs_user_agent_entropy, cs_uri_stem_entropy, peak_rps, avg_bytes, moving_avg_requests)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare feature insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range rows {
		_, err := stmt.ExecContext(ctx,
			f.IP, dateString(f.Day), f.RequestCount, f.UniqueURIs, f.CacheHitRatio, f.ErrorRate,
			f.UserAgentEntropy, f.URIEntropy, f.PeakRPS, f.AvgBytes, f.MovingAvgRequests,
		)
		if err != nil {
			return fmt.Errorf("insert features %s/%s: %w", f.IP, dateString(f.Day), err)
		}
	}
	return nil
}

func insertScores(ctx context.Context, tx *sql.Tx, rows []models.RiskScore) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO bot_scores
		(ip, log_date, request_count, anomaly_score, risk_level, analyzed,
		 rate_score, user_agent_score, uri_repetition_score, cache_miss_score, burst_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare score insert: %w", err)
	}
	defer stmt.Close()

	for _, sc := range rows {
		c := sc.Components
		_, err := stmt.ExecContext(ctx,
			sc.IP, dateString(sc.Day), sc.RequestCount, sc.Score, string(sc.Tier), sc.Analyzed,
			c.Rate, c.UserAgent, c.URIRepetition, c.CacheMiss, c.Burst,
		)
		if err != nil {
			return fmt.Errorf("insert score %s/%s: %w", sc.IP, dateString(sc.Day), err)
		}
	}
	return nil
}

// RequestCounts returns stored per-IP daily request counts for days in [from, to].
func (s *Store) RequestCounts(ctx context.Context, from, to time.Time) ([]models.DayCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ip, log_date, request_count FROM ip_features
		 WHERE log_date BETWEEN ? AND ? ORDER BY log_date, ip`,
		dateString(from), dateString(to),
	)
	if err != nil {
		return nil, fmt.Errorf("query request counts: %w", err)
	}
	defer rows.Close()

	var out []models.DayCount
	for rows.Next() {
		var dc models.DayCount
		var day string
		if err := rows.Scan(&dc.IP, &day, &dc.RequestCount); err != nil {
			return nil, fmt.Errorf("scan request count: %w", err)
		}
		if dc.Day, err = parseDate(day); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

const scoreColumns = `ip, log_date, request_count, anomaly_score, risk_level, analyzed,
	rate_score, user_agent_score, uri_repetition_score, cache_miss_score, burst_score`

// Scores returns stored risk scores matching opts, highest score first.
func (s *Store) Scores(ctx context.Context, opts models.ScoreQueryOpts) ([]models.RiskScore, error) {
	q := "SELECT " + scoreColumns + " FROM bot_scores WHERE 1=1"
	var args []any

	if !opts.Day.IsZero() {
		q += " AND log_date = ?"
		args = append(args, dateString(opts.Day))
	}
	if opts.IP != "" {
		q += " AND ip = ?"
		args = append(args, opts.IP)
	}
	if opts.MinTier != "" {
		lo := opts.MinTier.Rank()
		if lo < 0 {
			return nil, fmt.Errorf("query scores: unknown risk tier %q", opts.MinTier)
		}
		var marks []string
		for _, t := range models.Tiers[lo:] {
			marks = append(marks, "?")
			args = append(args, string(t))
		}
		q += " AND risk_level IN (" + strings.Join(marks, ", ") + ")"
	}

	q += " ORDER BY log_date DESC, anomaly_score DESC, ip"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	var out []models.RiskScore
	for rows.Next() {
		var sc models.RiskScore
		var day, tier string
		c := &sc.Components
		if err := rows.Scan(&sc.IP, &day, &sc.RequestCount, &sc.Score, &tier, &sc.Analyzed,
			&c.Rate, &c.UserAgent, &c.URIRepetition, &c.CacheMiss, &c.Burst); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		if sc.Day, err = parseDate(day); err != nil {
			return nil, err
		}
		sc.Tier = models.RiskTier(tier)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Features returns the stored feature rows of one IP, most recent day first.
func (s *Store) Features(ctx context.Context, ip string, limit int) ([]models.IPDayFeatures, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ip, log_date, request_count, unique_uris, cache_hit_ratio, error_rate,
		 cs_user_agent_entropy, cs_uri_stem_entropy, peak_rps, avg_bytes, moving_avg_requests
		 FROM ip_features WHERE ip = ? ORDER BY log_date DESC LIMIT ?`,
		ip, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query features: %w", err)
	}
	defer rows.Close()

	var out []models.IPDayFeatures
	for rows.Next() {
		var f models.IPDayFeatures
		var day string
		if err := rows.Scan(&f.IP, &day, &f.RequestCount, &f.UniqueURIs, &f.CacheHitRatio, &f.ErrorRate,
			&f.UserAgentEntropy, &f.URIEntropy, &f.PeakRPS, &f.AvgBytes, &f.MovingAvgRequests); err != nil {
			return nil, fmt.Errorf("scan features: %w", err)
		}
		if f.Day, err = parseDate(day); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("features for %s: %w", ip, ErrNotFound)
	}
	return out, nil
}

// TierStats counts scored IP-days per day and tier for days on or after since.
func (s *Store) TierStats(ctx context.Context, since time.Time) ([]models.TierStat, error) {
	q := `SELECT log_date, risk_level, COUNT(*) FROM bot_scores`
	var args []any
	if !since.IsZero() {
		q += " WHERE log_date >= ?"
		args = append(args, dateString(since))
	}
	q += " GROUP BY log_date, risk_level ORDER BY log_date DESC, risk_level"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tier stats: %w", err)
	}
	defer rows.Close()

	var out []models.TierStat
	for rows.Next() {
		var st models.TierStat
		var tier string
		if err := rows.Scan(&st.Day, &tier, &st.Count); err != nil {
			return nil, fmt.Errorf("scan tier stat: %w", err)
		}
		st.Tier = models.RiskTier(tier)
		out = append(out, st)
	}
	return out, rows.Err()
}

// LogCount returns the number of stored log rows for one day.
func (s *Store) LogCount(ctx context.Context, day time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cf_logs_dedup WHERE log_date = ?`, dateString(day),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}
	return n, nil
}
