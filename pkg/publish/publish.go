// Package publish pushes flagged IPs to downstream blocklist consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgescore/edgescore/pkg/models"
	"github.com/edgescore/edgescore/pkg/window"
)

// Publisher receives the scores of a committed window. Every day in r is
// replaced, including days that no longer have flagged IPs.
type Publisher interface {
	Publish(ctx context.Context, r window.DateRange, scores []models.RiskScore) (int, error)
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(context.Context, window.DateRange, []models.RiskScore) (int, error) {
	return 0, nil
}

func (Nop) Close() error { return nil }

// Config controls the Redis publisher.
type Config struct {
	Enabled  bool            `yaml:"enabled" koanf:"enabled"`
	Addr     string          `yaml:"addr" koanf:"addr" validate:"required_if=Enabled true"`
	Password string          `yaml:"password" koanf:"password"`
	DB       int             `yaml:"db" koanf:"db" validate:"gte=0"`
	Prefix   string          `yaml:"prefix" koanf:"prefix"`
	TTL      time.Duration   `yaml:"ttl" koanf:"ttl"`
	MinTier  models.RiskTier `yaml:"min_tier" koanf:"min_tier"`
}

// Alert is the JSON message sent on the alerts channel.
type Alert struct {
	IP           string          `json:"ip"`
	Day          string          `json:"log_date"`
	Score        float64         `json:"anomaly_score"`
	Tier         models.RiskTier `json:"risk_level"`
	RequestCount int             `json:"request_count"`
}

// Select returns the scores at or above minTier grouped by day, each group
// ordered by descending score.
func Select(scores []models.RiskScore, minTier models.RiskTier) map[string][]models.RiskScore {
	lo := minTier.Rank()
	if lo < 0 {
		lo = models.TierHigh.Rank()
	}
	out := make(map[string][]models.RiskScore)
	for _, s := range scores {
		if s.Tier.Rank() < lo {
			continue
		}
		d := s.Day.Format(window.DateLayout)
		out[d] = append(out[d], s)
	}
	for _, g := range out {
		sort.Slice(g, func(i, j int) bool {
			if g[i].Score != g[j].Score {
				return g[i].Score > g[j].Score
			}
			return g[i].IP < g[j].IP
		})
	}
	return out
}

// Redis adds flagged IPs to per-day sets and announces them on a channel.
type Redis struct {
	client *redis.Client
	cfg    Config
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "edgescore"
	}
	if cfg.MinTier == "" {
		cfg.MinTier = models.TierHigh
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	return &Redis{client: client, cfg: cfg}, nil
}

// SetKey is the blocklist set for one day.
func (r *Redis) SetKey(day string) string {
	return r.cfg.Prefix + ":bot_ips:" + day
}

// Channel is the alert channel name.
func (r *Redis) Channel() string {
	return r.cfg.Prefix + ":alerts"
}

// Publish clears the blocklist set of every day in rng, refills it with the
// selected IPs in one pipeline and returns how many were sent.
func (r *Redis) Publish(ctx context.Context, rng window.DateRange, scores []models.RiskScore) (int, error) {
	groups := Select(scores, r.cfg.MinTier)
	stale, err := r.staleKeys(ctx, rng, scores)
	if err != nil {
		return 0, err
	}
	if len(groups) == 0 && len(stale) == 0 {
		return 0, nil
	}

	pipe := r.client.Pipeline()
	for _, key := range stale {
		pipe.Del(ctx, key)
	}

	days := make([]string, 0, len(groups))
	for day := range groups {
		days = append(days, day)
	}
	sort.Strings(days)

	n := 0
	for _, day := range days {
		g := groups[day]
		key := r.SetKey(day)
		members := make([]any, len(g))
		for i, s := range g {
			members[i] = s.IP
		}
		pipe.SAdd(ctx, key, members...)
		if r.cfg.TTL > 0 {
			pipe.Expire(ctx, key, r.cfg.TTL)
		}
		for _, s := range g {
			msg, err := json.Marshal(Alert{IP: s.IP, Day: day, Score: s.Score, Tier: s.Tier, RequestCount: s.RequestCount})
			if err != nil {
				return 0, fmt.Errorf("encode alert: %w", err)
			}
			pipe.Publish(ctx, r.Channel(), msg)
			n++
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("publish to redis: %w", err)
	}
	return n, nil
}

// staleKeys lists the day sets a publish for rng replaces: every day of a
// bounded range, every existing set up to rng.To for an unbounded one, and any
// scored day outside those.
func (r *Redis) staleKeys(ctx context.Context, rng window.DateRange, scores []models.RiskScore) ([]string, error) {
	keys := make(map[string]struct{})
	for _, d := range rng.Days() {
		keys[r.SetKey(d.Format(window.DateLayout))] = struct{}{}
	}
	for _, s := range scores {
		keys[r.SetKey(s.Day.Format(window.DateLayout))] = struct{}{}
	}

	if !rng.Bounded() {
		prefix := r.SetKey("")
		last := rng.To.Format(window.DateLayout)
		iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			if day := strings.TrimPrefix(key, prefix); day <= last {
				keys[key] = struct{}{}
			}
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("scan blocklist sets: %w", err)
		}
	}

	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
