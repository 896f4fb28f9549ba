package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/edgescore/edgescore/pkg/dedup"
	"github.com/edgescore/edgescore/pkg/features"
	"github.com/edgescore/edgescore/pkg/models"
	"github.com/edgescore/edgescore/pkg/normalize"
	"github.com/edgescore/edgescore/pkg/publish"
	"github.com/edgescore/edgescore/pkg/scoring"
	"github.com/edgescore/edgescore/pkg/source"
	"github.com/edgescore/edgescore/pkg/store"
	"github.com/edgescore/edgescore/pkg/window"
)

// EnvPrefix marks environment overrides. A double underscore separates nested
// keys: EDGESCORE_WINDOW__RELOAD_DAYS sets window.reload_days.
const EnvPrefix = "EDGESCORE_"

// Production is the environment name that selects long retention defaults.
const Production = "production"

// ErrRetentionTooShort reports a table retention that would purge days a
// backfill still rewrites or reads.
var ErrRetentionTooShort = errors.New("retention shorter than backfill")

// Config holds all edgescore configuration.
type Config struct {
	Environment    string                   `yaml:"environment" koanf:"environment"`
	DBPath         string                   `yaml:"db_path" koanf:"db_path" validate:"required"`
	RunDate        string                   `yaml:"run_date" koanf:"run_date" validate:"omitempty,datetime=2006-01-02"`
	Window         WindowConfig             `yaml:"window" koanf:"window"`
	Retention      store.Retention          `yaml:"retention" koanf:"retention"`
	Scoring        ScoringConfig            `yaml:"scoring" koanf:"scoring"`
	Features       FeaturesConfig           `yaml:"features" koanf:"features"`
	Dedup          DedupConfig              `yaml:"dedup" koanf:"dedup"`
	Filter         FilterConfig             `yaml:"filter" koanf:"filter"`
	CacheHitTypes  []string                 `yaml:"cache_hit_types" koanf:"cache_hit_types" validate:"min=1"`
	SizeCategories normalize.SizeCategories `yaml:"size_categories" koanf:"size_categories"`
	Source         SourceConfig             `yaml:"source" koanf:"source"`
	Redis          publish.Config           `yaml:"redis" koanf:"redis"`
	API            APIConfig                `yaml:"api" koanf:"api"`
	Log            LogConfig                `yaml:"log" koanf:"log"`
}

// WindowConfig sizes the incremental processing window.
type WindowConfig struct {
	ReloadDays    int `yaml:"reload_days" koanf:"reload_days" validate:"gt=0"`
	BackfillDays  int `yaml:"backfill_days" koanf:"backfill_days" validate:"gt=0"`
	RetentionDays int `yaml:"retention_days" koanf:"retention_days" validate:"gt=0"`
}

// ScoringConfig controls anomaly scoring and tier cutoffs.
type ScoringConfig struct {
	scoring.Thresholds `yaml:",inline" koanf:",squash"`
	Weights            scoring.Weights `yaml:"weights" koanf:"weights"`
	ContaminationRate  float64         `yaml:"contamination_rate" koanf:"contamination_rate" validate:"gt=0,lt=1"`
	MinRequests        int             `yaml:"min_requests" koanf:"min_requests" validate:"gte=0"`
	MaxDailyRequests   int             `yaml:"max_daily_requests" koanf:"max_daily_requests" validate:"gt=0"`
	MaxRPS             int             `yaml:"max_rps" koanf:"max_rps" validate:"gt=1"`
}

// FeaturesConfig controls feature aggregation.
type FeaturesConfig struct {
	MovingAverageDays int `yaml:"moving_average_days" koanf:"moving_average_days" validate:"gt=0"`
	Workers           int `yaml:"workers" koanf:"workers" validate:"gte=0"`
}

// DedupConfig picks the DedupKey columns and the number of dedup shards.
type DedupConfig struct {
	KeyFields []string `yaml:"key_fields" koanf:"key_fields" validate:"min=1"`
	Shards    int      `yaml:"shards" koanf:"shards" validate:"gte=1,lte=256"`
}

// FilterConfig holds the static-content patterns.
type FilterConfig struct {
	ContentTypePattern string `yaml:"content_type_pattern" koanf:"content_type_pattern"`
	URIPattern         string `yaml:"uri_pattern" koanf:"uri_pattern"`
}

// SourceConfig locates raw logs: a local path or an S3 bucket.
type SourceConfig struct {
	Path string          `yaml:"path" koanf:"path"`
	S3   source.S3Config `yaml:"s3" koanf:"s3"`
}

// APIConfig controls the read API.
type APIConfig struct {
	Listen string `yaml:"listen" koanf:"listen" validate:"required"`
}

// LogConfig controls process logging.
type LogConfig struct {
	Level  string `yaml:"level" koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Format string `yaml:"format" koanf:"format" validate:"omitempty,oneof=json console"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	so := scoring.DefaultOptions()
	return &Config{
		Environment: "development",
		DBPath:      "edgescore.db",
		Window: WindowConfig{
			ReloadDays:    3,
			BackfillDays:  7,
			RetentionDays: 90,
		},
		Scoring: ScoringConfig{
			Thresholds:        so.Thresholds,
			Weights:           so.Weights,
			ContaminationRate: so.ContaminationRate,
			MinRequests:       so.MinRequests,
			MaxDailyRequests:  so.MaxDailyRequests,
			MaxRPS:            so.MaxRPS,
		},
		Features: FeaturesConfig{MovingAverageDays: features.DefaultMovingAverageDays},
		Dedup: DedupConfig{
			KeyFields: append([]string(nil), dedup.DefaultKeyFields...),
			Shards:    8,
		},
		Filter: FilterConfig{
			ContentTypePattern: normalize.DefaultContentTypePattern,
			URIPattern:         normalize.DefaultURIPattern,
		},
		CacheHitTypes:  append([]string(nil), normalize.DefaultCacheHitTypes...),
		SizeCategories: normalize.DefaultSizeCategories,
		Redis: publish.Config{
			Addr:    "localhost:6379",
			Prefix:  "edgescore",
			TTL:     72 * time.Hour,
			MinTier: models.TierHigh,
		},
		API: APIConfig{Listen: ":8080"},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// DefaultRetention returns the per-table retention for an environment.
func DefaultRetention(environment string) store.Retention {
	if environment == Production {
		return store.Retention{LogsDays: 90, FeaturesDays: 180, ScoresDays: 365}
	}
	return store.Retention{LogsDays: 30, FeaturesDays: 60, ScoresDays: 90}
}

// Load reads a YAML config file and expands environment variables, then applies
// EDGESCORE_ overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.fillRetention()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return fmt.Errorf("load env overrides: %w", err)
	}
	if len(k.Keys()) == 0 {
		return nil
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return fmt.Errorf("apply env overrides: %w", err)
	}
	return nil
}

// fillRetention replaces unset (zero) per-table retention with the environment
// default. store.KeepForever survives and disables that table's sweep.
func (c *Config) fillRetention() {
	def := DefaultRetention(c.Environment)
	if c.Retention.LogsDays == 0 {
		c.Retention.LogsDays = def.LogsDays
	}
	if c.Retention.FeaturesDays == 0 {
		c.Retention.FeaturesDays = def.FeaturesDays
	}
	if c.Retention.ScoresDays == 0 {
		c.Retention.ScoresDays = def.ScoresDays
	}
}

// Validate checks field constraints and the cross-field pipeline invariants.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.ProcessingWindow(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if _, err := scoring.New(c.ScoringOptions()); err != nil {
		return err
	}
	if err := dedup.ValidateFields(c.Dedup.KeyFields); err != nil {
		return err
	}
	if _, err := normalize.NewStaticFilter(c.Filter.ContentTypePattern, c.Filter.URIPattern); err != nil {
		return err
	}
	if c.Redis.MinTier != "" {
		if _, err := models.ParseTier(string(c.Redis.MinTier)); err != nil {
			return fmt.Errorf("redis.min_tier: %w", err)
		}
	}
	return nil
}

// validateRetention keeps every swept table at least backfill_days deep, and
// features deep enough to seed the moving averages of the oldest backfill day.
// Zero (unset) and KeepForever are not checked.
func (c *Config) validateRetention() error {
	backfill := c.Window.BackfillDays
	checks := []struct {
		name string
		days int
		min  int
	}{
		{"retention.logs_days", c.Retention.LogsDays, backfill},
		{"retention.features_days", c.Retention.FeaturesDays, backfill + c.Features.MovingAverageDays - 1},
		{"retention.scores_days", c.Retention.ScoresDays, backfill},
	}
	for _, ch := range checks {
		if ch.days > 0 && ch.days < ch.min {
			return fmt.Errorf("%w: %s (%d) < %d", ErrRetentionTooShort, ch.name, ch.days, ch.min)
		}
	}
	return nil
}

// ProcessingWindow builds the validated window policy.
func (c *Config) ProcessingWindow() (window.ProcessingWindow, error) {
	return window.New(c.Window.ReloadDays, c.Window.BackfillDays, c.Window.RetentionDays)
}

// ScoringOptions converts the scoring section.
func (c *Config) ScoringOptions() scoring.Options {
	return scoring.Options{
		Thresholds:        c.Scoring.Thresholds,
		Weights:           c.Scoring.Weights,
		ContaminationRate: c.Scoring.ContaminationRate,
		MinRequests:       c.Scoring.MinRequests,
		MaxDailyRequests:  c.Scoring.MaxDailyRequests,
		MaxRPS:            c.Scoring.MaxRPS,
	}
}

// NormalizeOptions converts the filter, cache-hit, size and dedup settings.
func (c *Config) NormalizeOptions() normalize.Options {
	return normalize.Options{
		ContentTypePattern: c.Filter.ContentTypePattern,
		URIPattern:         c.Filter.URIPattern,
		CacheHitTypes:      c.CacheHitTypes,
		SizeCategories:     c.SizeCategories,
		KeyFields:          c.Dedup.KeyFields,
	}
}

// FeatureOptions converts the features section.
func (c *Config) FeatureOptions() features.Options {
	return features.Options{
		MovingAverageDays: c.Features.MovingAverageDays,
		Workers:           c.Features.Workers,
	}
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Redis.Password != "" {
		cp.Redis.Password = "****"
	}
	if cp.Source.S3.SecretKey != "" {
		cp.Source.S3.SecretKey = "****"
	}
	return &cp
}
