package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgescore/edgescore/pkg/models"
	"github.com/edgescore/edgescore/pkg/scoring"
	"github.com/edgescore/edgescore/pkg/store"
	"github.com/edgescore/edgescore/pkg/window"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3, cfg.Window.ReloadDays)
	assert.Equal(t, 7, cfg.Window.BackfillDays)
	assert.Equal(t, 90, cfg.Window.RetentionDays)
	assert.Equal(t, scoring.DefaultThresholds, cfg.Scoring.Thresholds)
	assert.Equal(t, 0.02, cfg.Scoring.ContaminationRate)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_REDIS_PASSWORD", "s3cret")

	path := writeConfig(t, `
environment: production
db_path: "test.db"
run_date: "2024-12-20"
window:
  reload_days: 2
  backfill_days: 5
  retention_days: 30
scoring:
  high: 0.6
  medium: 0.4
  low: 0.2
  contamination_rate: 0.05
redis:
  enabled: true
  addr: "redis:6379"
  password: ${TEST_REDIS_PASSWORD}
  ttl: 30m
  min_tier: medium_risk
retention:
  logs_days: 14
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test.db", cfg.DBPath)
	assert.Equal(t, "2024-12-20", cfg.RunDate)
	assert.Equal(t, 2, cfg.Window.ReloadDays)
	assert.Equal(t, 0.6, cfg.Scoring.High)
	assert.Equal(t, 0.2, cfg.Scoring.Low)
	assert.Equal(t, 0.05, cfg.Scoring.ContaminationRate)
	assert.Equal(t, scoring.DefaultWeights, cfg.Scoring.Weights, "unset sections keep defaults")
	assert.Equal(t, "s3cret", cfg.Redis.Password)
	assert.Equal(t, 30*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, models.TierMedium, cfg.Redis.MinTier)

	// Explicit value wins, the rest come from the production defaults.
	assert.Equal(t, 14, cfg.Retention.LogsDays)
	assert.Equal(t, 180, cfg.Retention.FeaturesDays)
	assert.Equal(t, 365, cfg.Retention.ScoresDays)
}

func TestLoadRetentionDefaultsByEnvironment(t *testing.T) {
	cfg, err := Load(writeConfig(t, "environment: staging\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRetention("staging"), cfg.Retention)
	assert.Equal(t, 30, cfg.Retention.LogsDays)
}

func TestRetentionMustCoverBackfill(t *testing.T) {
	cases := map[string]string{
		"logs":     "retention:\n  logs_days: 3\n",
		"scores":   "retention:\n  scores_days: 6\n",
		"features": "retention:\n  features_days: 12\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "window:\n  backfill_days: 7\nfeatures:\n  moving_average_days: 7\n"+content))
			assert.ErrorIs(t, err, ErrRetentionTooShort)
		})
	}

	cfg, err := Load(writeConfig(t, "retention:\n  logs_days: 7\n  features_days: 13\n  scores_days: 7\n"))
	require.NoError(t, err)
	assert.Equal(t, 13, cfg.Retention.FeaturesDays)
}

func TestRetentionKeepForever(t *testing.T) {
	cfg, err := Load(writeConfig(t, "environment: production\nretention:\n  scores_days: -1\n"))
	require.NoError(t, err)
	assert.Equal(t, store.KeepForever, cfg.Retention.ScoresDays)
	assert.Equal(t, 90, cfg.Retention.LogsDays)

	_, err = Load(writeConfig(t, "retention:\n  logs_days: -2\n"))
	assert.Error(t, err)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "edgescore.db", cfg.DBPath)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EDGESCORE_DB_PATH", "/tmp/env.db")
	t.Setenv("EDGESCORE_WINDOW__RELOAD_DAYS", "5")
	t.Setenv("EDGESCORE_SCORING__HIGH", "0.8")
	t.Setenv("EDGESCORE_LOG__FORMAT", "json")

	cfg, err := Load(writeConfig(t, "db_path: file.db\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.DBPath)
	assert.Equal(t, 5, cfg.Window.ReloadDays)
	assert.Equal(t, 7, cfg.Window.BackfillDays)
	assert.Equal(t, 0.8, cfg.Scoring.High)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestInvalidWindow(t *testing.T) {
	_, err := Load(writeConfig(t, "window:\n  reload_days: 10\n  backfill_days: 7\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, window.ErrInvalidWindow))
	assert.Contains(t, err.Error(), "reload_days (10) > backfill_days (7)")
}

func TestInvalidThresholds(t *testing.T) {
	_, err := Load(writeConfig(t, "scoring:\n  high: 0.2\n  medium: 0.3\n"))
	assert.ErrorIs(t, err, scoring.ErrInvalidThresholds)
}

func TestInvalidFieldConstraints(t *testing.T) {
	cases := map[string]string{
		"bad run date":    "run_date: 20-12-2024\n",
		"bad log format":  "log:\n  format: xml\n",
		"redis no addr":   "redis:\n  enabled: true\n  addr: \"\"\n",
		"sizes unordered": "size_categories:\n  tiny: 2048\n  small: 1024\n  medium: 102400\n  large: 1048576\n",
		"no shards":       "dedup:\n  shards: 0\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestInvalidDedupField(t *testing.T) {
	_, err := Load(writeConfig(t, "dedup:\n  key_fields: [timestamp, cookie]\n"))
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Redis.Password = "pw"
	cfg.Source.S3.SecretKey = "sk"
	r := cfg.Redacted()
	assert.Equal(t, "****", r.Redis.Password)
	assert.Equal(t, "****", r.Source.S3.SecretKey)
	assert.Equal(t, "pw", cfg.Redis.Password)
}
