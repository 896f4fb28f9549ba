package store

import (
	"context"
	"fmt"
	"time"

	"github.com/edgescore/edgescore/pkg/models"
	"github.com/edgescore/edgescore/pkg/window"
)

// KeepForever disables the sweep for a table.
const KeepForever = -1

// Retention is the number of days each table keeps, counted back from today.
type Retention struct {
	LogsDays     int `yaml:"logs_days" koanf:"logs_days" validate:"gte=-1"`
	FeaturesDays int `yaml:"features_days" koanf:"features_days" validate:"gte=-1"`
	ScoresDays   int `yaml:"scores_days" koanf:"scores_days" validate:"gte=-1"`
}

// Sweep deletes rows older than each table's retention cutoff. A table with a
// non-positive retention is left alone.
func (s *Store) Sweep(ctx context.Context, today time.Time, ret Retention) (models.SweepResult, error) {
	var res models.SweepResult
	targets := []struct {
		table string
		days  int
		n     *int64
	}{
		{"cf_logs_dedup", ret.LogsDays, &res.Logs},
		{"ip_features", ret.FeaturesDays, &res.Features},
		{"bot_scores", ret.ScoresDays, &res.Scores},
	}

	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := window.RetentionCutoff(today, t.days)
		r, err := s.db.ExecContext(ctx,
			"DELETE FROM "+t.table+" WHERE log_date < ?", dateString(cutoff))
		if err != nil {
			return res, fmt.Errorf("sweep %s: %w", t.table, err)
		}
		*t.n, _ = r.RowsAffected()
	}
	return res, nil
}
