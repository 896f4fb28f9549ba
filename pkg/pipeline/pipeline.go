// Package pipeline runs one windowed pass from raw edge logs to committed risk scores.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edgescore/edgescore/pkg/dedup"
	"github.com/edgescore/edgescore/pkg/features"
	"github.com/edgescore/edgescore/pkg/models"
	"github.com/edgescore/edgescore/pkg/normalize"
	"github.com/edgescore/edgescore/pkg/publish"
	"github.com/edgescore/edgescore/pkg/scoring"
	"github.com/edgescore/edgescore/pkg/source"
	"github.com/edgescore/edgescore/pkg/window"
)

// Store is the persistence a run needs.
type Store interface {
	CommitWindow(ctx context.Context, r window.DateRange, records []models.LogRecord, features []models.IPDayFeatures, scores []models.RiskScore) error
	RequestCounts(ctx context.Context, from, to time.Time) ([]models.DayCount, error)
}

// Options wire a Runner.
type Options struct {
	Source    source.Source
	Store     Store
	Publisher publish.Publisher
	Window    window.ProcessingWindow
	Normalize normalize.Options
	Features  features.Options
	Scoring   scoring.Options
	Shards    int
	Logger    zerolog.Logger
}

// Runner executes pipeline runs. A Runner may be reused; runs must not overlap.
type Runner struct {
	opts   Options
	agg    *features.Aggregator
	scorer *scoring.Scorer
}

// New validates the component options and returns a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Source == nil || opts.Store == nil {
		return nil, fmt.Errorf("pipeline: source and store are required")
	}
	if err := opts.Window.Validate(); err != nil {
		return nil, err
	}
	if _, err := normalize.New(opts.Normalize); err != nil {
		return nil, err
	}
	sc, err := scoring.New(opts.Scoring)
	if err != nil {
		return nil, err
	}
	if opts.Publisher == nil {
		opts.Publisher = publish.Nop{}
	}
	return &Runner{opts: opts, agg: features.New(opts.Features), scorer: sc}, nil
}

// Run recomputes every day the mode covers up to runDate and commits the
// result atomically. Publishing happens after commit; its failure is logged
// and leaves the commit in place.
func (r *Runner) Run(ctx context.Context, mode window.Mode, runDate time.Time) (models.RunResult, error) {
	start := time.Now()
	res := models.RunResult{RunID: uuid.NewString(), Mode: string(mode)}
	log := r.opts.Logger.With().Str("run_id", res.RunID).Str("mode", string(mode)).Logger()

	rng, err := r.opts.Window.Range(mode, runDate)
	if err != nil {
		return res, err
	}
	res.From, res.To = rng.From, rng.To
	log.Info().Str("window", rng.String()).Msg("run started")

	records, err := r.collect(ctx, rng, &res)
	if err != nil {
		return res, err
	}
	log.Debug().Int("read", res.Read).Int("malformed", res.Malformed).Int("static", res.Static).
		Int("out_of_range", res.OutOfRange).Msg("normalized")

	records, dups, err := dedup.Sharded{Shards: r.opts.Shards}.Run(ctx, records)
	if err != nil {
		return res, fmt.Errorf("dedup: %w", err)
	}
	res.Duplicates = dups
	res.Records = len(records)

	history, err := r.history(ctx, rng)
	if err != nil {
		return res, err
	}

	rows, err := r.agg.Aggregate(ctx, records, history)
	if err != nil {
		return res, fmt.Errorf("aggregate features: %w", err)
	}
	res.Features = len(rows)

	rep := r.scorer.Score(rows)
	res.Scored = len(rep.Scores)
	res.Expected = rep.Expected
	res.Tiers = rep.Tiers
	if rep.Flagged > 0 && rep.Expected > 0 && rep.Flagged > 3*rep.Expected {
		log.Warn().Int("flagged", rep.Flagged).Int("expected", rep.Expected).Msg("flagged count far above contamination estimate")
	}

	if err := r.opts.Store.CommitWindow(ctx, rng, records, rows, rep.Scores); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}

	n, err := r.opts.Publisher.Publish(ctx, rng, rep.Scores)
	if err != nil {
		log.Error().Err(err).Msg("publish flagged IPs")
	}
	res.Published = n

	res.Duration = time.Since(start)
	log.Info().Int("records", res.Records).Int("duplicates", res.Duplicates).Int("scored", res.Scored).
		Int("flagged", rep.Flagged).Int("published", res.Published).Dur("took", res.Duration).Msg("run committed")
	return res, nil
}

// collect scans the source and keeps normalized records dated inside rng.
func (r *Runner) collect(ctx context.Context, rng window.DateRange, res *models.RunResult) ([]models.LogRecord, error) {
	norm, err := normalize.New(r.opts.Normalize)
	if err != nil {
		return nil, err
	}

	var records []models.LogRecord
	_, err = source.Scan(ctx, r.opts.Source, rng, func(raw models.RawRecord) error {
		res.Read++
		rec, outcome := norm.Normalize(raw)
		switch outcome {
		case normalize.Malformed:
			res.Malformed++
			r.opts.Logger.Trace().Str("source", raw.Source).Int("line", raw.Line).Msg("malformed record")
			return nil
		case normalize.Static:
			res.Static++
			return nil
		}
		if !rng.Contains(rec.Date) {
			res.OutOfRange++
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	return records, nil
}

// history loads stored request counts for the days before a bounded window that
// its first moving averages reach back into.
func (r *Runner) history(ctx context.Context, rng window.DateRange) ([]models.DayCount, error) {
	if !rng.Bounded() || r.agg.Window() <= 1 {
		return nil, nil
	}
	from := rng.From.AddDate(0, 0, -(r.agg.Window() - 1))
	to := rng.From.AddDate(0, 0, -1)
	h, err := r.opts.Store.RequestCounts(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return h, nil
}
