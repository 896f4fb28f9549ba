// Package features rolls deduplicated edge requests up into per-IP daily features.
package features

import (
	"context"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgescore/edgescore/pkg/models"
)

// DefaultMovingAverageDays is the trailing window for request-count averages.
const DefaultMovingAverageDays = 7

// Options configure an Aggregator.
type Options struct {
	MovingAverageDays int
	Workers           int
}

// Aggregator computes IPDayFeatures. Groups are independent and reduced concurrently.
type Aggregator struct {
	window  int
	workers int
}

// New returns an Aggregator; non-positive options fall back to defaults.
func New(opts Options) *Aggregator {
	a := &Aggregator{window: opts.MovingAverageDays, workers: opts.Workers}
	if a.window <= 0 {
		a.window = DefaultMovingAverageDays
	}
	if a.workers <= 0 {
		a.workers = runtime.GOMAXPROCS(0)
	}
	return a
}

// Window is the moving-average length in days.
func (a *Aggregator) Window() int { return a.window }

type groupKey struct {
	ip  string
	day time.Time
}

// Aggregate returns one row per (IP, day) present in records, ordered by day then IP.
// history carries stored request counts for days before the records begin so that
// trailing averages can look back past the current processing window.
func (a *Aggregator) Aggregate(ctx context.Context, records []models.LogRecord, history []models.DayCount) ([]models.IPDayFeatures, error) {
	groups := GroupBy(records, func(r models.LogRecord) groupKey {
		return groupKey{ip: r.ClientIP, day: r.Date}
	})

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].day.Equal(keys[j].day) {
			return keys[i].day.Before(keys[j].day)
		}
		return keys[i].ip < keys[j].ip
	})

	rows := make([]models.IPDayFeatures, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, k := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows[i] = reduce(k, groups[k])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := a.movingAverages(ctx, rows, history); err != nil {
		return nil, err
	}
	return rows, nil
}

func reduce(k groupKey, recs []models.LogRecord) models.IPDayFeatures {
	uris := CountBy(recs, func(r models.LogRecord) string { return r.URIStem })
	return models.IPDayFeatures{
		IP:               k.ip,
		Day:              k.day,
		RequestCount:     len(recs),
		UniqueURIs:       len(uris),
		CacheHitRatio:    Ratio(recs, func(r models.LogRecord) bool { return r.CacheHit }),
		ErrorRate:        Ratio(recs, func(r models.LogRecord) bool { return r.Status >= 400 }),
		UserAgentEntropy: Entropy(CountBy(recs, func(r models.LogRecord) string { return r.UserAgent })),
		URIEntropy:       Entropy(uris),
		PeakRPS:          MaxCount(CountBy(recs, func(r models.LogRecord) int64 { return r.Timestamp.Unix() })),
		AvgBytes:         Mean(recs, func(r models.LogRecord) float64 { return float64(r.Bytes) }),
	}
}

type point struct {
	day   time.Time
	count int
}

// movingAverages fills MovingAvgRequests with the mean request count over the
// calendar days [D-window+1, D] of the same IP. Only days with data contribute,
// so sparse or short histories average over fewer days.
func (a *Aggregator) movingAverages(ctx context.Context, rows []models.IPDayFeatures, history []models.DayCount) error {
	current := make(map[groupKey]bool, len(rows))
	byIP := make(map[string][]int)
	for i, r := range rows {
		current[groupKey{ip: r.IP, day: r.Day}] = true
		byIP[r.IP] = append(byIP[r.IP], i)
	}
	past := make(map[string][]point)
	for _, h := range history {
		if _, ok := byIP[h.IP]; !ok || current[groupKey{ip: h.IP, day: h.Day}] {
			continue
		}
		past[h.IP] = append(past[h.IP], point{day: h.Day, count: h.RequestCount})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for ip, idx := range byIP {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			series := append([]point(nil), past[ip]...)
			for _, i := range idx {
				series = append(series, point{day: rows[i].Day, count: rows[i].RequestCount})
			}
			sort.Slice(series, func(x, y int) bool { return series[x].day.Before(series[y].day) })

			for _, i := range idx {
				end := rows[i].Day
				start := end.AddDate(0, 0, -(a.window - 1))
				sum, n := 0, 0
				for _, p := range series {
					if p.day.Before(start) {
						continue
					}
					if p.day.After(end) {
						break
					}
					sum += p.count
					n++
				}
				rows[i].MovingAvgRequests = float64(sum) / float64(n)
			}
			return nil
		})
	}
	return g.Wait()
}
