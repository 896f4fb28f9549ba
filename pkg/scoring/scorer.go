// Package scoring turns per-IP daily features into bounded anomaly scores and risk tiers.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/edgescore/edgescore/pkg/models"
)

// ErrInvalidWeights is returned when component weights are negative or do not sum to 1.
var ErrInvalidWeights = errors.New("invalid score weights")

// zCap is the modified z-score that saturates a component at 1.
const zCap = 6.0

// Weights blend the component scores into the final anomaly score.
type Weights struct {
	Rate          float64 `yaml:"rate" koanf:"rate"`
	UserAgent     float64 `yaml:"user_agent" koanf:"user_agent"`
	URIRepetition float64 `yaml:"uri_repetition" koanf:"uri_repetition"`
	CacheMiss     float64 `yaml:"cache_miss" koanf:"cache_miss"`
	Burst         float64 `yaml:"burst" koanf:"burst"`
}

// DefaultWeights favour request-rate outliers.
var DefaultWeights = Weights{Rate: 0.35, UserAgent: 0.2, URIRepetition: 0.15, CacheMiss: 0.15, Burst: 0.15}

// Validate requires non-negative weights summing to 1.
func (w Weights) Validate() error {
	vals := []float64{w.Rate, w.UserAgent, w.URIRepetition, w.CacheMiss, w.Burst}
	sum := 0.0
	for _, v := range vals {
		if v < 0 {
			return fmt.Errorf("%w: negative weight %.3f", ErrInvalidWeights, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: weights sum to %.4f, want 1", ErrInvalidWeights, sum)
	}
	return nil
}

// Options configure a Scorer.
type Options struct {
	Thresholds        Thresholds
	Weights           Weights
	ContaminationRate float64
	MinRequests       int
	MaxDailyRequests  int
	MaxRPS            int
}

// DefaultOptions mirrors the stock bot-detection constants.
func DefaultOptions() Options {
	return Options{
		Thresholds:        DefaultThresholds,
		Weights:           DefaultWeights,
		ContaminationRate: 0.02,
		MinRequests:       10,
		MaxDailyRequests:  1000000,
		MaxRPS:            10000,
	}
}

// Scorer scores IP-days against the other IPs seen on the same day.
type Scorer struct {
	opts Options
}

// New validates opts and returns a Scorer.
func New(opts Options) (*Scorer, error) {
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, err
	}
	if opts.ContaminationRate < 0 || opts.ContaminationRate > 1 {
		return nil, fmt.Errorf("contamination rate %.3f outside [0,1]", opts.ContaminationRate)
	}
	if opts.MaxRPS <= 1 || opts.MaxDailyRequests <= 0 {
		return nil, fmt.Errorf("max_rps and max_daily_requests must be positive")
	}
	return &Scorer{opts: opts}, nil
}

// Thresholds returns the tier cutoffs in use.
func (s *Scorer) Thresholds() Thresholds { return s.opts.Thresholds }

// Report is the output of one scoring pass.
type Report struct {
	Scores   []models.RiskScore
	Analyzed int
	// Expected is the flagged count implied by the contamination rate. It is a
	// calibration reference only; Flagged may be larger or smaller.
	Expected int
	Flagged  int
	Tiers    map[models.RiskTier]int
}

type cohort struct {
	rate      robust
	userAgent robust
	miss      robust
}

// Score scores every row, in input order.
func (s *Scorer) Score(rows []models.IPDayFeatures) Report {
	cohorts := s.cohorts(rows)
	rep := Report{Scores: make([]models.RiskScore, len(rows)), Tiers: make(map[models.RiskTier]int)}

	for i, r := range rows {
		out := models.RiskScore{IP: r.IP, Day: r.Day, RequestCount: r.RequestCount, Tier: models.TierNormal}
		if r.RequestCount >= s.opts.MinRequests {
			out.Analyzed = true
			out.Components = s.components(r, cohorts[r.Day])
			out.Score = s.combine(out.Components)
			out.Tier = s.opts.Thresholds.Classify(out.Score)
			rep.Analyzed++
		}
		if out.Tier != models.TierNormal {
			rep.Flagged++
		}
		rep.Tiers[out.Tier]++
		rep.Scores[i] = out
	}
	rep.Expected = int(math.Ceil(s.opts.ContaminationRate * float64(rep.Analyzed)))
	return rep
}

func (s *Scorer) cohorts(rows []models.IPDayFeatures) map[time.Time]cohort {
	type vals struct{ rate, ua, miss []float64 }
	byDay := make(map[time.Time]*vals)
	for _, r := range rows {
		if r.RequestCount < s.opts.MinRequests {
			continue
		}
		v := byDay[r.Day]
		if v == nil {
			v = &vals{}
			byDay[r.Day] = v
		}
		v.rate = append(v.rate, float64(r.RequestCount))
		v.ua = append(v.ua, r.UserAgentEntropy)
		v.miss = append(v.miss, 1-r.CacheHitRatio)
	}
	out := make(map[time.Time]cohort, len(byDay))
	for day, v := range byDay {
		out[day] = cohort{rate: newRobust(v.rate), userAgent: newRobust(v.ua), miss: newRobust(v.miss)}
	}
	return out
}

func (s *Scorer) components(r models.IPDayFeatures, c cohort) models.RiskComponents {
	var comp models.RiskComponents

	if r.RequestCount >= s.opts.MaxDailyRequests {
		comp.Rate = 1
	} else {
		comp.Rate = clamp01(c.rate.modZ(float64(r.RequestCount)) / zCap)
	}

	// Both a single pinned agent and heavy rotation are unusual, so deviation
	// counts in either direction.
	comp.UserAgent = clamp01(math.Abs(c.userAgent.modZ(r.UserAgentEntropy)) / zCap)

	if r.RequestCount > 1 {
		comp.URIRepetition = clamp01(1 - r.URIEntropy/math.Log2(float64(r.RequestCount)))
	}

	comp.CacheMiss = clamp01(c.miss.modZ(1-r.CacheHitRatio) / zCap)

	if r.PeakRPS > 1 {
		comp.Burst = clamp01(math.Log10(float64(r.PeakRPS)) / math.Log10(float64(s.opts.MaxRPS)))
	}
	return comp
}

func (s *Scorer) combine(c models.RiskComponents) float64 {
	w := s.opts.Weights
	return clamp01(w.Rate*c.Rate + w.UserAgent*c.UserAgent + w.URIRepetition*c.URIRepetition +
		w.CacheMiss*c.CacheMiss + w.Burst*c.Burst)
}
