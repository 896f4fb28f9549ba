package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgescore/edgescore/pkg/models"
	"github.com/edgescore/edgescore/pkg/normalize"
	"github.com/edgescore/edgescore/pkg/scoring"
	"github.com/edgescore/edgescore/pkg/source"
	"github.com/edgescore/edgescore/pkg/store"
	"github.com/edgescore/edgescore/pkg/window"
)

const header = "#Version: 1.0\n#Fields: date time x-edge-location sc-bytes c-ip cs-method cs(Host) cs-uri-stem sc-status cs(User-Agent) x-edge-result-type\n"

func line(date, clock, ip, uri string) string {
	return strings.Join([]string{date, clock, "NRT57-P1", "512", ip, "GET", "h", uri, "200", "curl/8.0", "Miss"}, "\t") + "\n"
}

type memSource map[string]string

func (m memSource) List(context.Context) ([]source.Object, error) {
	var out []source.Object
	for name, body := range m {
		out = append(out, source.Object{Name: name, Size: int64(len(body))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m memSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(m[name])), nil
}

type fakePublisher struct {
	got    []models.RiskScore
	ranges []window.DateRange
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, r window.DateRange, scores []models.RiskScore) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.ranges = append(f.ranges, r)
	f.got = append(f.got, scores...)
	return len(scores), nil
}

func (f *fakePublisher) Close() error { return nil }

type failingStore struct {
	*store.Store
}

func (failingStore) CommitWindow(context.Context, window.DateRange, []models.LogRecord, []models.IPDayFeatures, []models.RiskScore) error {
	return errors.New("disk full")
}

func mustStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "pipeline_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustRunner(t *testing.T, src source.Source, st Store, pub *fakePublisher) *Runner {
	t.Helper()
	w, err := window.New(3, 7, 90)
	require.NoError(t, err)
	opts := Options{
		Source:    src,
		Store:     st,
		Window:    w,
		Normalize: normalize.DefaultOptions(),
		Scoring:   scoring.DefaultOptions(),
		Shards:    4,
		Logger:    zerolog.Nop(),
	}
	if pub != nil {
		opts.Publisher = pub
	}
	r, err := New(opts)
	require.NoError(t, err)
	return r
}

var runDate = time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)

func TestRunEndToEnd(t *testing.T) {
	src := memSource{"access.log": header +
		line("2024-12-20", "10:00:00", "1.2.3.4", "/api/a") +
		line("2024-12-20", "10:00:00", "1.2.3.4", "/api/a") +
		line("2024-12-20", "10:00:00", "1.2.3.4", "/api/a") +
		line("2024-12-20", "10:00:05", "1.2.3.4", "/api/b") +
		line("2024-12-20", "10:00:06", "1.2.3.4", "/logo.png") +
		"garbage\n" +
		line("2024-12-10", "09:00:00", "1.2.3.4", "/api/a"),
	}
	st := mustStore(t)
	pub := &fakePublisher{}
	r := mustRunner(t, src, st, pub)

	res, err := r.Run(context.Background(), window.Incremental, runDate)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "incremental", res.Mode)
	assert.Equal(t, runDate.AddDate(0, 0, -3), res.From)
	assert.Equal(t, 7, res.Read)
	assert.Equal(t, 1, res.Malformed)
	assert.Equal(t, 1, res.Static)
	assert.Equal(t, 1, res.OutOfRange)
	assert.Equal(t, 2, res.Duplicates)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 1, res.Features)
	assert.Equal(t, 1, res.Scored)
	assert.Equal(t, 1, res.Tiers[models.TierNormal])
	assert.Equal(t, 1, res.Published)
	require.Len(t, pub.ranges, 1)
	assert.Equal(t, window.DateRange{From: res.From, To: res.To}, pub.ranges[0])

	ctx := context.Background()
	feats, err := st.Features(ctx, "1.2.3.4", 0)
	require.NoError(t, err)
	require.Len(t, feats, 1)
	assert.Equal(t, 2, feats[0].RequestCount)
	assert.Equal(t, 2, feats[0].UniqueURIs)

	n, err := st.LogCount(ctx, runDate)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, pub.got, 1)
	assert.False(t, pub.got[0].Analyzed, "two requests is below the analysis minimum")
}

func TestRunSkipsOversizedLine(t *testing.T) {
	long := strings.Repeat("a", normalize.MaxLineBytes+100*1024)
	src := memSource{"access.log": header +
		line("2024-12-20", "10:00:00", "1.2.3.4", "/api/a") +
		line("2024-12-20", "10:00:01", "1.2.3.4", "/"+long) +
		line("2024-12-20", "10:00:02", "1.2.3.4", "/api/b"),
	}
	st := mustStore(t)
	res, err := mustRunner(t, src, st, nil).Run(context.Background(), window.Incremental, runDate)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Read)
	assert.Equal(t, 1, res.Malformed)
	assert.Equal(t, 2, res.Records)
}

func TestRunIsIdempotent(t *testing.T) {
	src := memSource{"a.log": header +
		line("2024-12-19", "10:00:00", "1.1.1.1", "/x") +
		line("2024-12-20", "10:00:00", "1.1.1.1", "/x")}
	st := mustStore(t)
	r := mustRunner(t, src, st, nil)
	ctx := context.Background()

	_, err := r.Run(ctx, window.Incremental, runDate)
	require.NoError(t, err)
	first, err := st.Scores(ctx, models.ScoreQueryOpts{})
	require.NoError(t, err)

	_, err = r.Run(ctx, window.Incremental, runDate)
	require.NoError(t, err)
	second, err := st.Scores(ctx, models.ScoreQueryOpts{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	n, err := st.LogCount(ctx, runDate)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunSeedsMovingAverageFromStore(t *testing.T) {
	ctx := context.Background()
	st := mustStore(t)

	var b strings.Builder
	b.WriteString(header)
	for i := range 4 {
		b.WriteString(line("2024-12-16", fmt.Sprintf("10:00:0%d", i), "5.5.5.5", "/p"))
	}
	b.WriteString(line("2024-12-20", "10:00:00", "5.5.5.5", "/p"))
	b.WriteString(line("2024-12-20", "10:00:01", "5.5.5.5", "/p"))

	_, err := mustRunner(t, memSource{"all.log": b.String()}, st, nil).Run(ctx, window.Backfill, runDate)
	require.NoError(t, err)

	// The older object is gone; the day-16 count now only exists in the store.
	recent := memSource{"recent.log": header +
		line("2024-12-20", "10:00:00", "5.5.5.5", "/p") +
		line("2024-12-20", "10:00:01", "5.5.5.5", "/p")}
	_, err = mustRunner(t, recent, st, nil).Run(ctx, window.Incremental, runDate)
	require.NoError(t, err)

	feats, err := st.Features(ctx, "5.5.5.5", 0)
	require.NoError(t, err)
	require.Len(t, feats, 2)
	assert.Equal(t, runDate, feats[0].Day)
	assert.Equal(t, 3.0, feats[0].MovingAvgRequests)
	assert.Equal(t, 4.0, feats[1].MovingAvgRequests)
}

func TestRunCommitFailureWritesNothing(t *testing.T) {
	src := memSource{"a.log": header + line("2024-12-20", "10:00:00", "1.1.1.1", "/x")}
	st := mustStore(t)
	pub := &fakePublisher{}
	r := mustRunner(t, src, failingStore{st}, pub)

	_, err := r.Run(context.Background(), window.Incremental, runDate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, pub.got)

	scores, err := st.Scores(context.Background(), models.ScoreQueryOpts{})
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestRunPublishFailureKeepsCommit(t *testing.T) {
	src := memSource{"a.log": header + line("2024-12-20", "10:00:00", "1.1.1.1", "/x")}
	st := mustStore(t)
	r := mustRunner(t, src, st, &fakePublisher{err: errors.New("redis down")})

	res, err := r.Run(context.Background(), window.Incremental, runDate)
	require.NoError(t, err)
	assert.Zero(t, res.Published)

	scores, err := st.Scores(context.Background(), models.ScoreQueryOpts{})
	require.NoError(t, err)
	assert.Len(t, scores, 1)
}

func TestRunFullModeIncludesOldDays(t *testing.T) {
	src := memSource{"a.log": header +
		line("2023-01-01", "10:00:00", "1.1.1.1", "/x") +
		line("2024-12-21", "10:00:00", "1.1.1.1", "/x")}
	st := mustStore(t)
	res, err := mustRunner(t, src, st, nil).Run(context.Background(), window.Full, runDate)
	require.NoError(t, err)
	assert.True(t, res.From.IsZero())
	assert.Equal(t, 1, res.Records)
	assert.Equal(t, 1, res.OutOfRange, "days after the run date are excluded")
}

func TestNewRejectsBadOptions(t *testing.T) {
	st := mustStore(t)
	_, err := New(Options{Store: st})
	assert.Error(t, err)

	_, err = New(Options{
		Source:    memSource{},
		Store:     st,
		Window:    window.ProcessingWindow{ReloadDays: 9, BackfillDays: 7, RetentionDays: 90},
		Normalize: normalize.DefaultOptions(),
		Scoring:   scoring.DefaultOptions(),
	})
	assert.ErrorIs(t, err, window.ErrInvalidWindow)
}
