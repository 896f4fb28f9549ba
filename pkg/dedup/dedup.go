package dedup

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/edgescore/edgescore/pkg/models"
)

// Deduplicator keeps the first record per DedupKey within one processing window.
// Use a new Deduplicator per window. It is not safe for concurrent use; see
// Sharded for parallel deduplication.
type Deduplicator struct {
	seen       map[string]struct{}
	duplicates int
}

// New returns an empty Deduplicator.
func New() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// Add reports whether rec is the first occurrence of its key.
func (d *Deduplicator) Add(rec models.LogRecord) bool {
	if _, ok := d.seen[rec.DedupKey]; ok {
		d.duplicates++
		return false
	}
	d.seen[rec.DedupKey] = struct{}{}
	return true
}

// Len is the number of distinct keys emitted.
func (d *Deduplicator) Len() int { return len(d.seen) }

// Duplicates is the number of discarded records.
func (d *Deduplicator) Duplicates() int { return d.duplicates }

// Filter returns the first occurrence of each key in records, in input order.
func (d *Deduplicator) Filter(records []models.LogRecord) []models.LogRecord {
	out := make([]models.LogRecord, 0, len(records))
	for _, r := range records {
		if d.Add(r) {
			out = append(out, r)
		}
	}
	return out
}

// Sharded deduplicates by hash-partitioning keys so every occurrence of a key
// lands in the same shard.
type Sharded struct {
	Shards int
}

// ShardOf maps a hex DedupKey onto one of n shards.
func ShardOf(key string, n int) int {
	if n <= 1 || len(key) < 8 {
		return 0
	}
	var v uint32
	for i := 0; i < 8; i++ {
		v = v<<4 | uint32(hexVal(key[i]))
	}
	return int(v % uint32(n))
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

// Run deduplicates records and returns the survivors ordered by timestamp, then key,
// along with the number of discarded duplicates.
func (s Sharded) Run(ctx context.Context, records []models.LogRecord) ([]models.LogRecord, int, error) {
	n := max(s.Shards, 1)

	parts := make([][]models.LogRecord, n)
	for _, r := range records {
		i := ShardOf(r.DedupKey, n)
		parts[i] = append(parts[i], r)
	}

	kept := make([][]models.LogRecord, n)
	dups := make([]int, n)
	distinct := make([]int, n)
	g, ctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d := New()
			kept[i] = d.Filter(parts[i])
			dups[i] = d.Duplicates()
			distinct[i] = d.Len()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	size, total := 0, 0
	for i := range n {
		size += distinct[i]
		total += dups[i]
	}
	out := make([]models.LogRecord, 0, size)
	for i := range n {
		out = append(out, kept[i]...)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].Timestamp.Equal(out[b].Timestamp) {
			return out[a].Timestamp.Before(out[b].Timestamp)
		}
		return out[a].DedupKey < out[b].DedupKey
	})
	return out, total, nil
}
