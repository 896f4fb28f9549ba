// Package source lists and reads raw edge-log objects from local disk or S3.
package source

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/edgescore/edgescore/pkg/models"
	"github.com/edgescore/edgescore/pkg/normalize"
	"github.com/edgescore/edgescore/pkg/window"
)

// Object is one log file or S3 object.
type Object struct {
	Name string
	Size int64
	// Day is the delivery date parsed from the object name, zero if unknown.
	Day time.Time
}

// Source enumerates and opens raw log objects.
type Source interface {
	List(ctx context.Context) ([]Object, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// CloudFront names objects DISTRIBUTION.YYYY-MM-DD-HH.unique.gz.
var objectDate = regexp.MustCompile(`\.(\d{4}-\d{2}-\d{2})-\d{2}\.`)

// ObjectDay extracts the delivery day from a CloudFront log object name.
func ObjectDay(name string) (time.Time, bool) {
	m := objectDate.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	d, err := time.Parse(window.DateLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// Relevant reports whether an object may hold records for days in r. Objects
// are delivered up to a day after their records, so one day of slack is allowed
// on both ends. Objects without a recognizable date are always read.
func Relevant(o Object, r window.DateRange) bool {
	if o.Day.IsZero() {
		return true
	}
	if o.Day.After(r.To.AddDate(0, 0, 1)) {
		return false
	}
	if r.Bounded() && o.Day.Before(r.From.AddDate(0, 0, -1)) {
		return false
	}
	return true
}

// ScanStats counts objects visited by Scan.
type ScanStats struct {
	Objects int
	Skipped int
}

// Scan reads every relevant object in src and calls fn with each parsed line.
// Gzip objects are detected by their magic bytes.
func Scan(ctx context.Context, src Source, r window.DateRange, fn func(models.RawRecord) error) (ScanStats, error) {
	var stats ScanStats
	objects, err := src.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("list objects: %w", err)
	}

	for _, o := range objects {
		if !Relevant(o, r) {
			stats.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := scanObject(ctx, src, o.Name, fn); err != nil {
			return stats, err
		}
		stats.Objects++
	}
	return stats, nil
}

func scanObject(ctx context.Context, src Source, name string, fn func(models.RawRecord) error) error {
	rc, err := src.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	body, err := decompress(rc)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	defer body.Close()

	p := normalize.NewParser(body, name)
	for {
		rec, ok := p.Next()
		if !ok {
			break
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := p.Err(); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// decompress returns the plain-text body of r. Closing it releases the gzip
// reader, not r.
func decompress(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return io.NopCloser(br), nil
}
