package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgescore/edgescore/pkg/models"
	"github.com/edgescore/edgescore/pkg/window"
)

const logBody = "#Version: 1.0\n" +
	"#Fields: date time x-edge-location sc-bytes c-ip cs-method cs(Host) cs-uri-stem sc-status\n" +
	"2024-12-20\t10:00:00\tNRT57-P1\t512\t1.2.3.4\tGET\th\t/a\t200\n" +
	"2024-12-20\t10:00:01\tNRT57-P1\t512\t1.2.3.5\tGET\th\t/b\t200\n"

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func collect(t *testing.T, src Source, r window.DateRange) ([]models.RawRecord, ScanStats) {
	t.Helper()
	var got []models.RawRecord
	stats, err := Scan(context.Background(), src, r, func(rec models.RawRecord) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	return got, stats
}

func TestObjectDay(t *testing.T) {
	d, ok := ObjectDay("E2ABCDEF.2024-12-20-10.a1b2c3d4.gz")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC), d)

	_, ok = ObjectDay("access.log")
	assert.False(t, ok)
	_, ok = ObjectDay("E1.2024-13-40-10.x.gz")
	assert.False(t, ok)
}

func TestRelevant(t *testing.T) {
	r := window.DateRange{
		From: time.Date(2024, 12, 17, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC),
	}
	obj := func(d int) Object { return Object{Day: time.Date(2024, 12, d, 0, 0, 0, 0, time.UTC)} }

	assert.True(t, Relevant(Object{Name: "undated"}, r))
	assert.True(t, Relevant(obj(16), r), "one day of delivery slack")
	assert.False(t, Relevant(obj(15), r))
	assert.True(t, Relevant(obj(21), r))
	assert.False(t, Relevant(obj(22), r))
	assert.True(t, Relevant(obj(1), window.DateRange{To: r.To}), "unbounded range")
}

func TestFileSourceScansPlainAndGzip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "E1.2024-12-20-10.aaa", []byte(logBody))
	writeFile(t, dir, "sub/E1.2024-12-20-11.bbb.gz", gzipped(t, logBody))
	writeFile(t, dir, "E1.2024-11-01-00.old.gz", gzipped(t, logBody))
	writeFile(t, dir, ".hidden/E1.2024-12-20-12.ccc", []byte(logBody))

	src, err := NewFileSource(dir)
	require.NoError(t, err)

	r := window.DateRange{
		From: time.Date(2024, 12, 17, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC),
	}
	got, stats := collect(t, src, r)
	assert.Equal(t, ScanStats{Objects: 2, Skipped: 1}, stats)
	require.Len(t, got, 4)
	assert.Equal(t, "1.2.3.4", got[0].Get("c_ip"))
	assert.True(t, strings.HasSuffix(got[2].Source, ".bbb.gz"))
}

func TestFileSourceSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "access.log", []byte(logBody))

	src, err := NewFileSource(filepath.Join(dir, "access.log"))
	require.NoError(t, err)
	got, stats := collect(t, src, window.DateRange{To: time.Now()})
	assert.Equal(t, 1, stats.Objects)
	assert.Len(t, got, 2)
}

func TestNewFileSourceMissing(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestScanStopsOnCallbackError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.log", []byte(logBody))
	src, err := NewFileSource(dir)
	require.NoError(t, err)

	boom := assert.AnError
	_, err = Scan(context.Background(), src, window.DateRange{To: time.Now()}, func(models.RawRecord) error { return boom })
	assert.ErrorIs(t, err, boom)
}

type trackedBody struct {
	io.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

type trackedSource struct {
	data   []byte
	bodies []*trackedBody
}

func (s *trackedSource) List(context.Context) ([]Object, error) {
	return []Object{{Name: "access.log.gz", Size: int64(len(s.data))}}, nil
}

func (s *trackedSource) Open(context.Context, string) (io.ReadCloser, error) {
	b := &trackedBody{Reader: bytes.NewReader(s.data)}
	s.bodies = append(s.bodies, b)
	return b, nil
}

func TestScanClosesObjectBody(t *testing.T) {
	src := &trackedSource{data: gzipped(t, logBody)}
	got, stats := collect(t, src, window.DateRange{To: time.Now()})
	assert.Equal(t, 1, stats.Objects)
	assert.Len(t, got, 2)
	require.Len(t, src.bodies, 1)
	assert.True(t, src.bodies[0].closed)
}

func TestDecompress(t *testing.T) {
	body, err := decompress(bytes.NewReader(gzipped(t, logBody)))
	require.NoError(t, err)
	assert.IsType(t, &gzip.Reader{}, body)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, logBody, string(data))
	assert.NoError(t, body.Close())

	body, err = decompress(strings.NewReader(logBody))
	require.NoError(t, err)
	data, err = io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, logBody, string(data))
	assert.NoError(t, body.Close())
}

type fakeS3 struct {
	objects map[string][]byte
	pages   [][]string
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	page := 0
	if in.ContinuationToken != nil {
		page = int(aws.ToString(in.ContinuationToken)[0] - '0')
	}
	out := &s3.ListObjectsV2Output{}
	for _, k := range f.pages[page] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	if page+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(string(rune('0' + page + 1)))
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3SourcePagesAndReads(t *testing.T) {
	fake := &fakeS3{
		objects: map[string][]byte{
			"cf/E1.2024-12-20-10.aaa.gz": gzipped(t, logBody),
			"cf/E1.2024-12-20-11.bbb.gz": gzipped(t, logBody),
		},
		pages: [][]string{{"cf/E1.2024-12-20-10.aaa.gz"}, {"cf/E1.2024-12-20-11.bbb.gz"}},
	}
	src := &S3Source{client: fake, bucket: "logs", prefix: "cf/"}

	objs, err := src.List(context.Background())
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, 20, objs[1].Day.Day())

	got, stats := collect(t, src, window.DateRange{To: time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, 2, stats.Objects)
	assert.Len(t, got, 4)

	_, err = src.Open(context.Background(), "cf/missing")
	assert.ErrorIs(t, err, ErrNoSuchObject)
}

func TestNewS3SourceRequiresBucket(t *testing.T) {
	_, err := NewS3Source(S3Config{})
	assert.Error(t, err)

	src, err := NewS3Source(S3Config{Bucket: "b", Endpoint: "http://localhost:9000", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "b", src.bucket)
}
