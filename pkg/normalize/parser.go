// Package normalize parses CloudFront access logs into canonical records.
package normalize

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/edgescore/edgescore/pkg/models"
)

// StandardFields is the CloudFront standard log column order, used when a file
// has no #Fields header.
var StandardFields = []string{
	"date", "time", "x-edge-location", "sc-bytes", "c-ip", "cs-method", "cs(Host)",
	"cs-uri-stem", "sc-status", "cs(Referer)", "cs(User-Agent)", "cs-uri-query",
	"cs(Cookie)", "x-edge-result-type", "x-edge-request-id", "x-host-header",
	"cs-protocol", "cs-bytes", "time-taken", "x-forwarded-for", "ssl-protocol",
	"ssl-cipher", "x-edge-response-result-type", "cs-protocol-version", "fle-status",
	"fle-encrypted-fields", "c-port", "time-to-first-byte", "x-edge-detailed-result-type",
	"sc-content-type", "sc-content-len", "sc-range-start", "sc-range-end",
}

// ColumnName converts a W3C field name like cs(User-Agent) to cs_user_agent.
func ColumnName(field string) string {
	r := strings.NewReplacer("(", "_", ")", "", "-", "_")
	return strings.ToLower(r.Replace(strings.TrimSpace(field)))
}

func columnNames(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = ColumnName(f)
	}
	return out
}

// MaxLineBytes bounds one log line. Longer lines are discarded and returned as
// truncated records so the caller can count them.
const MaxLineBytes = 1024 * 1024

// Parser reads tab-separated W3C log lines one record at a time.
type Parser struct {
	r       *bufio.Reader
	buf     []byte
	columns []string
	source  string
	line    int
	err     error
}

// NewParser wraps r. source names the object in RawRecord.Source.
func NewParser(r io.Reader, source string) *Parser {
	return &Parser{r: bufio.NewReaderSize(r, 64*1024), columns: columnNames(StandardFields), source: source}
}

// readLine returns the next line without its terminator. over reports a line
// past MaxLineBytes; its content is dropped. ok is false at end of input or on
// a read error.
func (p *Parser) readLine() (line string, over, ok bool) {
	p.buf = p.buf[:0]
	read := 0
	for {
		chunk, err := p.r.ReadSlice('\n')
		read += len(chunk)
		if !over {
			p.buf = append(p.buf, chunk...)
			if len(bytes.TrimRight(p.buf, "\r\n")) > MaxLineBytes {
				over = true
				p.buf = p.buf[:0]
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if read == 0 {
				return "", false, false
			}
		default:
			p.err = err
			return "", false, false
		}
		return strings.TrimRight(string(p.buf), "\r\n"), over, true
	}
}

// Next returns the next record. It returns false at end of input or on a read
// error; check Err afterwards.
func (p *Parser) Next() (models.RawRecord, bool) {
	for {
		line, over, ok := p.readLine()
		if !ok {
			return models.RawRecord{}, false
		}
		p.line++
		if over {
			return models.RawRecord{Source: p.source, Line: p.line, Truncated: true}, true
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if rest, ok := strings.CutPrefix(line, "#Fields:"); ok {
				p.columns = columnNames(strings.Fields(rest))
			}
			continue
		}

		values := strings.Split(line, "\t")
		fields := make(map[string]string, len(values))
		for i, v := range values {
			if i >= len(p.columns) {
				break
			}
			if v == "" || v == "-" {
				continue
			}
			fields[p.columns[i]] = v
		}
		return models.RawRecord{Fields: fields, Source: p.source, Line: p.line}, true
	}
}

// Err returns the first non-EOF read error.
func (p *Parser) Err() error {
	return p.err
}
