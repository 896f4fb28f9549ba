// Package mcp exposes stored risk scores as MCP tools over stdio JSON-RPC.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgescore/edgescore/pkg/models"
)

// Reader is the store surface the tools query.
type Reader interface {
	Scores(ctx context.Context, opts models.ScoreQueryOpts) ([]models.RiskScore, error)
	Features(ctx context.Context, ip string, limit int) ([]models.IPDayFeatures, error)
	TierStats(ctx context.Context, since time.Time) ([]models.TierStat, error)
}

// Server answers one request per input line.
type Server struct {
	store   Reader
	log     zerolog.Logger
	version string
}

// New creates a Server.
func New(r Reader, log zerolog.Logger, version string) *Server {
	return &Server{store: r, log: log, version: version}
}

// Run reads requests from r and writes responses to w until r is exhausted or
// ctx is cancelled. Notifications get no response.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, replyError(nil, CodeParseError, "parse error"))
			continue
		}
		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return reply(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "edgescore", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "tools/list":
		return reply(req.ID, map[string]any{"tools": tools})
	case "tools/call":
		var p ToolCallParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return replyError(req.ID, CodeInvalidParams, "invalid params")
		}
		h, ok := handlers[p.Name]
		if !ok {
			return reply(req.ID, failure("unknown tool: "+p.Name))
		}
		s.log.Debug().Str("tool", p.Name).Msg("tool call")
		return reply(req.ID, h(ctx, s, p.Arguments))
	}
	return replyError(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
}

func (s *Server) write(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error().Err(err).Msg("mcp: marshal response")
		return
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.log.Error().Err(err).Msg("mcp: write response")
	}
}
