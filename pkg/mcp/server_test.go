package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgescore/edgescore/pkg/models"
	"github.com/edgescore/edgescore/pkg/store"
)

var day = time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)

type fakeReader struct {
	scores   []models.RiskScore
	features map[string][]models.IPDayFeatures
	stats    []models.TierStat
	lastOpts models.ScoreQueryOpts
}

func (f *fakeReader) Scores(_ context.Context, opts models.ScoreQueryOpts) ([]models.RiskScore, error) {
	f.lastOpts = opts
	return f.scores, nil
}

func (f *fakeReader) Features(_ context.Context, ip string, _ int) ([]models.IPDayFeatures, error) {
	rows, ok := f.features[ip]
	if !ok {
		return nil, fmt.Errorf("features for %s: %w", ip, store.ErrNotFound)
	}
	return rows, nil
}

func (f *fakeReader) TierStats(context.Context, time.Time) ([]models.TierStat, error) {
	return f.stats, nil
}

func newFake() *fakeReader {
	return &fakeReader{
		scores: []models.RiskScore{{IP: "6.6.6.6", Day: day, RequestCount: 5000, Score: 0.62, Tier: models.TierHigh}},
		features: map[string][]models.IPDayFeatures{
			"6.6.6.6": {{IP: "6.6.6.6", Day: day, RequestCount: 5000, UniqueURIs: 1, PeakRPS: 50}},
		},
		stats: []models.TierStat{{Day: "2024-12-20", Tier: models.TierHigh, Count: 1}},
	}
}

func roundTrip(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, srv.Run(context.Background(), bytes.NewReader(append(line, '\n')), &out))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp), out.String())
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolResult {
	t.Helper()
	params, _ := json.Marshal(ToolCallParams{Name: name, Arguments: json.RawMessage(args)})
	resp := roundTrip(t, srv, Request{JSONRPC: "2.0", ID: json.RawMessage(`7`), Method: "tools/call", Params: params})
	require.Nil(t, resp.Error)

	data, _ := json.Marshal(resp.Result)
	var res ToolResult
	require.NoError(t, json.Unmarshal(data, &res))
	require.Len(t, res.Content, 1)
	return res
}

func TestInitialize(t *testing.T) {
	srv := New(newFake(), zerolog.Nop(), "test")
	resp := roundTrip(t, srv, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	require.Nil(t, resp.Error)

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, protocolVersion, result.ProtocolVersion)
	assert.Equal(t, "edgescore", result.ServerInfo.Name)
}

func TestToolsList(t *testing.T) {
	resp := roundTrip(t, New(newFake(), zerolog.Nop(), "test"), Request{JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "tools/list"})
	data, _ := json.Marshal(resp.Result)
	var result struct{ Tools []Tool }
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Len(t, result.Tools, len(handlers))
	for _, tool := range result.Tools {
		assert.Contains(t, handlers, tool.Name)
	}
}

func TestNotificationHasNoResponse(t *testing.T) {
	var out bytes.Buffer
	srv := New(newFake(), zerolog.Nop(), "test")
	require.NoError(t, srv.Run(context.Background(), strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n"), &out))
	assert.Empty(t, out.String())
}

func TestParseErrorAndUnknownMethod(t *testing.T) {
	var out bytes.Buffer
	srv := New(newFake(), zerolog.Nop(), "test")
	require.NoError(t, srv.Run(context.Background(), strings.NewReader("{bad json\n"), &out))
	assert.Contains(t, out.String(), `"code":-32700`)

	resp := roundTrip(t, srv, Request{JSONRPC: "2.0", ID: json.RawMessage(`3`), Method: "resources/list"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestScoresTool(t *testing.T) {
	fake := newFake()
	srv := New(fake, zerolog.Nop(), "test")

	res := callTool(t, srv, "edgescore_scores", `{"date":"2024-12-20","min_tier":"medium_risk"}`)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "6.6.6.6")
	assert.Contains(t, res.Content[0].Text, "high_risk")
	assert.Equal(t, models.TierMedium, fake.lastOpts.MinTier)
	assert.Equal(t, day, fake.lastOpts.Day)
	assert.Equal(t, 50, fake.lastOpts.Limit)

	res = callTool(t, srv, "edgescore_scores", `{"min_tier":"spicy"}`)
	assert.True(t, res.IsError)
}

func TestIPTool(t *testing.T) {
	srv := New(newFake(), zerolog.Nop(), "test")

	res := callTool(t, srv, "edgescore_ip", `{"ip":"6.6.6.6"}`)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "5000")

	res = callTool(t, srv, "edgescore_ip", `{"ip":"10.0.0.1"}`)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "No data")

	res = callTool(t, srv, "edgescore_ip", `{}`)
	assert.True(t, res.IsError)
}

func TestTierStatsAndUnknownTool(t *testing.T) {
	srv := New(newFake(), zerolog.Nop(), "test")
	res := callTool(t, srv, "edgescore_tier_stats", `{"since":"2024-12-01"}`)
	assert.Contains(t, res.Content[0].Text, "2024-12-20")

	res = callTool(t, srv, "edgescore_tier_stats", `{"since":"Dec 1"}`)
	assert.True(t, res.IsError)

	res = callTool(t, srv, "nope", ``)
	assert.True(t, res.IsError)
}
