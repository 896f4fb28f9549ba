package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/edgescore/edgescore/pkg/models"
	"github.com/edgescore/edgescore/pkg/store"
	"github.com/edgescore/edgescore/pkg/window"
)

type handler func(ctx context.Context, s *Server, args json.RawMessage) ToolResult

var handlers = map[string]handler{
	"edgescore_scores":     handleScores,
	"edgescore_ip":         handleIP,
	"edgescore_tier_stats": handleTierStats,
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var tools = []Tool{
	{
		Name:        "edgescore_scores",
		Description: "List scored IP-days, highest anomaly score first.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date":     stringProp("Day to list (YYYY-MM-DD), omit for all days"),
				"min_tier": stringProp("Lowest tier: normal, low_risk, medium_risk or high_risk"),
				"ip":       stringProp("Only this source IP"),
				"limit":    map[string]any{"type": "integer", "description": "Max rows (default 50)"},
			},
		},
	},
	{
		Name:        "edgescore_ip",
		Description: "Show daily features and scores for one source IP.",
		InputSchema: map[string]any{
			"type":       "object",
			"required":   []string{"ip"},
			"properties": map[string]any{"ip": stringProp("Source IP")},
		},
	},
	{
		Name:        "edgescore_tier_stats",
		Description: "Count scored IPs per day and risk tier.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"since": stringProp("First day to include (YYYY-MM-DD)")},
		},
	},
}

type scoresArgs struct {
	Date    string `json:"date"`
	MinTier string `json:"min_tier"`
	IP      string `json:"ip"`
	Limit   int    `json:"limit"`
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(window.DateLayout, s)
}

func handleScores(ctx context.Context, s *Server, raw json.RawMessage) ToolResult {
	var args scoresArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure("invalid arguments: " + err.Error())
	}
	opts := models.ScoreQueryOpts{IP: args.IP, Limit: args.Limit}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	day, err := parseDay(args.Date)
	if err != nil {
		return failure("invalid date (use YYYY-MM-DD)")
	}
	opts.Day = day
	if args.MinTier != "" {
		if opts.MinTier, err = models.ParseTier(args.MinTier); err != nil {
			return failure(err.Error())
		}
	}

	scores, err := s.store.Scores(ctx, opts)
	if err != nil {
		return failure("Error fetching scores: " + err.Error())
	}
	return text(formatScores(scores))
}

func handleIP(ctx context.Context, s *Server, raw json.RawMessage) ToolResult {
	var args struct {
		IP string `json:"ip"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return failure("invalid arguments: " + err.Error())
	}
	if args.IP == "" {
		return failure("ip is required")
	}

	feats, err := s.store.Features(ctx, args.IP, 14)
	if errors.Is(err, store.ErrNotFound) {
		return text("No data for " + args.IP + ".")
	}
	if err != nil {
		return failure("Error fetching features: " + err.Error())
	}
	scores, err := s.store.Scores(ctx, models.ScoreQueryOpts{IP: args.IP, Limit: 14})
	if err != nil {
		return failure("Error fetching scores: " + err.Error())
	}
	return text(formatFeatures(feats) + "\n" + formatScores(scores))
}

func handleTierStats(ctx context.Context, s *Server, raw json.RawMessage) ToolResult {
	var args struct {
		Since string `json:"since"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return failure("invalid arguments: " + err.Error())
	}
	since, err := parseDay(args.Since)
	if err != nil {
		return failure("invalid since date (use YYYY-MM-DD)")
	}
	stats, err := s.store.TierStats(ctx, since)
	if err != nil {
		return failure("Error fetching tier stats: " + err.Error())
	}
	return text(formatTierStats(stats))
}
