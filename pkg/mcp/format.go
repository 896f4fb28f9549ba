package mcp

import (
	"fmt"
	"strings"

	"github.com/edgescore/edgescore/pkg/models"
	"github.com/edgescore/edgescore/pkg/window"
)

func formatScores(rows []models.RiskScore) string {
	if len(rows) == 0 {
		return "No scores found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-39s %9s %6s %-11s\n", "Date", "IP", "Requests", "Score", "Tier")
	b.WriteString(strings.Repeat("-", 79) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-10s %-39s %9d %6.3f %-11s\n",
			r.Day.Format(window.DateLayout), r.IP, r.RequestCount, r.Score, r.Tier)
	}
	return b.String()
}

func formatFeatures(rows []models.IPDayFeatures) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %9s %6s %6s %6s %7s %7s %6s %9s\n",
		"Date", "Requests", "URIs", "Hit%", "Err%", "UA ent", "URI ent", "Peak", "7d avg")
	b.WriteString(strings.Repeat("-", 79) + "\n")
	for _, f := range rows {
		fmt.Fprintf(&b, "%-10s %9d %6d %5.1f%% %5.1f%% %7.2f %7.2f %6d %9.1f\n",
			f.Day.Format(window.DateLayout), f.RequestCount, f.UniqueURIs,
			f.CacheHitRatio*100, f.ErrorRate*100, f.UserAgentEntropy, f.URIEntropy,
			f.PeakRPS, f.MovingAvgRequests)
	}
	return b.String()
}

func formatTierStats(stats []models.TierStat) string {
	if len(stats) == 0 {
		return "No scores found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-11s %8s\n", "Date", "Tier", "IPs")
	b.WriteString(strings.Repeat("-", 31) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-10s %-11s %8d\n", s.Day, s.Tier, s.Count)
	}
	return b.String()
}
