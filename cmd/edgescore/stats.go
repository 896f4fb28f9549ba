package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgescore/edgescore/pkg/models"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		days       int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show scored IP counts per day and tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, st, err := setup(configPath)
			if err != nil {
				return err
			}
			defer st.Close()

			var since time.Time
			if days > 0 {
				since = time.Now().UTC().AddDate(0, 0, -days)
			}
			stats, err := st.TierStats(cmd.Context(), since)
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				fmt.Println("No scores found.")
				return nil
			}

			// One row per day, one column per tier.
			var order []string
			byDay := make(map[string]map[models.RiskTier]int)
			for _, s := range stats {
				if byDay[s.Day] == nil {
					byDay[s.Day] = make(map[models.RiskTier]int)
					order = append(order, s.Day)
				}
				byDay[s.Day][s.Tier] = s.Count
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tNORMAL\tLOW\tMEDIUM\tHIGH")
			for _, d := range order {
				c := byDay[d]
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", d,
					c[models.TierNormal], c[models.TierLow], c[models.TierMedium], c[models.TierHigh])
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVar(&days, "days", 14, "days of history to show (0 for all)")
	return cmd
}
