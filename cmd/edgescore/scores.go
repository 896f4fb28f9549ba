package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgescore/edgescore/pkg/models"
	"github.com/edgescore/edgescore/pkg/window"
)

func newScoresCmd() *cobra.Command {
	var (
		configPath string
		date       string
		ip         string
		minTier    string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "scores",
		Short: "List stored risk scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := models.ScoreQueryOpts{IP: ip, Limit: limit}
			if date != "" {
				t, err := time.Parse(window.DateLayout, date)
				if err != nil {
					return fmt.Errorf("invalid --date (use YYYY-MM-DD): %w", err)
				}
				opts.Day = t
			}
			if minTier != "" {
				t, err := models.ParseTier(minTier)
				if err != nil {
					return err
				}
				opts.MinTier = t
			}

			_, _, st, err := setup(configPath)
			if err != nil {
				return err
			}
			defer st.Close()

			scores, err := st.Scores(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(scores) == 0 {
				fmt.Println("No scores found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tIP\tREQUESTS\tSCORE\tTIER\tRATE\tUA\tURI\tMISS\tBURST")
			for _, s := range scores {
				c := s.Components
				fmt.Fprintf(w, "%s\t%s\t%d\t%.3f\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
					s.Day.Format(window.DateLayout), s.IP, s.RequestCount, s.Score, s.Tier,
					c.Rate, c.UserAgent, c.URIRepetition, c.CacheMiss, c.Burst)
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&date, "date", "", "only this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&ip, "ip", "", "only this IP")
	cmd.Flags().StringVar(&minTier, "min-tier", "low_risk", "lowest tier to show (normal, low_risk, medium_risk, high_risk)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows to return")
	return cmd
}
