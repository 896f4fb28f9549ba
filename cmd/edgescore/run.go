package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgescore/edgescore/pkg/models"
	"github.com/edgescore/edgescore/pkg/pipeline"
	"github.com/edgescore/edgescore/pkg/window"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		mode       string
		runDate    string
		sourcePath string
		jsonOut    bool
		noPublish  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Recompute features and scores for the processing window",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := window.ParseMode(mode)
			if err != nil {
				return err
			}

			cfg, log, st, err := setup(configPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if sourcePath != "" {
				cfg.Source.Path = sourcePath
			}
			if runDate == "" {
				runDate = cfg.RunDate
			}
			day, err := window.ResolveRunDate(runDate, time.Now())
			if err != nil {
				return err
			}

			w, err := cfg.ProcessingWindow()
			if err != nil {
				return err
			}
			src, err := openSource(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if noPublish {
				cfg.Redis.Enabled = false
			}
			pub, err := openPublisher(ctx, cfg)
			if err != nil {
				return err
			}
			defer pub.Close()

			runner, err := pipeline.New(pipeline.Options{
				Source:    src,
				Store:     st,
				Publisher: pub,
				Window:    w,
				Normalize: cfg.NormalizeOptions(),
				Features:  cfg.FeatureOptions(),
				Scoring:   cfg.ScoringOptions(),
				Shards:    cfg.Dedup.Shards,
				Logger:    log,
			})
			if err != nil {
				return err
			}

			res, err := runner.Run(ctx, m, day)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return printRunResult(res)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&mode, "mode", "incremental", "run mode: incremental, backfill or full")
	cmd.Flags().StringVar(&runDate, "date", "", "anchor date (YYYY-MM-DD, default yesterday UTC)")
	cmd.Flags().StringVar(&sourcePath, "source", "", "read logs from this file or directory instead of the configured source")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the run result as JSON")
	cmd.Flags().BoolVar(&noPublish, "no-publish", false, "skip publishing flagged IPs")
	return cmd
}

func printRunResult(res models.RunResult) error {
	from := "-"
	if !res.From.IsZero() {
		from = res.From.Format(window.DateLayout)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run:\t%s (%s)\n", res.RunID, res.Mode)
	fmt.Fprintf(w, "Window:\t%s .. %s\n", from, res.To.Format(window.DateLayout))
	fmt.Fprintf(w, "Read:\t%d (malformed %d, static %d, out of range %d)\n", res.Read, res.Malformed, res.Static, res.OutOfRange)
	fmt.Fprintf(w, "Records:\t%d (duplicates %d)\n", res.Records, res.Duplicates)
	fmt.Fprintf(w, "IP-days:\t%d\n", res.Scored)
	for _, t := range models.Tiers {
		fmt.Fprintf(w, "  %s:\t%d\n", t, res.Tiers[t])
	}
	fmt.Fprintf(w, "Expected flagged:\t%d\n", res.Expected)
	fmt.Fprintf(w, "Published:\t%d\n", res.Published)
	fmt.Fprintf(w, "Took:\t%s\n", res.Duration.Round(time.Millisecond))
	return w.Flush()
}
