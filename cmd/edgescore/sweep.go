package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete rows older than the per-table retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, st, err := setup(configPath)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := st.Sweep(cmd.Context(), time.Now(), cfg.Retention)
			if err != nil {
				return err
			}
			log.Info().Int64("logs", res.Logs).Int64("features", res.Features).Int64("scores", res.Scores).Msg("retention sweep")
			fmt.Printf("Deleted %d log rows, %d feature rows, %d score rows.\n", res.Logs, res.Features, res.Scores)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
