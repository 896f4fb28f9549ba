package main

import (
	"github.com/spf13/cobra"

	"github.com/edgescore/edgescore/pkg/api"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored scores over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, st, err := setup(configPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if listen != "" {
				cfg.API.Listen = listen
			}
			return api.New(st, log).ListenAndServe(cmd.Context(), cfg.API.Listen)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides api.listen)")
	return cmd
}
