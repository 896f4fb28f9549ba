package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/edgescore/edgescore/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Answer score queries as an MCP tool server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, st, err := setup(configPath)
			if err != nil {
				return err
			}
			defer st.Close()

			return mcp.New(st, log, version).Run(cmd.Context(), os.Stdin, os.Stdout)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
