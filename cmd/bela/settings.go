package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/misterbo94/Bela/internal/config"
)

func settingsCommand(load func(*cobra.Command) (config.Settings, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the effective settings after file, environment and flags are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := load(cmd)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(settings)
		},
	}
}
