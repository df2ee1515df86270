package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/misterbo94/Bela/internal/config"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "bela",
		Short:         "Real-time audio render core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a bela.yaml settings file")
	config.RegisterFlags(rootCmd.PersistentFlags())

	load := func(cmd *cobra.Command) (config.Settings, error) {
		return config.Load(configPath, cmd.Flags())
	}

	rootCmd.AddCommand(runCommand(load), settingsCommand(load))
	return rootCmd
}
