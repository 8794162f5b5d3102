package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the fully resolved configuration as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadResolvedConfig(cmd)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(data))

			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit nonzero on failure",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadResolvedConfig(cmd); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "ok")

			return nil
		},
	}
}
