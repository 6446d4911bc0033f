package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/avaropoint/camlink/internal/config"
)

func configCmd(path *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(*path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", *path)
			}
			if err := config.Default().Save(*path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", *path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*path)
			if err != nil {
				return err
			}
			if cfg.Archive.SecretKey != "" {
				cfg.Archive.SecretKey = "********"
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
