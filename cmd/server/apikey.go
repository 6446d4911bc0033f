package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/avaropoint/camlink/internal/config"
	"github.com/avaropoint/camlink/internal/security"
	"github.com/avaropoint/camlink/internal/store"
)

// openStore loads the config and opens its database.
func openStore(path string) (*store.SQLiteStore, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.Database.Path)
}

func apikeyCmd(path *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage admin API keys",
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a key; the plaintext is shown once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(*path)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			rec, key, err := security.GenerateAPIKey(args[0])
			if err != nil {
				return err
			}
			if err := db.CreateAPIKey(cmd.Context(), rec); err != nil {
				return fmt.Errorf("store key: %w", err)
			}
			fmt.Printf("Created API key %q (id %s)\n\n  %s\n\nStore it now; it cannot be shown again.\n", rec.Name, rec.ID, key)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(*path)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			keys, err := db.ListAPIKeys(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPREFIX\tCREATED\tLAST USED")
			for _, k := range keys {
				last := "never"
				if k.LastUsed != nil {
					last = k.LastUsed.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%s\t%s...\t%s\t%s\n", k.ID, k.Name, k.Prefix, k.CreatedAt.Local().Format(time.DateTime), last)
			}
			return w.Flush()
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(*path)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck
			if err := db.DeleteAPIKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted API key %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, deleteCmd)
	return cmd
}
