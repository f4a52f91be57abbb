package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"barid/backend/internal/directory"
	sqlstore "barid/backend/internal/storage/sql"
)

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the emails and attachments tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Database.Type == "" {
				return errors.New("database.type is not configured, nothing to migrate")
			}

			dbCfg := cfg.Database
			dbCfg.AutoMigrate = false
			store, err := sqlstore.NewStore(cmd.Context(), dbCfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s database\n", dbCfg.Type)
			return nil
		},
	}
}

func newDomainsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "domains",
		Short: "List the supported recipient domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			dir, err := directory.New(cfg.Domains, e.logger())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DOMAIN\tOWNER")
			for _, entry := range dir.Entries() {
				fmt.Fprintf(w, "%s\t%s\n", entry.Domain, entry.Owner)
			}
			return w.Flush()
		},
	}
}
