package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the signalbox database",
		Long:  "Creates the config file if missing, opens the configured database and migrates all tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gdb, err := openDB(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	switch cfg.Database.Driver {
	case config.DriverMySQL:
		m := cfg.Database.MySQL
		fmt.Fprintf(out, "Connected to MySQL at %s:%d/%s\n", m.Host, m.Port, m.Name)
	default:
		fmt.Fprintf(out, "Opened SQLite database %s\n", cfg.ResolvePath(cfg.Database.Path))
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}
