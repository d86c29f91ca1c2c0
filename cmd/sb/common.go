package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/remote"
	"gorm.io/gorm"
)

// newRemote builds the remote client. Replaced in tests.
var newRemote = func(ctx context.Context, cfg *config.Config) (remote.Client, error) {
	return remote.New(ctx, cfg)
}

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", config.DefaultPath(), "path to signalbox config file (.yaml or .toml)")
}

// openDB loads the config and opens its database with the schema in place.
func openDB(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.LoadOrCreate(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		db.Close(gdb)
		return nil, nil, err
	}
	return cfg, gdb, nil
}

// currentProject returns the project recorded by sb init for the working
// directory, or nil when there is none.
func currentProject() (*config.Project, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	p, _, err := config.FindProject(wd)
	if errors.Is(err, config.ErrNoProject) {
		return nil, nil
	}
	return p, err
}

// resolveProject returns id when given, else the project from sb init.
func resolveProject(id int64) (int64, error) {
	if id < 0 {
		return 0, fmt.Errorf("invalid project id %d", id)
	}
	if id > 0 {
		return id, nil
	}
	p, err := currentProject()
	if err != nil {
		return 0, err
	}
	if p == nil {
		return 0, fmt.Errorf("no project id given and no %s found; pass the project or run sb init", config.ProjectFile)
	}
	return p.ProjectID, nil
}
