package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/edgescore/edgescore/pkg/config"
	"github.com/edgescore/edgescore/pkg/logging"
	"github.com/edgescore/edgescore/pkg/publish"
	"github.com/edgescore/edgescore/pkg/source"
	"github.com/edgescore/edgescore/pkg/store"
)

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", "", "path to edgescore config file")
}

// setup loads config, builds the logger and opens the store.
func setup(configPath string) (*config.Config, zerolog.Logger, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	return cfg, log, st, nil
}

func openSource(cfg *config.Config) (source.Source, error) {
	switch {
	case cfg.Source.Path != "":
		return source.NewFileSource(cfg.Source.Path)
	case cfg.Source.S3.Bucket != "":
		return source.NewS3Source(cfg.Source.S3)
	}
	return nil, fmt.Errorf("no log source configured: set source.path or source.s3.bucket")
}

func openPublisher(ctx context.Context, cfg *config.Config) (publish.Publisher, error) {
	if !cfg.Redis.Enabled {
		return publish.Nop{}, nil
	}
	return publish.NewRedis(ctx, cfg.Redis)
}
