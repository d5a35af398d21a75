package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dailyyoga/mongoconfigs/config"
	"github.com/dailyyoga/mongoconfigs/configs"
	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/dailyyoga/mongoconfigs/store"
	"github.com/dailyyoga/mongoconfigs/store/memstore"
	"github.com/dailyyoga/mongoconfigs/store/mongostore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	inMemory   bool
)

// rootCmd is the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mongoconfigs",
	Short: "Cached configuration and message catalogs backed by MongoDB",
	Long: `mongoconfigs serves configuration objects and localized message catalogs
from MongoDB, keeps them cached and follows changes made by other processes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		l, logErr := logger.New(&logger.Config{Level: "debug", Encoding: "console"})
		if logErr != nil {
			fmt.Fprintln(os.Stderr, err)
		} else {
			l.Error("command failed", zap.Error(err))
			_ = l.Sync()
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./mongoconfigs.yaml)")
	rootCmd.PersistentFlags().BoolVar(&inMemory, "memory", false, "use an in-memory store instead of MongoDB")
	rootCmd.AddCommand(serveCmd, getCmd, reloadCmd)
}

// env is what every subcommand needs to run the engine
type env struct {
	cfg    *config.Config
	log    logger.Logger
	client store.Client
	engine *configs.Configs
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	var client store.Client
	if inMemory {
		client = memstore.New(0)
	} else if client, err = mongostore.New(ctx, log, cfg.Mongo); err != nil {
		return nil, err
	}

	engine, err := configs.New(log, &cfg.Config, client)
	if err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	return &env{cfg: cfg, log: log, client: client, engine: engine}, nil
}

func (e *env) close(ctx context.Context) error {
	err := e.engine.Close(ctx)
	if cerr := e.client.Close(ctx); err == nil {
		err = cerr
	}
	_ = e.log.Sync()
	return err
}
