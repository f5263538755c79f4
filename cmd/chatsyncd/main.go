package main

import (
	"context"

	"github.com/joho/godotenv"

	"chatsync/internal/app"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")

	flags := config.ParseCommandFlags()
	cfgPath := config.ResolveConfigPath(flags.Config, flags.Set["config"])

	eff, err := config.LoadEffective(cfgPath, flags)
	if err != nil {
		logger.Init()
		shutdown.Abort("failed to load config", err)
	}

	logger.InitWithLevel(eff.Config.Logging.Level)
	logger.Info("starting", "version", version, "addr", eff.Addr, "db", eff.DBPath, "config_source", eff.Source)

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("failed to initialize", err)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server error", err)
	}
	logger.Sync()
}
