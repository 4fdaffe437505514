package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	glog "github.com/goliatone/go-logger/glog"

	sumid "github.com/sumi-social/sumid"
	"github.com/sumi-social/sumid/core"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the YAML config file")
	socketPath := flag.String("socket", "", "override the RPC socket path")
	filterDir := flag.String("filters", "", "override the filter directory")
	flag.Parse()

	_, logger := glog.Resolve("sumid", nil, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := resolveConfig(ctx, *configPath, core.Config{
		SocketPath: *socketPath,
		FilterDir:  *filterDir,
	})
	if err != nil {
		logger.Error("configuration failed", "error", err)
		os.Exit(1)
	}

	daemon, err := sumid.New(ctx, cfg, sumid.WithLogger(logger))
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if err := daemon.Run(ctx); err != nil {
		logger.Error("daemon stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("daemon stopped")
}

// resolveConfig layers runtime flag overrides on top of the config file and
// SUMID_* environment, on top of the built-in defaults.
func resolveConfig(ctx context.Context, path string, runtime core.Config) (core.Config, error) {
	defaults := core.DefaultConfig()
	provider := core.NewCfgxConfigProvider(core.FileRawConfigLoader{Path: path})
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return core.Config{}, err
	}
	return core.GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}

func defaultConfigPath() string {
	if path := os.Getenv("SUMID_CONFIG"); path != "" {
		return path
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/sumid/config.yaml"
	}
	return "config.yaml"
}
