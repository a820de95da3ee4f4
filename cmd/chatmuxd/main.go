package main

import (
	"flag"

	"go.uber.org/fx"

	"github.com/mvalverde/chatmux/internal/config"
	"github.com/mvalverde/chatmux/internal/daemon"
	"github.com/mvalverde/chatmux/internal/paths"
)

func main() {
	dataDir := flag.String("data-dir", "", "data directory (overrides config default)")
	configPath := flag.String("config", "", "config file path (default <data-dir>/config.toml)")
	listenAddr := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	dir := *dataDir
	if dir == "" {
		dir = config.Defaults().DataDir
	}
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = paths.ConfigPath(dir)
	}

	cfg := config.LoadOrDefault(cfgPath)
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	fx.New(daemon.Module(cfg)).Run()
}
