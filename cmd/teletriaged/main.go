package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"teletriage/internal/config"
	"teletriage/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.teletriage/config.toml)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "config: %s\n", p)
		}
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			ConfigPath: configPath,
			ListenAddr: *listenFlag,
		}),
	)

	app.Run()
}
