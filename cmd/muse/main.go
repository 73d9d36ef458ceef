package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/musenet/muse/internal/config"
	"github.com/musenet/muse/internal/peer"
	"github.com/musenet/muse/internal/player"
	"github.com/musenet/muse/internal/ui"
	"github.com/musenet/muse/pkg/utils/logging"
	"github.com/spf13/viper"
)

func main() {
	configFilePath := flag.String("config", "", "path to a config file")
	name := flag.String("name", "", "peer name announced to the network")
	port := flag.String("port", "", "four-digit TCP port to listen on")
	bootstrap := flag.String("bootstrap", "", "host:port of any peer of an existing network")
	logLevel := flag.String("loglevel", "", "debug, info, warn or error")
	flag.Parse()

	// Flags beat config file beats defaults.
	for key, val := range map[string]string{
		"name":      *name,
		"port":      *port,
		"bootstrap": *bootstrap,
		"loglevel":  *logLevel,
	} {
		if val != "" {
			viper.Set(key, val)
		}
	}

	cfg, err := config.Load(*configFilePath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	client := ui.NewClient(os.Stdout, slog.Default())

	p, err := peer.New(cfg, client, player.NewWAVSink(slog.Default()), nil)
	if err != nil {
		slog.Error("peer startup failed", "error", err)
		os.Exit(1)
	}
	client.Attach(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	uiErr := make(chan error, 1)
	go func() { uiErr <- client.Run(ctx, os.Stdin) }()

	// The runtime failing (bootstrap unreachable, listener death) ends
	// the process even while the command loop is blocked on stdin.
	select {
	case err := <-runErr:
		if err != nil {
			slog.Error("peer exited", "error", err)
			os.Exit(1)
		}
	case err := <-uiErr:
		cancel()
		<-runErr
		if err != nil {
			slog.Error("command loop failed", "error", err)
			os.Exit(1)
		}
	}
}

func setupLogger(level string) {
	opts := logging.DefaultOptions()

	switch level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(logging.NewPrettyHandler(os.Stderr, &opts)))
}
