package main

import (
	"context"
	"flag"
	"os"

	"github.com/rs/zerolog"

	"github.com/openturion/turion/pkg/config"
	"github.com/openturion/turion/pkg/gateway"
	"github.com/openturion/turion/pkg/lifecycle"
)

// cmd/gateway/main.go

func main() {
	configPath := flag.String("config", "/etc/turion/gateway.json", "path to gateway config file")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	var cfg gateway.Config
	if err := config.LoadAndValidate(*configPath, &cfg); err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}

	server, err := gateway.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create gateway")
	}

	err = lifecycle.RunServer(context.Background(), &lifecycle.ServerOptions{
		ListenAddr:  cfg.ListenAddr,
		ServiceName: "webcam-gateway",
		Service:     server,
		Handler:     server.Handler(),
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway exited with error")
	}
}
