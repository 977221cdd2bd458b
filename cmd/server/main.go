package main

import (
	"flag"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tiktok-extractor/internal/app"
	"tiktok-extractor/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Configuration directory")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	a, err := app.New(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing")
	}
	defer a.Close()

	a.Monitor.Start()

	srv, err := server.NewServer(a.Config, a.Storage, a.Downloader, a.Registry, a.Monitor, a.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating server")
	}
	if err := srv.Run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
}
