package main

import (
	"context"

	_ "github.com/jimmicro/version"
	"github.com/jimyag/vlab/internal/vlab"
	"github.com/jimyag/vlab/internal/vlab/config"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create config")
	}
	server, err := vlab.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}
	if err := server.Run(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to run server")
	}
}
