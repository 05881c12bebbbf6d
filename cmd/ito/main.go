package main

import (
	"github.com/rs/zerolog/log"

	"github.com/yomogy/ito/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}
