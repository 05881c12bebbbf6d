package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ito",
	Short: "Party game backend: session lifecycle, rooms, voice signaling",
	Long:  `HTTP + WebSocket API. Commands: serve, client, reset.`,
	RunE:  runServe, // default: run the server (same as "ito serve")
}

func init() {
	cobra.OnInitialize(initLogger)
}

func initLogger() {
	// Global logger set up before config.Load so it can log too.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Execute runs the root command and returns the error (for main to log.Fatal).
func Execute() error {
	return rootCmd.Execute()
}
