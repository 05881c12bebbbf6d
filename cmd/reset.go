package cmd

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yomogy/ito/internal/config"
	"github.com/yomogy/ito/internal/store"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all collections (sessions, users, rooms)",
	RunE:  runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close(context.Background())
	}()

	if err := st.Reset(ctx); err != nil {
		return err
	}
	log.Info().Str("db", cfg.MongoDB).Msg("database reset")
	return nil
}
