package cmd

import (
	"context"
	"fmt"
	"net/http"
	stdsignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/yomogy/ito/internal/adapters/http"
	"github.com/yomogy/ito/internal/adapters/signal"
	"github.com/yomogy/ito/internal/app"
	"github.com/yomogy/ito/internal/config"
	"github.com/yomogy/ito/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the game server",
	RunE:  runServe,
}

var serveEphemeral bool

func init() {
	serveCmd.Flags().BoolVar(&serveEphemeral, "ephemeral", false, "in-memory store, no MongoDB")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := stdsignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var st store.Store
	if serveEphemeral {
		log.Warn().Msg("ephemeral store: state is lost on restart")
		st = store.NewMemory()
	} else {
		m, err := store.Open(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return err
		}
		defer func() {
			if err := m.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("mongo disconnect")
			}
		}()
		st = m
	}

	coord := app.NewCoordinator(st)
	if cfg.RoomCapacity > 0 {
		coord.RoomCapacity = cfg.RoomCapacity
	}
	ctl := signal.NewController(coord)

	r := router.SetupRouter(ctx, cfg, ctl, st)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("ito server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
