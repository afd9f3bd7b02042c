package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"slidecast/handlers"
	"slidecast/repository"
	"slidecast/services"
	"slidecast/utils"
)

func newServeCommand() *cobra.Command {
	var origins []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), origins)
		},
	}

	cmd.Flags().StringSliceVar(&origins, "cors-origin", nil, "Allowed CORS origin (repeatable)")
	return cmd
}

func serve(ctx context.Context, origins []string) error {
	cfg, personas, err := loadApp()
	if err != nil {
		return err
	}
	if err := cfg.RequireAIKeys(); err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for serve")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := repository.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	store, closeStore, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, err := newPublisher(ctx, cfg)
	if err != nil {
		return err
	}

	geminiKeys := utils.NewAPIKeyPool(cfg.GeminiAPIKeys)
	projects := services.NewProjectService(
		repo,
		store,
		services.NewPDFRasterizer(cfg.RasterDPI),
		services.NewNarrationService(newScriptWriter(cfg, geminiKeys), newSpeech(cfg, geminiKeys), cfg.MaxConcurrentTTSRequests),
		services.NewVideoService(newCompositor(ctx, cfg), nil),
		personas,
		cfg.DefaultPersona,
	)

	h := handlers.NewHandler(projects, store, handlers.Options{Publisher: publisher})
	defer h.Close()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.Port),
		Handler: handlers.NewRouter(h, handlers.RouterConfig{
			AllowOrigins: origins,
			JWTSecret:    cfg.JWTSecret,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
