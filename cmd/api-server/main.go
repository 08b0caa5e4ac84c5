package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"

	"animehub/internal/app"
	"animehub/internal/events"
	"animehub/internal/logging"
	"animehub/internal/syncer"
	"animehub/pkg/database"
	"animehub/pkg/utils"
)

func main() {
	cfg, err := utils.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(cfg.Log)
	gin.SetMode(gin.ReleaseMode)

	db := database.MustOpen(cfg.Database)
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		logging.Fatal().Err(err).Msg("db migrate failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub()
	var pub events.Publisher = hub
	var udp *events.UDPNotifier
	if cfg.Events.UDPAddr != "" {
		udp = events.NewUDPNotifier(cfg.Events.UDPAddr)
		pub = events.Multi{hub, udp}
	}
	svc := app.Build(cfg, db, pub)

	// detached runs live on their own context so a shutdown cancels them
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()
	runner := syncer.NewRunner(runCtx)

	httpSrv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: app.Router(svc, hub, runner),
	}

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	if cfg.Events.TCPAddr != "" {
		tcpSrv := events.NewServer(cfg.Events.TCPAddr, hub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tcpSrv.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	if udp != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := udp.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logging.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP API server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logging.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logging.Error().Err(err).Msg("server error")
		stop()
	}

	logging.Info().Msg("shutting down servers")
	cancelRuns()
	for _, r := range runner.List() {
		if r.State == syncer.RunRunning {
			logging.Warn().Str("run_id", r.ID).Msg("run cancelled by shutdown")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("http shutdown error")
	}

	wg.Wait()
	logging.Info().Msg("servers stopped")
}
