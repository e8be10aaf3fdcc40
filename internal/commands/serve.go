package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nando3d2000/parking-project-backend/internal/api"
	"github.com/nando3d2000/parking-project-backend/internal/api/handler"
	"github.com/nando3d2000/parking-project-backend/internal/realtime"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the WebSocket feed and the sensor simulator",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	if !a.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	hub := realtime.NewHub(0, a.metrics, log)
	broadcaster := realtime.NewBroadcaster(hub, a.metrics, log)
	svc := a.services(a.statsCache(ctx), broadcaster)

	checks := map[string]handler.Pinger{"database": a.store.ping}
	if a.redis != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return a.redis.Ping(ctx).Err() })
	}
	var gatherer prometheus.Gatherer
	if a.cfg.MetricsEnabled {
		gatherer = a.registry
	}

	router := api.NewRouter(api.Deps{
		Auth:         svc.auth,
		Lots:         svc.lots,
		Spots:        svc.spots,
		Sessions:     svc.sessions,
		Simulator:    svc.simulator,
		WebSocket:    realtime.NewServer(hub, broadcaster, svc.spots, a.cfg.WSSnapshotRate, log),
		Gatherer:     gatherer,
		ReadyChecks:  checks,
		ExposeErrors: a.cfg.IsDevelopment(),
		Log:          log,
	})

	srv := &http.Server{
		Addr:              ":" + a.cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", a.cfg.AppEnv).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	simCtx, cancelSim := context.WithCancel(ctx)
	simStarted := make(chan struct{})
	go func() {
		defer close(simStarted)
		if !a.cfg.Simulator.Enabled {
			return
		}
		select {
		case <-time.After(a.cfg.Simulator.StartDelay):
			svc.simulator.Start()
		case <-simCtx.Done():
		}
	}()
	stopBackground := func() {
		cancelSim()
		<-simStarted
		svc.simulator.Stop()
		hub.Close()
	}

	select {
	case err := <-serverErr:
		if err != nil {
			stopBackground()
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
