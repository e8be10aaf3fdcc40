package commands

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
)

var (
	simulateInterval   time.Duration
	simulateTicks      int
	simulateStatsEvery time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the sensor simulator without the HTTP server",
	Long: `simulate drives the configured storage with simulated sensor readings.
With --ticks it runs that many cycles back to back and exits; otherwise it runs
on its interval until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return simulate(ctx)
	},
}

func init() {
	simulateCmd.Flags().DurationVar(&simulateInterval, "interval", 0, "tick interval (defaults to SIMULATOR_INTERVAL)")
	simulateCmd.Flags().IntVar(&simulateTicks, "ticks", 0, "run this many ticks and exit")
	simulateCmd.Flags().DurationVar(&simulateStatsEvery, "stats-every", 30*time.Second, "how often to log simulator totals")
}

// logPublisher reports simulated changes on the console in place of a WebSocket feed.
type logPublisher struct {
	log     zerolog.Logger
	changes atomic.Int64
}

func (p *logPublisher) PublishSpotStatusChange(c domain.SpotStatusChange) {
	p.changes.Add(1)
	p.log.Info().
		Int("spotId", c.SpotID).
		Str("code", c.Code).
		Str("from", c.OldStatus.Display()).
		Str("to", c.NewStatus.Display()).
		Str("reason", c.Reason).
		Msg("spot status changed")
}

func (p *logPublisher) PublishLotStats(u domain.LotStatsUpdate) {
	p.log.Debug().Int("lotId", u.LotID).Msg("lot stats changed")
}

func (p *logPublisher) PublishSensorTelemetry(r domain.SensorTelemetry) {
	p.log.Debug().Str("sensorId", r.SensorID).Int("spotId", r.SpotID).Msg("sensor reading")
}

func simulate(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if simulateInterval > 0 {
		a.cfg.Simulator.Interval = simulateInterval
	}
	pub := &logPublisher{log: a.log}
	svc := a.services(nil, pub)
	sim := svc.simulator

	if simulateTicks > 0 {
		for i := 0; i < simulateTicks && ctx.Err() == nil; i++ {
			if _, err := sim.Tick(ctx); err != nil {
				a.log.Warn().Err(err).Int("tick", i+1).Msg("tick rejected")
			}
		}
		a.log.Info().Int("ticks", simulateTicks).Int64("changes", pub.changes.Load()).Msg("simulation finished")
		return nil
	}

	sim.Start()
	a.log.Info().Dur("interval", a.cfg.Simulator.Interval).Msg("simulator running, press Ctrl+C to stop")

	ticker := time.NewTicker(simulateStatsEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.log.Info().Bool("running", sim.Running()).Int64("changes", pub.changes.Load()).Msg("simulator active")
		case <-ctx.Done():
			sim.Stop()
			a.log.Info().Msg("simulator stopped")
			return nil
		}
	}
}
