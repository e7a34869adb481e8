// Command exchange runs the matching engine process: the ingress
// acceptor, the single-writer dispatch loop, the egress fan-out, and
// the admin HTTP surface, wired together with fx.
package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/nexusfix/exchange/internal/config"
	"github.com/nexusfix/exchange/internal/egress"
	"github.com/nexusfix/exchange/internal/engine"
	"github.com/nexusfix/exchange/internal/eventbus"
	"github.com/nexusfix/exchange/internal/httpapi"
	"github.com/nexusfix/exchange/internal/ingress"
	"github.com/nexusfix/exchange/internal/metrics"
	"github.com/nexusfix/exchange/pkg/xerrors"
)

func main() {
	configPath := flag.String("config", "", "directory or file to load config.yaml from")
	flag.Parse()

	app := fx.New(
		fx.Provide(func() (*config.Config, error) { return config.Load(*configPath) }),
		fx.Provide(config.NewLogger),
		fx.Provide(newEngineConfig),
		fx.Provide(engine.NewEngine),

		metrics.Module,
		eventbus.Module,
		egress.Module,
		ingress.Module,
		httpapi.Module,

		fx.Invoke(runDispatchLoop),
	)

	app.Run()
}

func newEngineConfig(c *config.Config) engine.Config {
	return engine.Config{
		InitialEndowment:  engine.Ticks(int64(c.Engine.InitialEndowment * float64(c.Engine.PriceScale))),
		AllowShortSelling: c.Engine.AllowShortSelling,
		SnapshotDepth:     c.Engine.SnapshotDepth,
	}
}

// runDispatchLoop starts the engine's single-writer goroutine: it is
// the only consumer of the command queue and the only caller of
// Engine.Dispatch, and publishes every event Dispatch returns onto the
// shared bus for egress workers to pick up.
func runDispatchLoop(lc fx.Lifecycle, eng *engine.Engine, bus *eventbus.Bus, cmds ingress.Commands, m *metrics.EngineMetrics, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go dispatchLoop(ctx, eng, bus, cmds, m, logger)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func dispatchLoop(ctx context.Context, eng *engine.Engine, bus *eventbus.Bus, cmds ingress.Commands, m *metrics.EngineMetrics, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-cmds:
			start := time.Now()
			events := eng.Dispatch(cmd)
			if m != nil {
				m.CommandsTotal.WithLabelValues(cmd.Kind.String()).Inc()
				m.DispatchDuration.Observe(time.Since(start).Seconds())
			}
			for _, ev := range events {
				if ev.Kind == engine.EvtOrderRejected && xerrors.IsInternal(xerrors.Code(ev.RejectCode)) {
					logger.Fatal("engine invariant violation", zap.Uint64("order_id", uint64(ev.OrderID)), zap.String("reason", ev.RejectReason))
				}
				if m != nil {
					m.EventsTotal.WithLabelValues(ev.Kind.String()).Inc()
					if ev.Kind == engine.EvtOrderRejected && ev.RejectCode != "" {
						m.OrdersRejected.WithLabelValues(ev.RejectCode).Inc()
					}
				}
				if err := bus.Publish(ev); err != nil {
					logger.Warn("publish event failed", zap.Error(err), zap.String("kind", ev.Kind.String()))
				}
			}
		}
	}
}
