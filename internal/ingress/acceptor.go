package ingress

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ulule/limiter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/nexusfix/exchange/internal/config"
	"github.com/nexusfix/exchange/internal/egress"
	"github.com/nexusfix/exchange/internal/engine"
	"github.com/nexusfix/exchange/internal/metrics"
	"github.com/nexusfix/exchange/internal/validation"
	"github.com/nexusfix/exchange/internal/wire"
)

// Acceptor listens on the configured TCP address and spawns one
// Session per accepted connection. It never holds engine state: every
// admitted command flows onto Commands for the dispatcher goroutine to
// consume.
type Acceptor struct {
	listener    net.Listener
	cfg         *config.Config
	codec       *wire.Codec
	commands    chan engine.Command
	versionGate *VersionGate
	idempotency *Idempotency
	global      *limiter.Limiter
	egress      *egress.Manager
	validator   *validation.Validator
	logger      *zap.Logger
	metrics     *metrics.IngressMetrics
	cancel      context.CancelFunc
}

// Params is the fx.In bundle for NewAcceptor.
type Params struct {
	fx.In

	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.IngressMetrics
	Egress    *egress.Manager
	Lifecycle fx.Lifecycle
}

// Module wires the Acceptor and its command queue into the fx graph.
// The queue is also exposed so cmd/exchange's dispatch loop can read
// it directly: fx.Invoke(NewAcceptor) alone would not expose Commands
// to other fx.Invoke consumers.
var Module = fx.Options(
	fx.Provide(NewCommands),
	fx.Provide(NewAcceptor),
	fx.Invoke(func(*Acceptor) {}),
)

// Commands is the bounded MPSC command queue shared by every Session
// and consumed exclusively by the engine's dispatch loop.
type Commands chan engine.Command

// NewCommands constructs the bounded command queue sized per config.
func NewCommands(cfg *config.Config) Commands {
	return make(Commands, cfg.Engine.CommandQueueDepth)
}

// NewAcceptor builds an Acceptor and registers its lifecycle hooks; it
// does not start listening until OnStart fires.
func NewAcceptor(p Params, cmds Commands) (*Acceptor, error) {
	gate, err := NewVersionGate(p.Config.Ingress.ProtocolVersionRange)
	if err != nil {
		return nil, err
	}
	a := &Acceptor{
		cfg:         p.Config,
		codec:       wire.NewCodec(p.Config.Engine.PriceScale),
		commands:    cmds,
		versionGate: gate,
		idempotency: NewIdempotency(secondsToDuration(p.Config.Ingress.IdempotencyTTLSecs)),
		global:      NewGlobalLimiter(p.Config.Ingress.MaxCommandsPerSecond),
		egress:      p.Egress,
		validator:   validation.NewValidator(),
		logger:      p.Logger,
		metrics:     p.Metrics,
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error { return a.start() },
		OnStop: func(context.Context) error {
			a.stop()
			return nil
		},
	})

	return a, nil
}

func (a *Acceptor) start() error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	a.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.logger.Info("ingress listening", zap.String("addr", addr))
	go a.acceptLoop(ctx)
	return nil
}

func (a *Acceptor) stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.listener != nil {
		_ = a.listener.Close()
	}
}

func (a *Acceptor) acceptLoop(ctx context.Context) {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				a.logger.Warn("accept error", zap.Error(err))
				continue
			}
		}
		if a.metrics != nil {
			a.metrics.ActiveConnections.Inc()
		}
		session := NewSession(conn, a.codec, a.commands, a.cfg.Ingress.MaxCommandsPerSecond, a.versionGate, a.idempotency, a.global, a.egress, a.validator, a.logger, a.metrics)
		go func() {
			defer func() {
				if a.metrics != nil {
					a.metrics.ActiveConnections.Dec()
				}
			}()
			session.Serve(ctx)
		}()
	}
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
