// Package egress fans engine events out to client sockets: one
// worker-pool job per delivered event, isolated per client by a
// circuit breaker so one broken socket can't stall the pool.
package egress

import (
	"context"
	"net"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/panjf2000/ants/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/nexusfix/exchange/internal/config"
	"github.com/nexusfix/exchange/internal/engine"
	"github.com/nexusfix/exchange/internal/eventbus"
	"github.com/nexusfix/exchange/internal/metrics"
	"github.com/nexusfix/exchange/internal/wire"
	"sync"
)

// Manager owns the egress worker pool and the per-client circuit
// breakers. One Manager serves every connection in the process.
type Manager struct {
	bus         *eventbus.Bus
	codec       *wire.Codec
	pool        *ants.Pool
	breakers    sync.Map // clientID string -> *gobreaker.CircuitBreaker
	maxFailures int
	metrics     *metrics.EgressMetrics
	logger      *zap.Logger
}

// Module wires Manager into the fx graph.
var Module = fx.Options(
	fx.Provide(NewManager),
)

// NewManager builds a Manager with a worker pool sized per config.
func NewManager(lc fx.Lifecycle, bus *eventbus.Bus, cfg *config.Config, m *metrics.EgressMetrics, logger *zap.Logger) (*Manager, error) {
	pool, err := ants.NewPool(cfg.Egress.WorkerPoolSize)
	if err != nil {
		return nil, err
	}
	mgr := &Manager{
		bus:         bus,
		codec:       wire.NewCodec(cfg.Engine.PriceScale),
		pool:        pool,
		maxFailures: cfg.Egress.BreakerMaxFailures,
		metrics:     m,
		logger:      logger,
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Release()
			return nil
		},
	})
	return mgr, nil
}

func (mgr *Manager) breakerFor(clientID engine.ClientID) *gobreaker.CircuitBreaker {
	key := clientID.String()
	if v, ok := mgr.breakers.Load(key); ok {
		return v.(*gobreaker.CircuitBreaker)
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: key,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(mgr.maxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen && mgr.metrics != nil {
				mgr.metrics.BreakerTripsTotal.WithLabelValues(name).Inc()
			}
		},
	})
	actual, _ := mgr.breakers.LoadOrStore(key, cb)
	return actual.(*gobreaker.CircuitBreaker)
}

// Attach subscribes conn to clientID's event topic and begins
// delivering every event addressed to it until ctx is cancelled.
func (mgr *Manager) Attach(ctx context.Context, clientID engine.ClientID, conn net.Conn) error {
	ch, err := mgr.bus.SubscribeClient(ctx, clientID)
	if err != nil {
		return err
	}
	go func() {
		for msg := range ch {
			m := msg
			if submitErr := mgr.pool.Submit(func() { mgr.deliver(clientID, conn, m) }); submitErr != nil {
				mgr.logger.Warn("egress pool saturated, dropping event", zap.Error(submitErr))
				m.Nack()
			}
		}
	}()
	return nil
}

func (mgr *Manager) deliver(clientID engine.ClientID, conn net.Conn, msg *message.Message) {
	ev, err := eventbus.UnmarshalEvent(msg.Payload)
	if err != nil {
		mgr.logger.Error("egress: malformed event payload", zap.Error(err))
		msg.Nack()
		return
	}

	breaker := mgr.breakerFor(clientID)
	_, err = breaker.Execute(func() (interface{}, error) {
		frame := mgr.codec.EncodeEvent(ev)
		_, werr := conn.Write([]byte(frame + "\n"))
		return nil, werr
	})
	if err != nil {
		if mgr.metrics != nil {
			mgr.metrics.DeliveredTotal.WithLabelValues("failed").Inc()
		}
		msg.Nack()
		return
	}
	if mgr.metrics != nil {
		mgr.metrics.DeliveredTotal.WithLabelValues("ok").Inc()
	}
	msg.Ack()
}
