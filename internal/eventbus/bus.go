// Package eventbus fans EngineEvents out to egress workers over an
// in-process watermill Pub/Sub. Every event publishes to its
// instrument's topic (market-data style consumers) and, when it
// carries a ClientID, to a per-client topic so the owning connection's
// egress worker can pick it up without scanning every instrument feed.
package eventbus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/nexusfix/exchange/internal/engine"
)

// Bus wraps a watermill GoChannel Pub/Sub specialized for engine.Event
// payloads. It never touches the network: the whole instance lives in
// one process, matching the single-venue deployment model.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *zap.Logger
}

// New constructs a Bus. The underlying GoChannel is non-persistent: it
// does not keep events for late subscribers, so only egress workers
// already subscribed when an event is published receive it.
func New(logger *zap.Logger) *Bus {
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            1024,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewStdLogger(false, false),
	)
	return &Bus{pubsub: pubsub, logger: logger}
}

// Module wires Bus into the fx graph and closes it on shutdown.
var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, bus *Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Info("closing event bus")
			return bus.pubsub.Close()
		},
	})
}

// InstrumentTopic is the market-data-style topic for an instrument's
// events.
func InstrumentTopic(instrument engine.InstrumentID) string {
	return "instrument." + string(instrument)
}

// ClientTopic is the direct-delivery topic for one client connection.
func ClientTopic(id engine.ClientID) string {
	return "_client." + id.String()
}

// Publish fans ev out to its instrument topic and, if addressed to a
// specific client, to that client's topic too.
func (b *Bus) Publish(ev engine.Event) error {
	payload, err := marshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(ev.EventID, payload)

	if ev.Instrument != "" {
		if err := b.pubsub.Publish(InstrumentTopic(ev.Instrument), msg); err != nil {
			return fmt.Errorf("publish to instrument topic: %w", err)
		}
	}
	if ev.ClientID.CompID != "" {
		if err := b.pubsub.Publish(ClientTopic(ev.ClientID), message.NewMessage(ev.EventID, payload)); err != nil {
			return fmt.Errorf("publish to client topic: %w", err)
		}
	}
	return nil
}

// SubscribeClient returns the live channel of events addressed to one
// client. The caller must range over it until ctx is cancelled.
func (b *Bus) SubscribeClient(ctx context.Context, id engine.ClientID) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, ClientTopic(id))
}

// SubscribeInstrument returns the live channel of events for one
// instrument's market-data feed.
func (b *Bus) SubscribeInstrument(ctx context.Context, instrument engine.InstrumentID) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, InstrumentTopic(instrument))
}
