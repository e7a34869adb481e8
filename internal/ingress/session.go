package ingress

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"

	"github.com/nexusfix/exchange/internal/egress"
	"github.com/nexusfix/exchange/internal/engine"
	"github.com/nexusfix/exchange/internal/metrics"
	"github.com/nexusfix/exchange/internal/validation"
	"github.com/nexusfix/exchange/internal/wire"
)

// Session owns one accepted TCP connection: it decodes frames, applies
// rate limiting, the protocol-version handshake, and idempotency
// suppression, then pushes admitted commands onto the shared command
// queue. It never touches engine state directly.
type Session struct {
	conn         net.Conn
	clientID     engine.ClientID
	codec        *wire.Codec
	commands     chan<- engine.Command
	connLimiter connLimiter
	global      *limiter.Limiter
	versionGate *VersionGate
	idempotency *Idempotency
	egress      *egress.Manager
	validator   *validation.Validator
	attached    bool
	logger      *zap.Logger
	metrics     *metrics.IngressMetrics
	handshaken  bool
}

type connLimiter interface {
	Allow() bool
}

// NewSession wraps an accepted connection. The Session starts with an
// empty ClientID, bound once the first decoded frame's
// SenderCompID/SenderSubID is observed (see Serve).
func NewSession(conn net.Conn, codec *wire.Codec, commands chan<- engine.Command, maxPerSecond int, gate *VersionGate, idem *Idempotency, global *limiter.Limiter, eg *egress.Manager, validator *validation.Validator, logger *zap.Logger, m *metrics.IngressMetrics) *Session {
	return &Session{
		conn:        conn,
		codec:       codec,
		commands:    commands,
		connLimiter: newConnLimiter(maxPerSecond),
		global:      global,
		versionGate: gate,
		idempotency: idem,
		egress:      eg,
		validator:   validator,
		logger:      logger,
		metrics:     m,
	}
}

// Serve reads frames until the connection closes or ctx is cancelled.
// Malformed frames and protocol-tier rejections are written back
// immediately; well-formed commands are pushed onto the queue.
func (s *Session) Serve(ctx context.Context) {
	defer s.conn.Close()
	reader := bufio.NewReader(s.conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("session read error", zap.Error(err))
			}
			return
		}
		if line == "" {
			continue
		}

		if !s.handshaken {
			if v, ok := wire.PeekProtocolVersion(line); ok && !s.versionGate.Accepts(v) {
				s.rejectFrame("PROTOCOL_VERSION_UNSUPPORTED", "client protocol version "+v+" not accepted", line)
				return
			}
			s.handshaken = true
		}

		if !s.connLimiter.Allow() {
			s.rejectRateLimited("per-connection rate limit exceeded", line)
			continue
		}
		if !globalAllow(ctx, s.global) {
			s.rejectRateLimited("process-wide rate limit exceeded", line)
			continue
		}

		cmd, perr := s.codec.Decode(line)
		if perr != nil {
			s.rejectFrame(string(perr.Code), perr.Message, line)
			continue
		}
		if s.clientID.CompID == "" {
			s.clientID = cmd.ClientID
		}
		cmd.ClientID = s.clientID

		if !s.attached && s.egress != nil {
			if err := s.egress.Attach(ctx, s.clientID, s.conn); err != nil {
				s.logger.Warn("egress attach failed", zap.Error(err), zap.String("client", s.clientID.String()))
			}
			s.attached = true
		}

		if cmd.Kind == engine.CmdNewOrder {
			if err := s.validator.Validate(newOrderRequestFrom(cmd)); err != nil {
				s.rejectFrame("VALIDATION_FAILED", err.Error(), line)
				continue
			}
			if s.idempotency.SeenBefore(cmd.ClientID, cmd.ClientOrderID) {
				s.rejectFrame("DUPLICATE_CLORDID", "duplicate ClOrdID within dedup window", line)
				continue
			}
		}

		select {
		case s.commands <- cmd:
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
			s.logger.Warn("command queue full, dropping frame", zap.String("client", s.clientID.String()))
		}
	}
}

// newOrderRequestFrom projects a decoded NewOrder command into the
// shape validation.Validator checks, round-tripping the engine's typed
// enums back through their canonical names.
func newOrderRequestFrom(cmd engine.Command) validation.NewOrderRequest {
	return validation.NewOrderRequest{
		Symbol:      string(cmd.Instrument),
		Account:     string(cmd.AccountID),
		Side:        cmd.Side.String(),
		OrdType:     cmd.OrdType.String(),
		TimeInForce: cmd.TimeInForce.String(),
		Quantity:    uint64(cmd.Quantity),
		Price:       float64(cmd.Price),
		StopPx:      float64(cmd.TriggerPrice),
	}
}

func (s *Session) rejectFrame(code, reason, raw string) {
	if s.metrics != nil {
		s.metrics.FramesTotal.WithLabelValues("rejected").Inc()
	}
	_, _ = s.conn.Write([]byte(s.codec.EncodeInvalidMessage(code, reason, raw) + "\n"))
}

// rejectRateLimited is rejectFrame specialized for the two rate-limit
// call sites, so RateLimitedTotal only counts actual rate-limit
// rejections rather than every rejection reason.
func (s *Session) rejectRateLimited(reason, raw string) {
	if s.metrics != nil {
		s.metrics.RateLimitedTotal.Inc()
	}
	s.rejectFrame("RATE_LIMITED", reason, raw)
}
