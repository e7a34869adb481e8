package wire

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nexusfix/exchange/internal/engine"
	"github.com/nexusfix/exchange/pkg/xerrors"
)

// Codec decodes inbound frames into engine.Command values and encodes
// engine.Event values back into outbound frames, converting between
// the wire's decimal price strings and the engine's fixed-point Ticks.
type Codec struct {
	PriceScale int64
}

// NewCodec builds a Codec for the given price scale (ticks per unit).
func NewCodec(priceScale int64) *Codec {
	if priceScale <= 0 {
		priceScale = 1
	}
	return &Codec{PriceScale: priceScale}
}

// Decode parses one raw frame. On protocol failure it returns a
// *xerrors.ExchangeError carrying a Protocol-tier Code; the caller
// (ingress) is responsible for turning that into an InvalidMessage
// event routed back to the originating socket rather than ever placing
// it on the command queue.
func (c *Codec) Decode(raw string) (engine.Command, *xerrors.ExchangeError) {
	recvTS := time.Now()
	fields, perr := splitFrame(raw)
	if perr != nil {
		return engine.Command{}, xerrors.Wrap(perr, xerrors.CodeMalformedFrame, "malformed frame")
	}

	msgType, ok := fields[TagMsgType]
	if !ok {
		return engine.Command{}, xerrors.New(xerrors.CodeMissingTag, "missing MsgType (35)")
	}
	senderCompID, ok := fields[TagSenderCompID]
	if !ok {
		return engine.Command{}, xerrors.New(xerrors.CodeMissingTag, "missing SenderCompID (49)")
	}
	clientID := engine.ClientID{CompID: senderCompID, SubID: fields[TagSenderSubID]}

	switch msgType {
	case MsgTypeNewOrder:
		return c.decodeNewOrder(fields, clientID, recvTS)
	case MsgTypeCancelOrder:
		return c.decodeCancelOrder(fields, clientID, recvTS)
	case MsgTypeAmendOrder:
		return c.decodeAmendOrder(fields, clientID, recvTS)
	case MsgTypeCreateInstrument:
		return c.decodeCreateInstrument(fields, clientID, recvTS)
	case MsgTypeSnapshot:
		return c.decodeSnapshotRequest(fields, clientID, recvTS)
	case MsgTypeAdvanceTime:
		return c.decodeAdvanceTime(fields, clientID, recvTS)
	default:
		return engine.Command{}, xerrors.Newf(xerrors.CodeUnknownMsgType, "unknown MsgType %q", msgType)
	}
}

// PeekProtocolVersion extracts the handshake version tag (9001) from a
// raw frame without fully decoding it, for the ingress version gate to
// check before any command is admitted.
func PeekProtocolVersion(raw string) (string, bool) {
	fields, err := splitFrame(raw)
	if err != nil {
		return "", false
	}
	v, ok := fields[TagProtocolVersion]
	return v, ok
}

// splitFrame splits a pipe-delimited tag=value line into a tag->value
// map. Segments without a numeric tag are ignored, per "unknown tags
// are ignored"; a frame with zero parseable tags is malformed.
func splitFrame(raw string) (map[int]string, error) {
	raw = strings.TrimRight(raw, "\r\n")
	segments := strings.Split(raw, "|")
	fields := make(map[int]string, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		eq := strings.IndexByte(seg, '=')
		if eq < 0 {
			continue
		}
		tag, err := strconv.Atoi(seg[:eq])
		if err != nil {
			continue
		}
		fields[tag] = seg[eq+1:]
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no tag=value segments in frame")
	}
	return fields, nil
}

func (c *Codec) decodeNewOrder(fields map[int]string, clientID engine.ClientID, recvTS time.Time) (engine.Command, *xerrors.ExchangeError) {
	symbol, ok := fields[TagSymbol]
	if !ok {
		return engine.Command{}, xerrors.New(xerrors.CodeMissingTag, "missing Symbol (55)")
	}
	side, err := parseSide(fields[TagSide])
	if err != nil {
		return engine.Command{}, xerrors.Wrap(err, xerrors.CodeMissingTag, "missing or invalid Side (54)")
	}
	qty, err := parseQuantity(fields[TagQuantity])
	if err != nil {
		return engine.Command{}, xerrors.Wrap(err, xerrors.CodeMissingTag, "missing or invalid OrderQty (38)")
	}
	ordType, err := parseOrdType(fields[TagOrdType])
	if err != nil {
		return engine.Command{}, xerrors.Wrap(err, xerrors.CodeMissingTag, "missing or invalid OrdType (40)")
	}
	tif, err := parseTimeInForce(fields[TagTimeInForce])
	if err != nil {
		return engine.Command{}, xerrors.Wrap(err, xerrors.CodeMissingTag, "missing or invalid TimeInForce (59)")
	}
	account, ok := fields[TagAccount]
	if !ok {
		return engine.Command{}, xerrors.New(xerrors.CodeMissingTag, "missing Account (1)")
	}

	var price, stopPx engine.Ticks
	if ordType == engine.OrdTypeLimit || ordType == engine.OrdTypeStopLimit {
		price, err = c.parsePrice(fields[TagPrice])
		if err != nil {
			return engine.Command{}, xerrors.Wrap(err, xerrors.CodeMissingTag, "missing or invalid Price (44) for limit/stop-limit order")
		}
	}
	if ordType == engine.OrdTypeStop || ordType == engine.OrdTypeStopLimit {
		stopPx, err = c.parsePrice(fields[TagStopPx])
		if err != nil {
			return engine.Command{}, xerrors.Wrap(err, xerrors.CodeMissingTag, "missing or invalid StopPx (99) for stop/stop-limit order")
		}
	}

	return engine.Command{
		Kind:          engine.CmdNewOrder,
		ClientID:      clientID,
		RecvTS:        recvTS,
		AccountID:     engine.AccountID(account),
		Instrument:    engine.InstrumentID(symbol),
		ClientOrderID: fields[TagClOrdID],
		Side:          side,
		OrdType:       ordType,
		Price:         price,
		TriggerPrice:  stopPx,
		Quantity:      qty,
		TimeInForce:   tif,
	}, nil
}

func (c *Codec) decodeCancelOrder(fields map[int]string, clientID engine.ClientID, recvTS time.Time) (engine.Command, *xerrors.ExchangeError) {
	orderID, err := parseOrderID(fields[TagOrderID])
	if err != nil {
		return engine.Command{}, xerrors.Wrap(err, xerrors.CodeMissingTag, "missing or invalid OrderID (37)")
	}
	return engine.Command{
		Kind:      engine.CmdCancelOrder,
		ClientID:  clientID,
		RecvTS:    recvTS,
		AccountID: engine.AccountID(fields[TagAccount]),
		OrderID:   orderID,
	}, nil
}

func (c *Codec) decodeAmendOrder(fields map[int]string, clientID engine.ClientID, recvTS time.Time) (engine.Command, *xerrors.ExchangeError) {
	orderID, err := parseOrderID(fields[TagOrderID])
	if err != nil {
		return engine.Command{}, xerrors.Wrap(err, xerrors.CodeMissingTag, "missing or invalid OrderID (37)")
	}
	cmd := engine.Command{
		Kind:     engine.CmdAmendOrder,
		ClientID: clientID,
		RecvTS:   recvTS,
		OrderID:  orderID,
	}
	if v, ok := fields[TagQuantity]; ok {
		qty, err := parseQuantity(v)
		if err != nil {
			return engine.Command{}, xerrors.Wrap(err, xerrors.CodeMissingTag, "invalid newQty (38)")
		}
		cmd.NewQuantity = &qty
	}
	if v, ok := fields[TagPrice]; ok {
		price, err := c.parsePrice(v)
		if err != nil {
			return engine.Command{}, xerrors.Wrap(err, xerrors.CodeMissingTag, "invalid newPrice (44)")
		}
		cmd.NewPrice = &price
	}
	if v, ok := fields[TagTimeInForce]; ok {
		tif, err := parseTimeInForce(v)
		if err != nil {
			return engine.Command{}, xerrors.Wrap(err, xerrors.CodeMissingTag, "invalid newTif (59)")
		}
		cmd.NewTimeInForce = &tif
	}
	return cmd, nil
}

func (c *Codec) decodeCreateInstrument(fields map[int]string, clientID engine.ClientID, recvTS time.Time) (engine.Command, *xerrors.ExchangeError) {
	symbol, ok := fields[TagSymbol]
	if !ok {
		return engine.Command{}, xerrors.New(xerrors.CodeMissingTag, "missing Symbol (55)")
	}
	return engine.Command{
		Kind:       engine.CmdCreateInstrument,
		ClientID:   clientID,
		RecvTS:     recvTS,
		Instrument: engine.InstrumentID(symbol),
		TickSize:   1,
	}, nil
}

func (c *Codec) decodeSnapshotRequest(fields map[int]string, clientID engine.ClientID, recvTS time.Time) (engine.Command, *xerrors.ExchangeError) {
	symbol, ok := fields[TagSymbol]
	if !ok {
		return engine.Command{}, xerrors.New(xerrors.CodeMissingTag, "missing Symbol (55)")
	}
	depth := 0
	if v, ok := fields[TagDepth]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return engine.Command{}, xerrors.Newf(xerrors.CodeMissingTag, "invalid Depth (9002) %q", v)
		}
		depth = n
	}
	return engine.Command{
		Kind:       engine.CmdSnapshotRequest,
		ClientID:   clientID,
		RecvTS:     recvTS,
		Instrument: engine.InstrumentID(symbol),
		Depth:      depth,
	}, nil
}

func (c *Codec) decodeAdvanceTime(fields map[int]string, clientID engine.ClientID, recvTS time.Time) (engine.Command, *xerrors.ExchangeError) {
	v, ok := fields[TagSendingTime]
	if !ok {
		return engine.Command{}, xerrors.New(xerrors.CodeMissingTag, "missing SendingTime (52)")
	}
	ts, err := parseUnixSeconds(v)
	if err != nil {
		return engine.Command{}, xerrors.Wrap(err, xerrors.CodeMissingTag, "invalid SendingTime (52)")
	}
	return engine.Command{
		Kind:      engine.CmdAdvanceTime,
		ClientID:  clientID,
		RecvTS:    recvTS,
		AdvanceTo: ts,
	}, nil
}

func parseUnixSeconds(v string) (time.Time, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
	}
	return time.Unix(n, 0).UTC(), nil
}

func parseSide(v string) (engine.Side, error) {
	switch v {
	case "1":
		return engine.SideBuy, nil
	case "2":
		return engine.SideSell, nil
	default:
		return engine.SideUnspecified, fmt.Errorf("unrecognized Side %q", v)
	}
}

func parseOrdType(v string) (engine.OrdType, error) {
	switch v {
	case "1":
		return engine.OrdTypeMarket, nil
	case "2":
		return engine.OrdTypeLimit, nil
	case "3":
		return engine.OrdTypeStop, nil
	case "4":
		return engine.OrdTypeStopLimit, nil
	default:
		return engine.OrdTypeUnspecified, fmt.Errorf("unrecognized OrdType %q", v)
	}
}

func parseTimeInForce(v string) (engine.TimeInForce, error) {
	switch v {
	case "0":
		return engine.TIFDay, nil
	case "3":
		return engine.TIFIOC, nil
	case "4":
		return engine.TIFFOK, nil
	default:
		return engine.TIFUnspecified, fmt.Errorf("unrecognized TimeInForce %q", v)
	}
}

func parseQuantity(v string) (engine.Quantity, error) {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid quantity %q", v)
	}
	return engine.Quantity(n), nil
}

func parseOrderID(v string) (engine.OrderID, error) {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid order id %q", v)
	}
	return engine.OrderID(n), nil
}

// parsePrice converts a decimal string ("10.5") to Ticks, rounding to
// the nearest tick at the codec's configured scale. Negative prices
// are rejected here, at ingress, rather than left for the engine's
// business-rule tier to catch — this covers both NewOrder's Price/
// StopPx and Amend's NewPrice, which the engine tier never validates.
func (c *Codec) parsePrice(v string) (engine.Ticks, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q", v)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative price %q", v)
	}
	return engine.Ticks(math.Round(f * float64(c.PriceScale))), nil
}

// formatPrice renders Ticks back to a decimal string at the codec's
// configured scale.
func (c *Codec) formatPrice(t engine.Ticks) string {
	digits := 0
	for scale := c.PriceScale; scale > 1; scale /= 10 {
		digits++
	}
	return strconv.FormatFloat(float64(t)/float64(c.PriceScale), 'f', digits, 64)
}
