package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nexusfix/exchange/internal/engine"
)

type frameBuilder struct {
	b strings.Builder
}

func (f *frameBuilder) tag(n int, v string) *frameBuilder {
	f.b.WriteString(strconv.Itoa(n))
	f.b.WriteByte('=')
	f.b.WriteString(v)
	f.b.WriteByte('|')
	return f
}

func (f *frameBuilder) String() string { return f.b.String() }

func sideTag(s engine.Side) string {
	if s == engine.SideSell {
		return "2"
	}
	return "1"
}

// EncodeEvent renders ev as one outbound frame.
func (c *Codec) EncodeEvent(ev engine.Event) string {
	switch ev.Kind {
	case engine.EvtSnapshot:
		return c.encodeSnapshot(ev)
	case engine.EvtInstrumentCreated:
		var f frameBuilder
		f.tag(TagMsgType, MsgTypeInstrumentAck).tag(TagSymbol, string(ev.Instrument))
		return f.String()
	default:
		return c.encodeExecutionReport(ev)
	}
}

func execType(kind engine.EventKind) string {
	switch kind {
	case engine.EvtOrderAccepted:
		return ExecTypeAccepted
	case engine.EvtOrderRejected:
		return ExecTypeRejected
	case engine.EvtOrderFilled:
		return ExecTypeFilled
	case engine.EvtOrderCancelled:
		return ExecTypeCancelled
	case engine.EvtOrderAmended:
		return ExecTypeAmended
	default:
		return ExecTypeRejected
	}
}

func (c *Codec) encodeExecutionReport(ev engine.Event) string {
	var f frameBuilder
	f.tag(TagMsgType, MsgTypeExecutionReport).
		tag(TagSymbol, string(ev.Instrument)).
		tag(TagOrderID, strconv.FormatUint(uint64(ev.OrderID), 10)).
		tag(TagClOrdID, ev.ClientOrderID).
		tag(TagSide, sideTag(ev.Side)).
		tag(TagExecType, execType(ev.Kind)).
		tag(TagLeavesQty, strconv.FormatUint(uint64(ev.Quantity), 10))

	if ev.Kind == engine.EvtOrderFilled {
		f.tag(TagLastQty, strconv.FormatUint(uint64(ev.FillQty), 10)).
			tag(TagLastPx, c.formatPrice(ev.FillPrice))
	} else if ev.Price != 0 {
		f.tag(TagPrice, c.formatPrice(ev.Price))
	}

	if ev.Kind == engine.EvtOrderRejected {
		f.tag(TagText, fmt.Sprintf("%s: %s", ev.RejectCode, ev.RejectReason))
	}
	return f.String()
}

func (c *Codec) encodeSnapshot(ev engine.Event) string {
	var f frameBuilder
	f.tag(TagMsgType, MsgTypeSnapshot).tag(TagSymbol, string(ev.Instrument))
	var bids, asks []string
	for _, lvl := range ev.Bids {
		bids = append(bids, fmt.Sprintf("%s:%d", c.formatPrice(lvl.Price), lvl.Quantity))
	}
	for _, lvl := range ev.Asks {
		asks = append(asks, fmt.Sprintf("%s:%d", c.formatPrice(lvl.Price), lvl.Quantity))
	}
	f.tag(TagText, "bids="+strings.Join(bids, ",")+";asks="+strings.Join(asks, ","))
	return f.String()
}

// EncodeInvalidMessage renders a protocol-tier failure that never
// reached the command queue: no OrderID, no engine state touched.
func (c *Codec) EncodeInvalidMessage(code, reason, raw string) string {
	var f frameBuilder
	f.tag(TagMsgType, MsgTypeReject).
		tag(TagText, fmt.Sprintf("%s: %s", code, reason))
	return f.String()
}
