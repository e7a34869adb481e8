package engine

import "time"

// CommandKind discriminates the variants folded into Command. The wire
// layer produces one CommandKind per MsgType; the engine switches on it
// exactly once, at the top of Dispatch.
type CommandKind uint8

const (
	CmdUnspecified CommandKind = iota
	CmdNewOrder
	CmdCancelOrder
	CmdAmendOrder
	CmdCreateInstrument
	CmdSnapshotRequest
	CmdAdvanceTime
)

func (k CommandKind) String() string {
	switch k {
	case CmdNewOrder:
		return "NEW_ORDER"
	case CmdCancelOrder:
		return "CANCEL_ORDER"
	case CmdAmendOrder:
		return "AMEND_ORDER"
	case CmdCreateInstrument:
		return "CREATE_INSTRUMENT"
	case CmdSnapshotRequest:
		return "SNAPSHOT_REQUEST"
	case CmdAdvanceTime:
		return "ADVANCE_TIME"
	default:
		return "UNSPECIFIED"
	}
}

// Command is the single flat type carried on the engine's MPSC command
// queue. Each CommandKind uses a subset of the fields below; this
// mirrors the wire frame's own flat tag=value shape rather than
// introducing a parallel hierarchy of per-kind Go types.
type Command struct {
	Kind     CommandKind
	ClientID ClientID
	RecvTS   time.Time

	// NewOrder
	AccountID     AccountID
	Instrument    InstrumentID
	ClientOrderID string
	Side          Side
	OrdType       OrdType
	Price         Ticks // Limit, StopLimit (post-trigger limit)
	TriggerPrice  Ticks // Stop, StopLimit
	Quantity      Quantity
	TimeInForce   TimeInForce

	// CancelOrder / AmendOrder
	OrderID        OrderID
	NewQuantity    *Quantity
	NewPrice       *Ticks
	NewTimeInForce *TimeInForce

	// CreateInstrument
	TickSize Ticks

	// SnapshotRequest
	Depth int

	// AdvanceTime: the simulated time to stamp onto every event the
	// engine produces from here on. No matching effect of its own.
	AdvanceTo time.Time
}
