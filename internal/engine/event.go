package engine

import "time"

// EventKind discriminates the variants folded into Event.
type EventKind uint8

const (
	EvtUnspecified EventKind = iota
	EvtOrderAccepted
	EvtOrderRejected
	EvtOrderFilled
	EvtOrderCancelled
	EvtOrderAmended
	EvtInstrumentCreated
	EvtSnapshot
	EvtInvalidMessage
)

func (k EventKind) String() string {
	switch k {
	case EvtOrderAccepted:
		return "ORDER_ACCEPTED"
	case EvtOrderRejected:
		return "ORDER_REJECTED"
	case EvtOrderFilled:
		return "ORDER_FILLED"
	case EvtOrderCancelled:
		return "ORDER_CANCELLED"
	case EvtOrderAmended:
		return "ORDER_AMENDED"
	case EvtInstrumentCreated:
		return "INSTRUMENT_CREATED"
	case EvtSnapshot:
		return "SNAPSHOT"
	case EvtInvalidMessage:
		return "INVALID_MESSAGE"
	default:
		return "UNSPECIFIED"
	}
}

// PriceLevelView is a read-only snapshot of one ladder rung.
type PriceLevelView struct {
	Price    Ticks
	Quantity Quantity
}

// Event is the single flat type published to the event bus. A
// dispatched Command produces zero or more of these (a trade, for
// example, produces one OrderFilled for each side).
type Event struct {
	Kind       EventKind
	EventID    string // ksuid, assigned when the engine builds the event
	Timestamp  time.Time
	ClientID   ClientID // routes delivery to the client whose order or command this event concerns
	Instrument InstrumentID

	OrderID       OrderID
	ClientOrderID string
	AccountID     AccountID
	Side          Side
	OrdType       OrdType
	Price         Ticks
	Quantity      Quantity // original/remaining quantity, event-dependent
	TimeInForce   TimeInForce

	// OrderFilled
	TradeID      string // uuid
	FillQty      Quantity
	FillPrice    Ticks
	LiquidityAdd bool // true if this side was resting (maker)

	// OrderRejected / InvalidMessage
	RejectCode   string
	RejectReason string

	// Snapshot
	Bids  []PriceLevelView
	Asks  []PriceLevelView
	Depth int
}
