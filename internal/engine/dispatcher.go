package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/nexusfix/exchange/pkg/xerrors"
)

// Config controls the engine's business-rule knobs. It is a narrow
// projection of internal/config.Config, kept separate so the engine
// package has no import-time dependency on viper or the wider config
// surface.
type Config struct {
	InitialEndowment  Ticks
	AllowShortSelling bool
	SnapshotDepth     int
}

// Engine is the single-writer matching core: every exported method
// that mutates state (Dispatch) must be called from exactly one
// goroutine. It owns every instrument's OrderBook and the shared
// Ledger; no other package mutates either.
type Engine struct {
	mu          sync.RWMutex // guards books against concurrent admin HTTP reads; Dispatch holds it for its full call
	books       map[InstrumentID]*OrderBook
	liveOrders  map[OrderID]InstrumentID // resting or parked orders, for Cancel/Amend lookup (the wire protocol carries no symbol tag for F/G)
	ledger      *Ledger
	nextOrderID uint64
	cfg         Config
	logger      *zap.Logger
	simTime     time.Time // set by AdvanceTime; zero means "use wall-clock"
}

// NewEngine constructs an Engine against a fresh Ledger seeded with
// cfg.InitialEndowment.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		books:      make(map[InstrumentID]*OrderBook),
		liveOrders: make(map[OrderID]InstrumentID),
		ledger:     NewLedger(cfg.InitialEndowment, cfg.AllowShortSelling),
		cfg:        cfg,
		logger:     logger,
	}
}

// Ledger exposes the account ledger for read-only admin queries.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Book returns instrument's order book for read-only admin queries.
func (e *Engine) Book(instrument InstrumentID) (*OrderBook, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[instrument]
	return b, ok
}

// SnapshotBook returns instrument's top-of-book levels for admin HTTP
// queries, holding the engine lock for the full read so it can never
// race a concurrent Dispatch mutating the same book.
func (e *Engine) SnapshotBook(instrument InstrumentID, depth int) (bids, asks []PriceLevelView, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, found := e.books[instrument]
	if !found {
		return nil, nil, false
	}
	bids, asks = b.Snapshot(depth)
	return bids, asks, true
}

// Instruments lists every instrument currently registered, for admin
// listing endpoints.
func (e *Engine) Instruments() []InstrumentID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]InstrumentID, 0, len(e.books))
	for id := range e.books {
		out = append(out, id)
	}
	return out
}

func (e *Engine) nextID() OrderID {
	return OrderID(atomic.AddUint64(&e.nextOrderID, 1))
}

func newEventID() string { return ksuid.New().String() }

// now returns the engine's current notion of time: wall-clock, unless
// AdvanceTime has stamped it forward for simulator/backtest replay.
func (e *Engine) now() time.Time {
	if e.simTime.IsZero() {
		return time.Now()
	}
	return e.simTime
}

// Dispatch consumes one Command and returns every Event it produces,
// in emission order. It is the only method that mutates engine state.
func (e *Engine) Dispatch(cmd Command) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch cmd.Kind {
	case CmdCreateInstrument:
		return e.handleCreateInstrument(cmd)
	case CmdNewOrder:
		return e.handleNewOrder(cmd)
	case CmdCancelOrder:
		return e.handleCancelOrder(cmd)
	case CmdAmendOrder:
		return e.handleAmendOrder(cmd)
	case CmdSnapshotRequest:
		return e.handleSnapshot(cmd)
	case CmdAdvanceTime:
		return e.handleAdvanceTime(cmd)
	default:
		e.logger.Warn("dispatch: unrecognized command kind", zap.Uint8("kind", uint8(cmd.Kind)))
		return nil
	}
}

func (e *Engine) handleCreateInstrument(cmd Command) []Event {
	if _, exists := e.books[cmd.Instrument]; exists {
		return nil // idempotent per contract
	}
	tickSize := cmd.TickSize
	if tickSize <= 0 {
		tickSize = 1
	}
	e.books[cmd.Instrument] = NewOrderBook(cmd.Instrument, tickSize)
	return []Event{{
		Kind:       EvtInstrumentCreated,
		EventID:    newEventID(),
		Timestamp:  e.now(),
		ClientID:   cmd.ClientID,
		Instrument: cmd.Instrument,
	}}
}

// handleAdvanceTime moves the engine's simulated clock forward. It has
// no matching effect of its own: it only changes what Timestamp the
// next events are stamped with (§4.2). A request to move backward in
// time is ignored rather than rejected, since it carries no command
// queue position the dispatcher could "undo".
func (e *Engine) handleAdvanceTime(cmd Command) []Event {
	if cmd.AdvanceTo.After(e.simTime) {
		e.simTime = cmd.AdvanceTo
	}
	return nil
}

func (e *Engine) handleSnapshot(cmd Command) []Event {
	book, ok := e.books[cmd.Instrument]
	if !ok {
		return []Event{e.rejectCmd(cmd, xerrors.CodeUnknownInstrument, fmt.Sprintf("unknown instrument %q", cmd.Instrument))}
	}
	depth := cmd.Depth
	if depth <= 0 {
		depth = e.cfg.SnapshotDepth
	}
	bids, asks := book.Snapshot(depth)
	return []Event{{
		Kind:       EvtSnapshot,
		EventID:    newEventID(),
		Timestamp:  e.now(),
		ClientID:   cmd.ClientID,
		Instrument: cmd.Instrument,
		Bids:       bids,
		Asks:       asks,
		Depth:      depth,
	}}
}

func (e *Engine) handleNewOrder(cmd Command) []Event {
	book, ok := e.books[cmd.Instrument]
	if !ok {
		return []Event{e.rejectCmd(cmd, xerrors.CodeUnknownInstrument, fmt.Sprintf("unknown instrument %q", cmd.Instrument))}
	}
	if err := validateNewOrder(cmd); err != nil {
		return []Event{e.rejectCmd(cmd, xerrors.CodeOf(err), err.Error())}
	}

	o := &restingOrder{
		OrderID:       e.nextID(),
		ClientOrderID: cmd.ClientOrderID,
		AccountID:     cmd.AccountID,
		ClientID:      cmd.ClientID,
		Instrument:    cmd.Instrument,
		Side:          cmd.Side,
		OrdType:       cmd.OrdType,
		Price:         cmd.Price,
		TriggerPrice:  cmd.TriggerPrice,
		Quantity:      cmd.Quantity,
		TimeInForce:   cmd.TimeInForce,
		RecvTS:        cmd.RecvTS,
	}

	if o.OrdType.IsStopFamily() {
		if !e.stopTriggeredNow(book, o) {
			if o.Side == SideBuy && o.OrdType == OrdTypeStopLimit {
				if err := e.ledger.ReserveBuy(o.AccountID, o.Price, o.Quantity); err != nil {
					return []Event{e.rejectCmd(cmd, xerrors.CodeOf(err), err.Error())}
				}
				o.ReservePrice = o.Price
			}
			book.Park(o)
			e.liveOrders[o.OrderID] = cmd.Instrument
			return []Event{e.acceptedEvent(o)}
		}
		convertTriggeredStop(o)
	}

	if err := e.admit(book, o); err != nil {
		return []Event{e.rejectCmd(cmd, xerrors.CodeOf(err), err.Error())}
	}

	events := []Event{e.acceptedEvent(o)}
	e.liveOrders[o.OrderID] = cmd.Instrument

	if o.TimeInForce == TIFFOK && book.fillableQuantity(o.Side, o.OrdType, o.Price, o.Quantity) < o.Quantity {
		events = append(events, e.discardResidual(o)...)
		events = append(events, e.cascadeStops(book)...)
		return events
	}

	events = append(events, e.sweep(book, o)...)
	events = append(events, e.resolveResidual(book, o)...)
	events = append(events, e.cascadeStops(book)...)
	return events
}

func (e *Engine) handleCancelOrder(cmd Command) []Event {
	instrument, ok := e.liveOrders[cmd.OrderID]
	if !ok {
		return []Event{e.rejectCmd(cmd, xerrors.CodeOrderNotFound, fmt.Sprintf("order %d not found", cmd.OrderID))}
	}
	book := e.books[instrument]
	o, ok := book.Remove(cmd.OrderID)
	if !ok {
		return []Event{e.rejectCmd(cmd, xerrors.CodeOrderNotFound, fmt.Sprintf("order %d not found", cmd.OrderID))}
	}
	delete(e.liveOrders, cmd.OrderID)
	if o.Side == SideBuy {
		e.ledger.RefundBuy(o.AccountID, o.remainingReserve())
	}
	return []Event{e.cancelledEvent(o)}
}

func (e *Engine) handleAmendOrder(cmd Command) []Event {
	instrument, ok := e.liveOrders[cmd.OrderID]
	if !ok {
		return []Event{e.rejectCmd(cmd, xerrors.CodeOrderNotFound, fmt.Sprintf("order %d not found", cmd.OrderID))}
	}
	book := e.books[instrument]
	entry, ok := book.Lookup(cmd.OrderID)
	if !ok {
		return []Event{e.rejectCmd(cmd, xerrors.CodeOrderNotFound, fmt.Sprintf("order %d not found", cmd.OrderID))}
	}
	if cmd.NewQuantity == nil && cmd.NewPrice == nil && cmd.NewTimeInForce == nil {
		return []Event{e.rejectCmd(cmd, xerrors.CodeUnsupportedAmend, "amend carries no changed field")}
	}
	if entry.Stop {
		return e.amendParkedStop(book, entry, cmd)
	}
	return e.amendResting(book, entry, cmd)
}

func (e *Engine) amendResting(book *OrderBook, entry indexEntry, cmd Command) []Event {
	o := book.find(entry.Side, entry.Price, cmd.OrderID)
	if o == nil {
		return []Event{e.rejectCmd(cmd, xerrors.CodeInvariantViolation, "order index pointed at a missing resting order")}
	}

	newQty, newPrice, newTIF := amendedTerms(o.Quantity, o.Price, o.TimeInForce, cmd)
	priceChanged := newPrice != o.Price
	qtyIncreased := newQty > o.Quantity

	if o.Side == SideBuy {
		oldReserve := o.remainingReserve()
		newReserve := Ticks(newQty) * newPrice
		if err := e.ledger.AdjustReservation(o.AccountID, newReserve-oldReserve); err != nil {
			return []Event{e.rejectCmd(cmd, xerrors.CodeOf(err), err.Error())}
		}
		o.ReservePrice = newPrice
	}

	if !priceChanged && !qtyIncreased {
		// Quantity decrease and/or TIF change only: preserves time priority.
		o.Quantity = newQty
		o.TimeInForce = newTIF
		return []Event{e.amendedEvent(o)}
	}

	// Price change or quantity increase loses time priority: re-enter as
	// a fresh aggressor (cancel + new, settlement-wise).
	book.Remove(o.OrderID)
	o.Quantity = newQty
	o.Price = newPrice
	o.TimeInForce = newTIF

	events := []Event{e.amendedEvent(o)}
	e.liveOrders[o.OrderID] = book.Instrument

	if o.TimeInForce == TIFFOK && book.fillableQuantity(o.Side, o.OrdType, o.Price, o.Quantity) < o.Quantity {
		events = append(events, e.discardResidual(o)...)
		events = append(events, e.cascadeStops(book)...)
		return events
	}

	events = append(events, e.sweep(book, o)...)
	events = append(events, e.resolveResidual(book, o)...)
	events = append(events, e.cascadeStops(book)...)
	return events
}

func (e *Engine) amendParkedStop(book *OrderBook, entry indexEntry, cmd Command) []Event {
	o := book.findStop(entry.Side, entry.Price, cmd.OrderID)
	if o == nil {
		return []Event{e.rejectCmd(cmd, xerrors.CodeInvariantViolation, "order index pointed at a missing parked stop")}
	}

	newQty := o.Quantity
	if cmd.NewQuantity != nil {
		newQty = *cmd.NewQuantity
	}
	newPrice := o.Price
	if cmd.NewPrice != nil {
		newPrice = *cmd.NewPrice
	}
	newTIF := o.TimeInForce
	if cmd.NewTimeInForce != nil {
		newTIF = *cmd.NewTimeInForce
	}

	if o.Side == SideBuy && o.OrdType == OrdTypeStopLimit {
		oldReserve := o.remainingReserve()
		newReserve := Ticks(newQty) * newPrice
		if err := e.ledger.AdjustReservation(o.AccountID, newReserve-oldReserve); err != nil {
			return []Event{e.rejectCmd(cmd, xerrors.CodeOf(err), err.Error())}
		}
		o.ReservePrice = newPrice
		o.Price = newPrice
	}
	o.Quantity = newQty
	o.TimeInForce = newTIF
	return []Event{e.amendedEvent(o)}
}

func amendedTerms(qty Quantity, price Ticks, tif TimeInForce, cmd Command) (Quantity, Ticks, TimeInForce) {
	if cmd.NewQuantity != nil {
		qty = *cmd.NewQuantity
	}
	if cmd.NewPrice != nil {
		price = *cmd.NewPrice
	}
	if cmd.NewTimeInForce != nil {
		tif = *cmd.NewTimeInForce
	}
	return qty, price, tif
}

// admit performs the cash reservation (buy) or position check (sell)
// that must succeed before an order is allowed to enter matching.
func (e *Engine) admit(book *OrderBook, o *restingOrder) error {
	switch o.Side {
	case SideBuy:
		// A StopLimit buy reserves cash at parking time (it already has a
		// concrete limit price); admit must not reserve it a second time
		// when the cascade later converts and matches it.
		if o.ReservePrice != 0 {
			return nil
		}
		refPrice := o.Price
		if o.OrdType == OrdTypeMarket {
			ask, ok := book.BestAsk()
			if !ok {
				return xerrors.New(xerrors.CodeInvalidOrder, "no resting liquidity to price market order")
			}
			refPrice = ask
		}
		if err := e.ledger.ReserveBuy(o.AccountID, refPrice, o.Quantity); err != nil {
			return err
		}
		o.ReservePrice = refPrice
	case SideSell:
		if err := e.ledger.CheckSellable(o.AccountID, book.Instrument, o.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) stopTriggeredNow(book *OrderBook, o *restingOrder) bool {
	if o.Side == SideBuy {
		ask, ok := book.BestAsk()
		return ok && ask >= o.TriggerPrice
	}
	bid, ok := book.BestBid()
	return ok && bid <= o.TriggerPrice
}

// convertTriggeredStop mutates a triggered Stop/StopLimit order in
// place into the Market/Limit order it becomes, per §4.3 step 1.
func convertTriggeredStop(o *restingOrder) {
	switch o.OrdType {
	case OrdTypeStop:
		o.OrdType = OrdTypeMarket
	case OrdTypeStopLimit:
		o.OrdType = OrdTypeLimit
	}
}

// sweep runs the matching loop (§4.3 steps 2-3) for aggressor o against
// book, assuming admission (cash reservation / position check) already
// succeeded. It mutates o.Quantity and the ledger in place, and returns
// one pair of OrderFilled events per trade.
func (e *Engine) sweep(book *OrderBook, o *restingOrder) []Event {
	var events []Event
	opposite := o.Side.Opposite()

	for o.Quantity > 0 {
		var bestPrice Ticks
		var ok bool
		if opposite == SideSell {
			bestPrice, ok = book.BestAsk()
		} else {
			bestPrice, ok = book.BestBid()
		}
		if !ok {
			break
		}
		if o.OrdType != OrdTypeMarket {
			if o.Side == SideBuy && o.Price < bestPrice {
				break
			}
			if o.Side == SideSell && o.Price > bestPrice {
				break
			}
		}
		r := book.HeadAt(opposite, bestPrice)
		if r == nil {
			break
		}

		tradeQty := o.Quantity
		if r.Quantity < tradeQty {
			tradeQty = r.Quantity
		}
		tradePrice := r.Price
		tradeID := uuid.NewString()

		var buyer, seller *restingOrder
		if o.Side == SideBuy {
			buyer, seller = o, r
		} else {
			buyer, seller = r, o
		}
		e.ledger.SettleTrade(buyer.AccountID, seller.AccountID, book.Instrument, tradePrice, tradeQty, buyer.ReservePrice)

		o.Quantity -= tradeQty
		r.Quantity -= tradeQty

		events = append(events, e.filledEvent(o, tradeQty, o.Quantity, tradePrice, tradeID, book.Instrument, false))
		events = append(events, e.filledEvent(r, tradeQty, r.Quantity, tradePrice, tradeID, book.Instrument, true))

		if r.Quantity == 0 {
			book.PopHeadAt(opposite, bestPrice)
			delete(e.liveOrders, r.OrderID)
		}
	}
	return events
}

// resolveResidual handles what remains of o after a sweep, per the
// TimeInForce table in §4.3 step 4.
func (e *Engine) resolveResidual(book *OrderBook, o *restingOrder) []Event {
	if o.Quantity == 0 {
		delete(e.liveOrders, o.OrderID)
		return nil
	}
	if o.TimeInForce == TIFDay && o.OrdType != OrdTypeMarket {
		book.Rest(o)
		e.liveOrders[o.OrderID] = book.Instrument
		return nil
	}
	return e.discardResidual(o)
}

func (e *Engine) discardResidual(o *restingOrder) []Event {
	delete(e.liveOrders, o.OrderID)
	if o.Side == SideBuy {
		e.ledger.RefundBuy(o.AccountID, o.remainingReserve())
	}
	return []Event{e.cancelledEvent(o)}
}

// cascadeStops repeatedly triggers and processes stop orders until none
// remain triggerable, per §4.3 step 5. Bounded by the size of the stop
// book, which only shrinks.
func (e *Engine) cascadeStops(book *OrderBook) []Event {
	var events []Event
	for {
		triggered := book.triggeredStops()
		if len(triggered) == 0 {
			break
		}
		for _, o := range triggered {
			convertTriggeredStop(o)
			if err := e.admit(book, o); err != nil {
				delete(e.liveOrders, o.OrderID)
				events = append(events, e.rejectedOrderEvent(o, xerrors.CodeOf(err), err.Error()))
				continue
			}
			e.liveOrders[o.OrderID] = book.Instrument

			if o.TimeInForce == TIFFOK && book.fillableQuantity(o.Side, o.OrdType, o.Price, o.Quantity) < o.Quantity {
				events = append(events, e.discardResidual(o)...)
				continue
			}
			events = append(events, e.sweep(book, o)...)
			events = append(events, e.resolveResidual(book, o)...)
		}
	}
	return events
}

func validateNewOrder(cmd Command) error {
	if cmd.Quantity == 0 {
		return xerrors.New(xerrors.CodeInvalidOrder, "quantity must be positive")
	}
	if cmd.Side != SideBuy && cmd.Side != SideSell {
		return xerrors.New(xerrors.CodeInvalidOrder, "side must be buy or sell")
	}
	if cmd.TimeInForce == TIFUnspecified {
		return xerrors.New(xerrors.CodeInvalidOrder, "time in force is required")
	}
	switch cmd.OrdType {
	case OrdTypeMarket:
	case OrdTypeLimit:
		if cmd.Price <= 0 {
			return xerrors.New(xerrors.CodeInvalidOrder, "limit order requires a positive price")
		}
	case OrdTypeStop:
		if cmd.TriggerPrice <= 0 {
			return xerrors.New(xerrors.CodeInvalidOrder, "stop order requires a positive trigger price")
		}
	case OrdTypeStopLimit:
		if cmd.TriggerPrice <= 0 || cmd.Price <= 0 {
			return xerrors.New(xerrors.CodeInvalidOrder, "stop-limit order requires a positive trigger and limit price")
		}
	default:
		return xerrors.New(xerrors.CodeInvalidOrder, "unrecognized order type")
	}
	return nil
}

func (e *Engine) acceptedEvent(o *restingOrder) Event {
	return Event{
		Kind: EvtOrderAccepted, EventID: newEventID(), Timestamp: e.now(),
		ClientID: o.ClientID, Instrument: o.Instrument, OrderID: o.OrderID,
		ClientOrderID: o.ClientOrderID, AccountID: o.AccountID, Side: o.Side,
		OrdType: o.OrdType, Price: o.Price, Quantity: o.Quantity, TimeInForce: o.TimeInForce,
	}
}

func (e *Engine) cancelledEvent(o *restingOrder) Event {
	return Event{
		Kind: EvtOrderCancelled, EventID: newEventID(), Timestamp: e.now(),
		ClientID: o.ClientID, Instrument: o.Instrument, OrderID: o.OrderID,
		ClientOrderID: o.ClientOrderID, AccountID: o.AccountID, Side: o.Side,
		OrdType: o.OrdType, Price: o.Price, Quantity: o.Quantity, TimeInForce: o.TimeInForce,
	}
}

func (e *Engine) amendedEvent(o *restingOrder) Event {
	return Event{
		Kind: EvtOrderAmended, EventID: newEventID(), Timestamp: e.now(),
		ClientID: o.ClientID, Instrument: o.Instrument, OrderID: o.OrderID,
		ClientOrderID: o.ClientOrderID, AccountID: o.AccountID, Side: o.Side,
		OrdType: o.OrdType, Price: o.Price, Quantity: o.Quantity, TimeInForce: o.TimeInForce,
	}
}

func (e *Engine) filledEvent(o *restingOrder, fillQty, remainingQty Quantity, tradePrice Ticks, tradeID string, instrument InstrumentID, liquidityAdd bool) Event {
	return Event{
		Kind: EvtOrderFilled, EventID: newEventID(), Timestamp: e.now(),
		ClientID: o.ClientID, Instrument: instrument, OrderID: o.OrderID,
		ClientOrderID: o.ClientOrderID, AccountID: o.AccountID, Side: o.Side,
		OrdType: o.OrdType, Price: tradePrice, Quantity: remainingQty, TimeInForce: o.TimeInForce,
		TradeID: tradeID, FillQty: fillQty, FillPrice: tradePrice, LiquidityAdd: liquidityAdd,
	}
}

func (e *Engine) rejectCmd(cmd Command, code xerrors.Code, reason string) Event {
	return Event{
		Kind: EvtOrderRejected, EventID: newEventID(), Timestamp: e.now(),
		ClientID: cmd.ClientID, Instrument: cmd.Instrument, OrderID: cmd.OrderID,
		ClientOrderID: cmd.ClientOrderID, AccountID: cmd.AccountID, Side: cmd.Side,
		OrdType: cmd.OrdType, RejectCode: string(code), RejectReason: reason,
	}
}

func (e *Engine) rejectedOrderEvent(o *restingOrder, code xerrors.Code, reason string) Event {
	return Event{
		Kind: EvtOrderRejected, EventID: newEventID(), Timestamp: e.now(),
		ClientID: o.ClientID, Instrument: o.Instrument, OrderID: o.OrderID,
		ClientOrderID: o.ClientOrderID, AccountID: o.AccountID, Side: o.Side,
		OrdType: o.OrdType, RejectCode: string(code), RejectReason: reason,
	}
}
