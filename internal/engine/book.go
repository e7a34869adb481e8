package engine

import "sort"

// ladder is a price-keyed FIFO queue, used for both the bid/ask book and
// the stop book (keyed by trigger price instead of limit price). Keys
// are always kept sorted ascending; callers needing bid (descending)
// order read from the tail.
type ladder struct {
	levels map[Ticks][]*restingOrder
	keys   []Ticks
}

func newLadder() *ladder {
	return &ladder{levels: make(map[Ticks][]*restingOrder)}
}

func (l *ladder) insertKey(price Ticks) {
	idx := sort.Search(len(l.keys), func(i int) bool { return l.keys[i] >= price })
	if idx < len(l.keys) && l.keys[idx] == price {
		return
	}
	l.keys = append(l.keys, 0)
	copy(l.keys[idx+1:], l.keys[idx:])
	l.keys[idx] = price
}

func (l *ladder) removeKeyIfEmpty(price Ticks) {
	if len(l.levels[price]) > 0 {
		return
	}
	delete(l.levels, price)
	idx := sort.Search(len(l.keys), func(i int) bool { return l.keys[i] >= price })
	if idx < len(l.keys) && l.keys[idx] == price {
		l.keys = append(l.keys[:idx], l.keys[idx+1:]...)
	}
}

// push appends o to the tail of its price's queue, preserving FIFO.
func (l *ladder) push(o *restingOrder) {
	l.insertKey(o.Price)
	l.levels[o.Price] = append(l.levels[o.Price], o)
}

// pushAt is push for the stop book, where the key is the order's
// TriggerPrice rather than its limit Price.
func (l *ladder) pushAt(price Ticks, o *restingOrder) {
	l.insertKey(price)
	l.levels[price] = append(l.levels[price], o)
}

func (l *ladder) front(price Ticks) *restingOrder {
	q := l.levels[price]
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// popFront removes and returns the head of the queue at price.
func (l *ladder) popFront(price Ticks) *restingOrder {
	q := l.levels[price]
	if len(q) == 0 {
		return nil
	}
	o := q[0]
	l.levels[price] = q[1:]
	l.removeKeyIfEmpty(price)
	return o
}

// splice removes the order with the given id from price's queue,
// wherever it sits (not necessarily the head — used by Cancel/Amend).
func (l *ladder) splice(price Ticks, id OrderID) *restingOrder {
	q := l.levels[price]
	for i, o := range q {
		if o.OrderID == id {
			l.levels[price] = append(q[:i], q[i+1:]...)
			l.removeKeyIfEmpty(price)
			return o
		}
	}
	return nil
}

func (l *ladder) lowestKey() (Ticks, bool) {
	if len(l.keys) == 0 {
		return 0, false
	}
	return l.keys[0], true
}

func (l *ladder) highestKey() (Ticks, bool) {
	if len(l.keys) == 0 {
		return 0, false
	}
	return l.keys[len(l.keys)-1], true
}

func (l *ladder) find(price Ticks, id OrderID) *restingOrder {
	for _, o := range l.levels[price] {
		if o.OrderID == id {
			return o
		}
	}
	return nil
}

func (l *ladder) totalAt(price Ticks) Quantity {
	var sum Quantity
	for _, o := range l.levels[price] {
		sum += o.Quantity
	}
	return sum
}

// topLevels returns up to depth (price, aggregate qty) pairs starting from
// the best price, in the given iteration direction.
func (l *ladder) topLevels(depth int, descending bool) []PriceLevelView {
	out := make([]PriceLevelView, 0, depth)
	if descending {
		for i := len(l.keys) - 1; i >= 0 && len(out) < depth; i-- {
			p := l.keys[i]
			out = append(out, PriceLevelView{Price: p, Quantity: l.totalAt(p)})
		}
		return out
	}
	for i := 0; i < len(l.keys) && len(out) < depth; i++ {
		p := l.keys[i]
		out = append(out, PriceLevelView{Price: p, Quantity: l.totalAt(p)})
	}
	return out
}

type indexEntry struct {
	Side  Side
	Price Ticks // ladder key: limit price for resting orders, trigger price for parked stops
	Stop  bool
}

// OrderBook is one instrument's price ladders, stop book, and order
// index. All methods assume single-writer access from the engine's
// dispatch loop; no internal locking.
type OrderBook struct {
	Instrument InstrumentID
	TickSize   Ticks

	bids *ladder // keys ascending; best bid = highestKey
	asks *ladder // keys ascending; best ask = lowestKey

	stopBuys  *ladder // buy-side stops, keyed by trigger price
	stopSells *ladder // sell-side stops, keyed by trigger price

	index map[OrderID]indexEntry
}

// NewOrderBook constructs an empty book for instrument.
func NewOrderBook(instrument InstrumentID, tickSize Ticks) *OrderBook {
	return &OrderBook{
		Instrument: instrument,
		TickSize:   tickSize,
		bids:       newLadder(),
		asks:       newLadder(),
		stopBuys:   newLadder(),
		stopSells:  newLadder(),
		index:      make(map[OrderID]indexEntry),
	}
}

func (b *OrderBook) ladderFor(side Side) *ladder {
	if side == SideBuy {
		return b.bids
	}
	return b.asks
}

// BestBid returns the highest resting bid price, if any.
func (b *OrderBook) BestBid() (Ticks, bool) { return b.bids.highestKey() }

// BestAsk returns the lowest resting ask price, if any.
func (b *OrderBook) BestAsk() (Ticks, bool) { return b.asks.lowestKey() }

// Rest inserts o into its side's ladder and the order index. Used for
// a fresh Day remainder, or an amended order that lost time priority.
func (b *OrderBook) Rest(o *restingOrder) {
	b.ladderFor(o.Side).push(o)
	b.index[o.OrderID] = indexEntry{Side: o.Side, Price: o.Price}
}

// Park holds a Stop/StopLimit order in the stop book, keyed by its
// trigger price, until the opposite top-of-book reaches it.
func (b *OrderBook) Park(o *restingOrder) {
	sb := b.stopLadderFor(o.Side)
	sb.pushAt(o.TriggerPrice, o)
	b.index[o.OrderID] = indexEntry{Side: o.Side, Price: o.TriggerPrice, Stop: true}
}

func (b *OrderBook) stopLadderFor(side Side) *ladder {
	if side == SideBuy {
		return b.stopBuys
	}
	return b.stopSells
}

// Lookup reports whether orderID is live (resting or parked) and where.
func (b *OrderBook) Lookup(id OrderID) (indexEntry, bool) {
	e, ok := b.index[id]
	return e, ok
}

// Remove splices orderID out of whichever ladder (resting or stop book)
// the index says it lives in, and deletes the index entry.
func (b *OrderBook) Remove(id OrderID) (*restingOrder, bool) {
	e, ok := b.index[id]
	if !ok {
		return nil, false
	}
	var o *restingOrder
	if e.Stop {
		o = b.stopLadderFor(e.Side).splice(e.Price, id)
	} else {
		o = b.ladderFor(e.Side).splice(e.Price, id)
	}
	if o == nil {
		return nil, false
	}
	delete(b.index, id)
	return o, true
}

// HeadAt returns the resting order at the front of side's queue at
// price, without removing it.
func (b *OrderBook) HeadAt(side Side, price Ticks) *restingOrder {
	return b.ladderFor(side).front(price)
}

// PopHeadAt removes and returns the front resting order of side's queue
// at price, also dropping it from the index.
func (b *OrderBook) PopHeadAt(side Side, price Ticks) *restingOrder {
	o := b.ladderFor(side).popFront(price)
	if o != nil {
		delete(b.index, o.OrderID)
	}
	return o
}

// find returns the live order at orderID without removing it, or nil.
// Used by Amend to inspect an order's current terms before deciding
// whether the change preserves time priority.
func (b *OrderBook) find(side Side, price Ticks, id OrderID) *restingOrder {
	return b.ladderFor(side).find(price, id)
}

func (b *OrderBook) findStop(side Side, price Ticks, id OrderID) *restingOrder {
	return b.stopLadderFor(side).find(price, id)
}

// triggeredStops scans both stop ladders against the current top of
// book and returns every stop whose trigger condition currently holds,
// removed from the stop book, ordered closest-to-market first within
// each side (buy-stops by descending trigger, sell-stops by ascending
// trigger), buy-stops before sell-stops for a stable overall order.
func (b *OrderBook) triggeredStops() []*restingOrder {
	var out []*restingOrder

	if ask, ok := b.BestAsk(); ok {
		var triggered []Ticks
		for i := len(b.stopBuys.keys) - 1; i >= 0; i-- {
			p := b.stopBuys.keys[i]
			if p <= ask {
				triggered = append(triggered, p)
			}
		}
		for _, p := range triggered {
			for {
				o := b.stopBuys.popFront(p)
				if o == nil {
					break
				}
				delete(b.index, o.OrderID)
				out = append(out, o)
			}
		}
	}

	if bid, ok := b.BestBid(); ok {
		var triggered []Ticks
		for _, p := range b.stopSells.keys {
			if p >= bid {
				triggered = append(triggered, p)
			}
		}
		for _, p := range triggered {
			for {
				o := b.stopSells.popFront(p)
				if o == nil {
					break
				}
				delete(b.index, o.OrderID)
				out = append(out, o)
			}
		}
	}

	return out
}

// Snapshot returns up to depth price levels per side: bids descending,
// asks ascending, aggregated per level.
func (b *OrderBook) Snapshot(depth int) (bids, asks []PriceLevelView) {
	return b.bids.topLevels(depth, true), b.asks.topLevels(depth, false)
}

// fillableQuantity sums how much of qty could be matched against the
// opposite ladder right now, without mutating any state. Used for the
// FOK pre-check (§4.3 step 4): the spec requires determining affordable
// fill in advance rather than matching then rolling back, since ledger
// mutation cannot be undone cleanly.
func (b *OrderBook) fillableQuantity(side Side, ordType OrdType, price Ticks, qty Quantity) Quantity {
	opposite := b.ladderFor(side.Opposite())
	var filled Quantity
	keys := append([]Ticks(nil), opposite.keys...)
	if side == SideBuy {
		// ascending: best ask first
	} else {
		// descending: best bid first
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	for _, p := range keys {
		if filled >= qty {
			break
		}
		if ordType != OrdTypeMarket {
			if side == SideBuy && price < p {
				break
			}
			if side == SideSell && price > p {
				break
			}
		}
		filled += opposite.totalAt(p)
	}
	if filled > qty {
		return qty
	}
	return filled
}
