package engine

import (
	"sync"

	"github.com/nexusfix/exchange/pkg/xerrors"
)

// Bankroll is one account's cash balance and per-instrument positions.
// Cash is denominated in the same tick scale as Price, so every
// reservation, trade, and refund is an exact integer operation.
type Bankroll struct {
	AccountID AccountID
	Cash      Ticks
	Positions map[InstrumentID]int64
}

func newBankroll(id AccountID, endowment Ticks) *Bankroll {
	return &Bankroll{AccountID: id, Cash: endowment, Positions: make(map[InstrumentID]int64)}
}

func (b *Bankroll) position(instrument InstrumentID) int64 {
	return b.Positions[instrument]
}

// Ledger owns every account's Bankroll and is the sole mutator of cash
// and position state. It is always called from the engine's
// single-writer goroutine; the mutex guards concurrent reads from the
// admin HTTP surface (account snapshot queries) only.
type Ledger struct {
	mu                sync.RWMutex
	endowment         Ticks
	allowShortSelling bool
	accounts          map[AccountID]*Bankroll
}

// NewLedger constructs a Ledger. endowment is the starting cash balance
// granted to every account on first reference; allowShortSelling
// controls whether a sell may be accepted without sufficient long
// position.
func NewLedger(endowment Ticks, allowShortSelling bool) *Ledger {
	return &Ledger{
		endowment:         endowment,
		allowShortSelling: allowShortSelling,
		accounts:          make(map[AccountID]*Bankroll),
	}
}

func (l *Ledger) ensure(id AccountID) *Bankroll {
	if b, ok := l.accounts[id]; ok {
		return b
	}
	b := newBankroll(id, l.endowment)
	l.accounts[id] = b
	return b
}

// Snapshot returns a copy of an account's bankroll for read-only
// callers (admin HTTP). Returns false if the account has never been
// referenced.
func (l *Ledger) Snapshot(id AccountID) (Bankroll, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.accounts[id]
	if !ok {
		return Bankroll{}, false
	}
	cp := Bankroll{AccountID: b.AccountID, Cash: b.Cash, Positions: make(map[InstrumentID]int64, len(b.Positions))}
	for k, v := range b.Positions {
		cp.Positions[k] = v
	}
	return cp, true
}

// ReserveBuy withholds reservePrice*qty from account's cash ahead of
// resting or matching a buy order. Returns CodeInsufficientFunds if the
// account cannot cover it.
func (l *Ledger) ReserveBuy(account AccountID, reservePrice Ticks, qty Quantity) error {
	return l.AdjustReservation(account, reservePrice*Ticks(qty))
}

// RefundBuy credits amount back to account's cash: used when a
// reservation is released by cancel, IOC/FOK discard, or amend.
func (l *Ledger) RefundBuy(account AccountID, amount Ticks) {
	l.AdjustReservation(account, -amount)
}

// AdjustReservation debits delta from account's cash (rejecting if
// delta is positive and exceeds available cash) or credits -delta back
// when delta is negative. Amend reuses this directly to move a buy
// order's held reservation from its old terms to its new ones in a
// single atomic step.
func (l *Ledger) AdjustReservation(account AccountID, delta Ticks) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.ensure(account)
	if delta > 0 && b.Cash < delta {
		return xerrors.Newf(xerrors.CodeInsufficientFunds, "account %s has %d, needs %d more", account, b.Cash, delta)
	}
	b.Cash -= delta
	return nil
}

// CheckSellable reports whether account may sell qty of instrument,
// honoring allowShortSelling.
func (l *Ledger) CheckSellable(account AccountID, instrument InstrumentID, qty Quantity) error {
	if l.allowShortSelling {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.accounts[account]
	pos := int64(0)
	if ok {
		pos = b.position(instrument)
	}
	if pos < int64(qty) {
		return xerrors.Newf(xerrors.CodeInsufficientPosition, "account %s has position %d in %s, needs %d", account, pos, instrument, qty)
	}
	return nil
}

// SettleTrade applies one fill to both counterparties: the seller
// receives tradePrice*qty cash and loses qty position; the buyer's
// reservation (held at buyReservePrice) shrinks by buyReservePrice*qty
// and the difference against the actual tradePrice is settled against
// free cash, per fill, in whichever direction it falls. tradePrice <
// buyReservePrice (price improvement) credits the buyer the
// difference; tradePrice > buyReservePrice (a market sweep walking
// past the level its reservation was priced at) debits it. Either way
// the buyer ends up paying exactly tradePrice*qty in total, and the
// account can go negative here (admission already checked only the
// reserved amount, not a sweep landing worse than expected) rather
// than silently dropping the shortfall.
func (l *Ledger) SettleTrade(buyer, seller AccountID, instrument InstrumentID, tradePrice Ticks, qty Quantity, buyReservePrice Ticks) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sellerBook := l.ensure(seller)
	sellerBook.Cash += tradePrice * Ticks(qty)
	sellerBook.Positions[instrument] -= int64(qty)

	buyerBook := l.ensure(buyer)
	buyerBook.Cash += (buyReservePrice - tradePrice) * Ticks(qty)
	buyerBook.Positions[instrument] += int64(qty)
}
