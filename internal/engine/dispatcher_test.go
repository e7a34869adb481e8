package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSymbol InstrumentID = "AAPL"

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng := NewEngine(Config{InitialEndowment: 1_000_000, AllowShortSelling: true, SnapshotDepth: 10}, zap.NewNop())
	events := eng.Dispatch(Command{Kind: CmdCreateInstrument, Instrument: testSymbol, TickSize: 1})
	require.Len(t, events, 1)
	require.Equal(t, EvtInstrumentCreated, events[0].Kind)
	return eng
}

func newOrderCmd(account AccountID, side Side, ordType OrdType, price Ticks, qty Quantity, tif TimeInForce) Command {
	return Command{
		Kind:        CmdNewOrder,
		AccountID:   account,
		Instrument:  testSymbol,
		Side:        side,
		OrdType:     ordType,
		Price:       price,
		Quantity:    qty,
		TimeInForce: tif,
	}
}

func TestSimpleLimitCross(t *testing.T) {
	eng := newTestEngine(t)

	sellEvents := eng.Dispatch(newOrderCmd("seller", SideSell, OrdTypeLimit, 100, 10, TIFDay))
	require.Len(t, sellEvents, 1)
	assert.Equal(t, EvtOrderAccepted, sellEvents[0].Kind)

	buyEvents := eng.Dispatch(newOrderCmd("buyer", SideBuy, OrdTypeLimit, 100, 10, TIFDay))
	var kinds []EventKind
	for _, ev := range buyEvents {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, EvtOrderAccepted)
	assert.Contains(t, kinds, EvtOrderFilled)

	bids, asks := mustSnapshot(t, eng)
	assert.Empty(t, bids)
	assert.Empty(t, asks)

	sellerBook, _ := eng.Ledger().Snapshot("seller")
	assert.Equal(t, int64(-10), sellerBook.Positions[testSymbol])
	buyerBook, _ := eng.Ledger().Snapshot("buyer")
	assert.Equal(t, int64(10), buyerBook.Positions[testSymbol])
}

func TestPartialFill(t *testing.T) {
	eng := newTestEngine(t)

	eng.Dispatch(newOrderCmd("seller", SideSell, OrdTypeLimit, 100, 5, TIFDay))
	events := eng.Dispatch(newOrderCmd("buyer", SideBuy, OrdTypeLimit, 100, 10, TIFDay))

	var filled bool
	for _, ev := range events {
		if ev.Kind == EvtOrderFilled {
			filled = true
			assert.EqualValues(t, 5, ev.FillQty)
		}
	}
	assert.True(t, filled)

	bids, _ := mustSnapshot(t, eng)
	require.Len(t, bids, 1)
	assert.EqualValues(t, 5, bids[0].Quantity)
}

func TestIOCWithNoLiquidityDiscards(t *testing.T) {
	eng := newTestEngine(t)

	events := eng.Dispatch(newOrderCmd("buyer", SideBuy, OrdTypeLimit, 100, 10, TIFIOC))
	var kinds []EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, EvtOrderAccepted)
	assert.Contains(t, kinds, EvtOrderCancelled)

	bids, _ := mustSnapshot(t, eng)
	assert.Empty(t, bids)

	buyerBook, _ := eng.Ledger().Snapshot("buyer")
	assert.EqualValues(t, 1_000_000, buyerBook.Cash)
}

func TestFOKInsufficientLiquidityDiscardsWithZeroFills(t *testing.T) {
	eng := newTestEngine(t)

	eng.Dispatch(newOrderCmd("seller", SideSell, OrdTypeLimit, 100, 4, TIFDay))
	events := eng.Dispatch(newOrderCmd("buyer", SideBuy, OrdTypeLimit, 100, 10, TIFFOK))

	for _, ev := range events {
		assert.NotEqual(t, EvtOrderFilled, ev.Kind, "FOK must not partially fill")
	}

	bids, asks := mustSnapshot(t, eng)
	assert.Empty(t, bids)
	require.Len(t, asks, 1)
	assert.EqualValues(t, 4, asks[0].Quantity)

	buyerBook, _ := eng.Ledger().Snapshot("buyer")
	assert.EqualValues(t, 1_000_000, buyerBook.Cash)
}

func TestStopTriggerCascade(t *testing.T) {
	eng := newTestEngine(t)

	// Best ask starts at 110, below the stop's trigger, so it parks.
	eng.Dispatch(newOrderCmd("seller-near", SideSell, OrdTypeLimit, 110, 10, TIFDay))
	eng.Dispatch(newOrderCmd("seller-far", SideSell, OrdTypeLimit, 120, 5, TIFDay))

	cmd := newOrderCmd("stopper", SideBuy, OrdTypeStop, 0, 10, TIFDay)
	cmd.TriggerPrice = 115
	stopEvents := eng.Dispatch(cmd)
	require.Len(t, stopEvents, 1)
	assert.Equal(t, EvtOrderAccepted, stopEvents[0].Kind)

	// Clearing the 110 level leaves best ask at 120, which crosses the
	// stop's 115 trigger and should cascade it into the book as a
	// market buy, filling against the remaining 120 level.
	crossEvents := eng.Dispatch(newOrderCmd("aggressor", SideBuy, OrdTypeLimit, 110, 10, TIFDay))

	var fillCount int
	var cascadedFill bool
	for _, ev := range crossEvents {
		if ev.Kind == EvtOrderFilled {
			fillCount++
			if ev.OrderID == stopEvents[0].OrderID {
				cascadedFill = true
			}
		}
	}
	assert.GreaterOrEqual(t, fillCount, 2, "both the direct cross and the cascaded stop should fill")
	assert.True(t, cascadedFill, "the triggered stop order should itself appear in a fill event")
}

func TestCancelRefundsReservation(t *testing.T) {
	eng := newTestEngine(t)

	events := eng.Dispatch(newOrderCmd("buyer", SideBuy, OrdTypeLimit, 100, 10, TIFDay))
	require.Len(t, events, 1)
	orderID := events[0].OrderID

	before, _ := eng.Ledger().Snapshot("buyer")
	assert.EqualValues(t, 999_000, before.Cash)

	cancelEvents := eng.Dispatch(Command{Kind: CmdCancelOrder, OrderID: orderID})
	require.Len(t, cancelEvents, 1)
	assert.Equal(t, EvtOrderCancelled, cancelEvents[0].Kind)

	after, _ := eng.Ledger().Snapshot("buyer")
	assert.EqualValues(t, 1_000_000, after.Cash)
}

func TestAdvanceTimeStampsSubsequentEvents(t *testing.T) {
	eng := newTestEngine(t)

	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	events := eng.Dispatch(Command{Kind: CmdAdvanceTime, AdvanceTo: future})
	assert.Empty(t, events, "AdvanceTime has no matching effect of its own")

	accepted := eng.Dispatch(newOrderCmd("buyer", SideBuy, OrdTypeLimit, 100, 10, TIFDay))
	require.Len(t, accepted, 1)
	assert.True(t, accepted[0].Timestamp.Equal(future), "events after AdvanceTime must be stamped with the advanced time")
}

func TestAdvanceTimeIgnoresBackwardMovement(t *testing.T) {
	eng := newTestEngine(t)

	later := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Dispatch(Command{Kind: CmdAdvanceTime, AdvanceTo: later})
	eng.Dispatch(Command{Kind: CmdAdvanceTime, AdvanceTo: earlier})

	accepted := eng.Dispatch(newOrderCmd("buyer", SideBuy, OrdTypeLimit, 100, 10, TIFDay))
	require.Len(t, accepted, 1)
	assert.True(t, accepted[0].Timestamp.Equal(later), "a backward AdvanceTime must not move the clock back")
}

func TestSnapshotRequestCommand(t *testing.T) {
	eng := newTestEngine(t)
	eng.Dispatch(newOrderCmd("seller", SideSell, OrdTypeLimit, 100, 10, TIFDay))

	events := eng.Dispatch(Command{Kind: CmdSnapshotRequest, Instrument: testSymbol, Depth: 5})
	require.Len(t, events, 1)
	assert.Equal(t, EvtSnapshot, events[0].Kind)
	require.Len(t, events[0].Asks, 1)
	assert.EqualValues(t, 10, events[0].Asks[0].Quantity)
}

// TestMarketBuySweepPaysActualCost locks in the fix for a cash-creation
// bug: a market buy reserves against the best ask, but when it sweeps
// past that level into worse prices it must still pay for what it
// actually bought rather than only what it reserved.
func TestMarketBuySweepPaysActualCost(t *testing.T) {
	eng := NewEngine(Config{InitialEndowment: 1000, AllowShortSelling: true, SnapshotDepth: 10}, zap.NewNop())
	eng.Dispatch(Command{Kind: CmdCreateInstrument, Instrument: testSymbol, TickSize: 1})

	eng.Dispatch(newOrderCmd("seller", SideSell, OrdTypeLimit, 10, 3, TIFDay))
	eng.Dispatch(newOrderCmd("seller", SideSell, OrdTypeLimit, 12, 3, TIFDay))

	eng.Dispatch(newOrderCmd("buyer", SideBuy, OrdTypeMarket, 0, 5, TIFDay))

	buyer, _ := eng.Ledger().Snapshot("buyer")
	seller, _ := eng.Ledger().Snapshot("seller")

	assert.EqualValues(t, 1000-54, buyer.Cash, "buyer must pay 3@10 + 2@12 = 54, not the 50 it reserved")
	assert.EqualValues(t, 1000+54, seller.Cash)
	assert.Equal(t, buyer.Cash+seller.Cash, Ticks(2000), "total system cash must be conserved across the sweep")
}

func mustSnapshot(t *testing.T, eng *Engine) ([]PriceLevelView, []PriceLevelView) {
	t.Helper()
	bids, asks, ok := eng.SnapshotBook(testSymbol, 10)
	require.True(t, ok)
	return bids, asks
}
