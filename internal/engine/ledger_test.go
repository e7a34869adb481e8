package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustReservationRejectsInsufficientFunds(t *testing.T) {
	l := NewLedger(1000, false)
	require.NoError(t, l.AdjustReservation("acct", 600))
	err := l.AdjustReservation("acct", 500)
	require.Error(t, err)

	b, ok := l.Snapshot("acct")
	require.True(t, ok)
	assert.EqualValues(t, 400, b.Cash, "a failed reservation must not partially debit the account")
}

func TestAdjustReservationCreditIsAlwaysUnconditional(t *testing.T) {
	l := NewLedger(1000, false)
	require.NoError(t, l.AdjustReservation("acct", 900))
	l.AdjustReservation("acct", -900)

	b, _ := l.Snapshot("acct")
	assert.EqualValues(t, 1000, b.Cash)
}

func TestSettleTradeConservesCash(t *testing.T) {
	l := NewLedger(2000, true)
	require.NoError(t, l.ReserveBuy("buyer", 105, 10))

	l.SettleTrade("buyer", "seller", "AAPL", 100, 10, 105)

	buyer, _ := l.Snapshot("buyer")
	seller, _ := l.Snapshot("seller")

	// Buyer paid reservation of 1050, got 50 back as price improvement.
	assert.EqualValues(t, 2000-1050+50, buyer.Cash)
	assert.EqualValues(t, 10, buyer.Positions["AAPL"])

	assert.EqualValues(t, 2000+1000, seller.Cash)
	assert.EqualValues(t, -10, seller.Positions["AAPL"])
}

func TestSettleTradeDebitsShortfallWhenTradeExceedsReserve(t *testing.T) {
	// A market buy reserves against the best ask (10) but sweeps a second
	// level (12): the buyer must pay the full 3@10 + 2@12 = 54, not just
	// the 50 it reserved up front.
	l := NewLedger(1000, true)
	require.NoError(t, l.ReserveBuy("buyer", 10, 5))

	l.SettleTrade("buyer", "seller", "AAPL", 10, 3, 10)
	l.SettleTrade("buyer", "seller", "AAPL", 12, 2, 10)

	buyer, _ := l.Snapshot("buyer")
	seller, _ := l.Snapshot("seller")

	assert.EqualValues(t, 1000-54, buyer.Cash, "buyer must pay the actual sweep cost, not just the reserved amount")
	assert.EqualValues(t, 5, buyer.Positions["AAPL"])

	assert.EqualValues(t, 1000+54, seller.Cash)
	assert.EqualValues(t, -5, seller.Positions["AAPL"])
}

func TestCheckSellableRejectsShortWithoutFlag(t *testing.T) {
	l := NewLedger(1000, false)
	err := l.CheckSellable("acct", "AAPL", 5)
	assert.Error(t, err)
}

func TestCheckSellableAllowsShortWithFlag(t *testing.T) {
	l := NewLedger(1000, true)
	err := l.CheckSellable("acct", "AAPL", 5)
	assert.NoError(t, err)
}
