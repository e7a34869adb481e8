package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusfix/exchange/internal/engine"
)

func TestDecodeNewOrder(t *testing.T) {
	c := NewCodec(100)
	frame := "35=D|49=BROKER1|50=DESK1|1=ACCT1|11=clordid-1|55=AAPL|54=1|38=10|40=2|44=101.50|59=0"

	cmd, err := c.Decode(frame)
	require.Nil(t, err)

	assert.Equal(t, engine.CmdNewOrder, cmd.Kind)
	assert.Equal(t, "BROKER1", cmd.ClientID.CompID)
	assert.Equal(t, "DESK1", cmd.ClientID.SubID)
	assert.EqualValues(t, "ACCT1", cmd.AccountID)
	assert.EqualValues(t, "AAPL", cmd.Instrument)
	assert.Equal(t, engine.SideBuy, cmd.Side)
	assert.EqualValues(t, 10, cmd.Quantity)
	assert.Equal(t, engine.OrdTypeLimit, cmd.OrdType)
	assert.EqualValues(t, 10150, cmd.Price)
	assert.Equal(t, engine.TIFDay, cmd.TimeInForce)
}

func TestDecodeMissingRequiredTagFails(t *testing.T) {
	c := NewCodec(100)
	_, err := c.Decode("35=D|49=BROKER1|1=ACCT1|55=AAPL|54=1|38=10|40=2|59=0")
	require.NotNil(t, err)
}

func TestDecodeCancelOrder(t *testing.T) {
	c := NewCodec(100)
	cmd, err := c.Decode("35=F|49=BROKER1|1=ACCT1|37=42")
	require.Nil(t, err)
	assert.Equal(t, engine.CmdCancelOrder, cmd.Kind)
	assert.EqualValues(t, 42, cmd.OrderID)
}

func TestEncodeExecutionReportRoundTripsPrice(t *testing.T) {
	c := NewCodec(100)
	ev := engine.Event{
		Kind:          engine.EvtOrderFilled,
		Instrument:    "AAPL",
		OrderID:       7,
		ClientOrderID: "clordid-1",
		Side:          engine.SideBuy,
		FillQty:       5,
		FillPrice:     10150,
	}
	frame := c.EncodeEvent(ev)
	assert.Contains(t, frame, "35=8|")
	assert.Contains(t, frame, "31=101.50|")
	assert.Contains(t, frame, "32=5|")
}

func TestDecodeNewOrderRejectsNegativePrice(t *testing.T) {
	c := NewCodec(100)
	_, err := c.Decode("35=D|49=BROKER1|1=ACCT1|11=clordid-1|55=AAPL|54=1|38=10|40=2|44=-5.00|59=0")
	require.NotNil(t, err)
}

func TestDecodeAmendOrderRejectsNegativePrice(t *testing.T) {
	c := NewCodec(100)
	_, err := c.Decode("35=G|49=BROKER1|37=42|44=-1.00")
	require.NotNil(t, err)
}

func TestDecodeSnapshotRequest(t *testing.T) {
	c := NewCodec(100)
	cmd, err := c.Decode("35=W|49=BROKER1|55=AAPL|9002=5")
	require.Nil(t, err)
	assert.Equal(t, engine.CmdSnapshotRequest, cmd.Kind)
	assert.EqualValues(t, "AAPL", cmd.Instrument)
	assert.Equal(t, 5, cmd.Depth)
}

func TestDecodeAdvanceTime(t *testing.T) {
	c := NewCodec(100)
	cmd, err := c.Decode("35=UAT|49=BROKER1|52=1700000000")
	require.Nil(t, err)
	assert.Equal(t, engine.CmdAdvanceTime, cmd.Kind)
	assert.EqualValues(t, 1700000000, cmd.AdvanceTo.Unix())
}

func TestPeekProtocolVersion(t *testing.T) {
	v, ok := PeekProtocolVersion("35=D|49=BROKER1|9001=1.2.0")
	require.True(t, ok)
	assert.Equal(t, "1.2.0", v)

	_, ok = PeekProtocolVersion("35=D|49=BROKER1")
	assert.False(t, ok)
}
