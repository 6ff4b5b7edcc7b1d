package net

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skoll/internal/common"
)

func TestParseMessage_NewOrder(t *testing.T) {
	in := NewOrderMessage{
		OrderType: common.FillOrKill,
		Side:      common.Ask,
		Price:     1005000,
		Quantity:  250,
		Token:     uuid.New(),
		Tag:       common.TagFromString("settle-via:vault-7"),
		Market:    "BTC/USD",
		Owner:     "alice",
	}

	msg, err := parseMessage(in.Serialize())
	require.NoError(t, err)
	out, ok := msg.(NewOrderMessage)
	require.True(t, ok)

	assert.Equal(t, common.FillOrKill, out.OrderType)
	assert.Equal(t, common.Ask, out.Side)
	assert.Equal(t, uint64(1005000), out.Price)
	assert.Equal(t, uint64(250), out.Quantity)
	assert.Equal(t, in.Token, out.Token)
	assert.Equal(t, in.Tag, out.Tag)
	assert.Equal(t, "BTC/USD", out.Market)
	assert.Equal(t, "alice", out.Owner)
}

func TestParseMessage_CancelOrder(t *testing.T) {
	in := CancelOrderMessage{
		OrderID: common.OrderID{Hi: 0xDEAD, Lo: 0xBEEF},
		Market:  "BTC/USD",
		Owner:   "bob",
	}

	msg, err := parseMessage(in.Serialize())
	require.NoError(t, err)
	out, ok := msg.(CancelOrderMessage)
	require.True(t, ok)

	assert.Equal(t, in.OrderID, out.OrderID)
	assert.Equal(t, "BTC/USD", out.Market)
	assert.Equal(t, "bob", out.Owner)
}

func TestParseMessage_Invalid(t *testing.T) {
	_, err := parseMessage([]byte{0x00})
	assert.ErrorIs(t, err, ErrMessageTooShort)

	_, err = parseMessage([]byte{0xFF, 0xFF})
	assert.ErrorIs(t, err, ErrInvalidMessageType)

	// A truncated new-order body must not parse.
	full := NewOrderMessage{Market: "M", Owner: "O", Token: uuid.New()}.Serialize()
	_, err = parseMessage(full[:len(full)-1])
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

func TestReport_RoundTrip(t *testing.T) {
	in := Report{
		MessageType: ExecutionReport,
		Event:       common.EventFill,
		Side:        common.Bid,
		Reason:      common.ReasonNone,
		Price:       1000,
		Quantity:    25,
		Remaining:   5,
		Timestamp:   987654321,
		OrderID:     common.OrderID{Hi: 7, Lo: 8},
		Token:       uuid.New(),
	}

	out, err := ParseReport(in.Serialize())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReport_Error(t *testing.T) {
	in := Report{
		MessageType: ErrorReport,
		Token:       uuid.New(),
		Err:         "order not found",
	}

	buf := in.Serialize()
	out, err := ParseReport(buf)
	require.NoError(t, err)
	assert.Equal(t, "order not found", out.Err)
	assert.Equal(t, uint16(len("order not found")), out.ErrStrLen)

	_, err = ParseReport(buf[:len(buf)-1])
	assert.ErrorIs(t, err, ErrMessageTooShort)
}
