package common

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
)

var ErrShortOrderID = errors.New("order id must be 16 bytes")

type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

type OrderType int

const (
	// Limit orders rest in the book at their limit price until filled
	// or cancelled.
	Limit OrderType = iota
	// Market orders sweep the opposing side unconditionally; unmatched
	// quantity is discarded, never rested.
	Market
	// PostOnly orders rest like limit orders but are rejected outright
	// if any part of them would match on arrival.
	PostOnly
	// ImmediateOrCancel orders fill what they can on arrival and cancel
	// the remainder.
	ImmediateOrCancel
	// FillOrKill orders execute completely on arrival or not at all.
	FillOrKill
)

var orderTypeName = map[OrderType]string{
	Limit:             "limit",
	Market:            "market",
	PostOnly:          "post-only",
	ImmediateOrCancel: "ioc",
	FillOrKill:        "fok",
}

func (t OrderType) String() string {
	return orderTypeName[t]
}

// OrderID is a globally unique 128-bit order identifier. The layout is
// stable for wire and storage compatibility: the high half packs the book
// timestamp and assignment sequence, the low half a hash of the owner.
type OrderID struct {
	Hi uint64
	Lo uint64
}

// MakeOrderID composes an id from the book's assignment sequence, the
// insertion timestamp and the owner. Ids assigned by one book are strictly
// increasing as long as the timestamp never goes backwards.
func MakeOrderID(owner string, sequence uint64, timestamp int64) OrderID {
	h := fnv.New64a()
	h.Write([]byte(owner))
	return OrderID{
		Hi: (uint64(timestamp)&0xFFFFFFFF)<<32 | sequence&0xFFFFFFFF,
		Lo: h.Sum64(),
	}
}

func (id OrderID) IsZero() bool {
	return id.Hi == 0 && id.Lo == 0
}

func (id OrderID) Less(other OrderID) bool {
	if id.Hi != other.Hi {
		return id.Hi < other.Hi
	}
	return id.Lo < other.Lo
}

// Bytes returns the big-endian 16 byte encoding used on the wire and in
// the journal.
func (id OrderID) Bytes() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], id.Hi)
	binary.BigEndian.PutUint64(b[8:16], id.Lo)
	return b
}

func OrderIDFromBytes(b []byte) (OrderID, error) {
	if len(b) < 16 {
		return OrderID{}, ErrShortOrderID
	}
	return OrderID{
		Hi: binary.BigEndian.Uint64(b[0:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

func (id OrderID) String() string {
	return fmt.Sprintf("%016x%016x", id.Hi, id.Lo)
}

// OrderIDFromString parses the 32 hex character form produced by String.
func OrderIDFromString(s string) (OrderID, error) {
	if len(s) != 32 {
		return OrderID{}, ErrShortOrderID
	}
	hi, err := strconv.ParseUint(s[:16], 16, 64)
	if err != nil {
		return OrderID{}, fmt.Errorf("parsing order id: %w", err)
	}
	lo, err := strconv.ParseUint(s[16:], 16, 64)
	if err != nil {
		return OrderID{}, fmt.Errorf("parsing order id: %w", err)
	}
	return OrderID{Hi: hi, Lo: lo}, nil
}

// SettlementTagLen bounds the opaque settlement instruction carried on
// every order. The engine never interprets it.
const SettlementTagLen = 32

type SettlementTag [SettlementTagLen]byte

func TagFromString(s string) SettlementTag {
	var tag SettlementTag
	copy(tag[:], s)
	return tag
}

type Order struct {
	ID            OrderID       // Assigned by the book, never reused
	Owner         string        // Opaque owner identifier, equality only
	Side          Side          // Order side
	Type          OrderType     // Lifetime policy
	Price         uint64        // Fixed-point limit price, 0 is invalid
	Quantity      uint64        // Remaining quantity
	TotalQuantity uint64        // Original quantity at submission
	Timestamp     int64         // Book clock reading, FIFO tie-break only
	Tag           SettlementTag // Opaque settlement instruction
}

// Fill decrements the remaining quantity. Quantity never goes below zero.
func (o *Order) Fill(qty uint64) {
	if qty > o.Quantity {
		o.Quantity = 0
		return
	}
	o.Quantity -= qty
}

func (o *Order) IsFilled() bool {
	return o.Quantity == 0
}

// FillPercentage reports how much of the original quantity has executed,
// as an integer percentage.
func (o *Order) FillPercentage() uint64 {
	if o.TotalQuantity == 0 {
		return 0
	}
	return (o.TotalQuantity - o.Quantity) * 100 / o.TotalQuantity
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s %s %d@%d (%d/%d filled) owner=%s",
		o.ID,
		o.Type,
		o.Side,
		o.Quantity,
		o.Price,
		o.TotalQuantity-o.Quantity,
		o.TotalQuantity,
		o.Owner,
	)
}
