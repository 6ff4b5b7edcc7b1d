package common

import "fmt"

// Fill is one leg of a match: the taker order consumed quantity from the
// maker order resting at the maker's price.
type Fill struct {
	Price          uint64
	Quantity       uint64
	MakerID        OrderID
	MakerOwner     string
	MakerRemaining uint64
}

func (f Fill) String() string {
	return fmt.Sprintf("%d@%d maker=%s (%d left)",
		f.Quantity, f.Price, f.MakerID, f.MakerRemaining)
}

type EventType int

const (
	EventFill EventType = iota
	EventRest
	EventCancel
	EventReject
	EventDiscard
)

var eventTypeName = map[EventType]string{
	EventFill:    "fill",
	EventRest:    "rest",
	EventCancel:  "cancel",
	EventReject:  "reject",
	EventDiscard: "discard",
}

func (t EventType) String() string {
	return eventTypeName[t]
}

// Reason qualifies reject and discard events.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonPostOnlyWouldMatch
	ReasonFillOrKillNotFilled
	ReasonSelfTrade
	ReasonUnmatchedRemainder
)

var reasonName = map[Reason]string{
	ReasonNone:                "",
	ReasonPostOnlyWouldMatch:  "post-only would match",
	ReasonFillOrKillNotFilled: "fill-or-kill not fillable",
	ReasonSelfTrade:           "self trade",
	ReasonUnmatchedRemainder:  "unmatched remainder",
}

func (r Reason) String() string {
	return reasonName[r]
}

// Event is the structured record pushed to downstream consumers for every
// fill, rest, cancellation, rejection and discard. MakerID, MakerOwner and
// MakerRemaining are set on fills only.
type Event struct {
	Type           EventType `json:"type"`
	OrderID        OrderID   `json:"order_id"`
	Owner          string    `json:"owner"`
	Side           Side      `json:"side"`
	Price          uint64    `json:"price"`
	Quantity       uint64    `json:"quantity"`
	Remaining      uint64    `json:"remaining"`
	MakerID        OrderID   `json:"maker_id,omitempty"`
	MakerOwner     string    `json:"maker_owner,omitempty"`
	MakerRemaining uint64    `json:"maker_remaining,omitempty"`
	Timestamp      int64     `json:"timestamp"`
	Reason         Reason    `json:"reason,omitempty"`
}
