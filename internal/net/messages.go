package net

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"

	"skoll/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
)

type MessageType int

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
)

type ReportMessageType int

const (
	ExecutionReport ReportMessageType = iota
	ErrorReport
)

type Message interface {
	GetType() MessageType
}

// Message format constants. Lengths count the bytes after the 2 byte
// message type header.
const (
	BaseMessageHeaderLen        = 2
	NewOrderMessageHeaderLen    = 1 + 1 + 8 + 8 + 16 + common.SettlementTagLen + 1 + 1
	CancelOrderMessageHeaderLen = 16 + 1 + 1
)

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, ErrMessageTooShort
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	case NewOrder:
		return parseNewOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	default:
		return BaseMessage{}, ErrInvalidMessageType
	}
}

type NewOrderMessage struct {
	BaseMessage
	OrderType common.OrderType     // 1 byte
	Side      common.Side          // 1 byte
	Price     uint64               // 8 bytes, fixed-point
	Quantity  uint64               // 8 bytes
	Token     uuid.UUID            // 16 bytes, client correlation token
	Tag       common.SettlementTag // 32 bytes, opaque
	MarketLen uint8                // 1 byte
	OwnerLen  uint8                // 1 byte
	Market    string               // n bytes
	Owner     string               // n bytes
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	if len(msg) < NewOrderMessageHeaderLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}

	m.OrderType = common.OrderType(msg[0])
	m.Side = common.Side(msg[1])
	m.Price = binary.BigEndian.Uint64(msg[2:10])
	m.Quantity = binary.BigEndian.Uint64(msg[10:18])
	copy(m.Token[:], msg[18:34])
	copy(m.Tag[:], msg[34:66])
	m.MarketLen = msg[66]
	m.OwnerLen = msg[67]

	expected := NewOrderMessageHeaderLen + int(m.MarketLen) + int(m.OwnerLen)
	if len(msg) < expected {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	off := NewOrderMessageHeaderLen
	m.Market = string(msg[off : off+int(m.MarketLen)])
	m.Owner = string(msg[off+int(m.MarketLen) : off+int(m.MarketLen)+int(m.OwnerLen)])
	return m, nil
}

// Serialize packs the message, type header included.
func (m NewOrderMessage) Serialize() []byte {
	buf := make([]byte, BaseMessageHeaderLen+NewOrderMessageHeaderLen+len(m.Market)+len(m.Owner))
	binary.BigEndian.PutUint16(buf[0:2], uint16(NewOrder))
	b := buf[2:]
	b[0] = byte(m.OrderType)
	b[1] = byte(m.Side)
	binary.BigEndian.PutUint64(b[2:10], m.Price)
	binary.BigEndian.PutUint64(b[10:18], m.Quantity)
	copy(b[18:34], m.Token[:])
	copy(b[34:66], m.Tag[:])
	b[66] = uint8(len(m.Market))
	b[67] = uint8(len(m.Owner))
	off := NewOrderMessageHeaderLen
	off += copy(b[off:], m.Market)
	copy(b[off:], m.Owner)
	return buf
}

type CancelOrderMessage struct {
	BaseMessage
	OrderID   common.OrderID // 16 bytes
	MarketLen uint8          // 1 byte
	OwnerLen  uint8          // 1 byte
	Market    string         // n bytes
	Owner     string         // n bytes
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	if len(msg) < CancelOrderMessageHeaderLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}

	id, err := common.OrderIDFromBytes(msg[0:16])
	if err != nil {
		return CancelOrderMessage{}, err
	}
	m.OrderID = id
	m.MarketLen = msg[16]
	m.OwnerLen = msg[17]

	expected := CancelOrderMessageHeaderLen + int(m.MarketLen) + int(m.OwnerLen)
	if len(msg) < expected {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	off := CancelOrderMessageHeaderLen
	m.Market = string(msg[off : off+int(m.MarketLen)])
	m.Owner = string(msg[off+int(m.MarketLen) : off+int(m.MarketLen)+int(m.OwnerLen)])
	return m, nil
}

func (m CancelOrderMessage) Serialize() []byte {
	buf := make([]byte, BaseMessageHeaderLen+CancelOrderMessageHeaderLen+len(m.Market)+len(m.Owner))
	binary.BigEndian.PutUint16(buf[0:2], uint16(CancelOrder))
	b := buf[2:]
	id := m.OrderID.Bytes()
	copy(b[0:16], id[:])
	b[16] = uint8(len(m.Market))
	b[17] = uint8(len(m.Owner))
	off := CancelOrderMessageHeaderLen
	off += copy(b[off:], m.Market)
	copy(b[off:], m.Owner)
	return buf
}

// Report is the wire form of an execution or error notification.
type Report struct {
	MessageType ReportMessageType // 1 byte
	Event       common.EventType  // 1 byte
	Side        common.Side       // 1 byte
	Reason      common.Reason     // 1 byte
	Price       uint64            // 8 bytes
	Quantity    uint64            // 8 bytes
	Remaining   uint64            // 8 bytes
	Timestamp   uint64            // 8 bytes
	OrderID     common.OrderID    // 16 bytes
	Token       uuid.UUID         // 16 bytes, echoed from the submission
	ErrStrLen   uint16            // 2 bytes
	Err         string            // n bytes
}

const ReportHeaderLen = 1 + 1 + 1 + 1 + 8 + 8 + 8 + 8 + 16 + 16 + 2

// Serialize converts the report to be sent on the wire.
func (r *Report) Serialize() []byte {
	buf := make([]byte, ReportHeaderLen+len(r.Err))
	buf[0] = byte(r.MessageType)
	buf[1] = byte(r.Event)
	buf[2] = byte(r.Side)
	buf[3] = byte(r.Reason)
	binary.BigEndian.PutUint64(buf[4:12], r.Price)
	binary.BigEndian.PutUint64(buf[12:20], r.Quantity)
	binary.BigEndian.PutUint64(buf[20:28], r.Remaining)
	binary.BigEndian.PutUint64(buf[28:36], r.Timestamp)
	id := r.OrderID.Bytes()
	copy(buf[36:52], id[:])
	copy(buf[52:68], r.Token[:])
	binary.BigEndian.PutUint16(buf[68:70], uint16(len(r.Err)))
	copy(buf[ReportHeaderLen:], r.Err)
	return buf
}

// ParseReport decodes a wire report. Used by the client.
func ParseReport(buf []byte) (Report, error) {
	if len(buf) < ReportHeaderLen {
		return Report{}, ErrMessageTooShort
	}
	r := Report{
		MessageType: ReportMessageType(buf[0]),
		Event:       common.EventType(buf[1]),
		Side:        common.Side(buf[2]),
		Reason:      common.Reason(buf[3]),
		Price:       binary.BigEndian.Uint64(buf[4:12]),
		Quantity:    binary.BigEndian.Uint64(buf[12:20]),
		Remaining:   binary.BigEndian.Uint64(buf[20:28]),
		Timestamp:   binary.BigEndian.Uint64(buf[28:36]),
	}
	id, err := common.OrderIDFromBytes(buf[36:52])
	if err != nil {
		return Report{}, err
	}
	r.OrderID = id
	copy(r.Token[:], buf[52:68])
	r.ErrStrLen = binary.BigEndian.Uint16(buf[68:70])
	if len(buf) < ReportHeaderLen+int(r.ErrStrLen) {
		return Report{}, ErrMessageTooShort
	}
	r.Err = string(buf[ReportHeaderLen : ReportHeaderLen+int(r.ErrStrLen)])
	return r, nil
}
