// Package store persists every execution event to a local pebble database
// so matched orders survive a restart and downstream settlement can replay
// them. Records are keyed by a dense big-endian sequence number; the next
// sequence is recovered from the last key on open.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"skoll/internal/common"
)

var ErrCorruptRecord = errors.New("corrupt journal record")

// Record layout, big-endian:
// [type:1][side:1][reason:1][order:16][maker:16]
// [price:8][qty:8][remaining:8][makerRemaining:8][ts:8]
// [ownerLen:2][makerOwnerLen:2][owner][makerOwner]
const recordHeaderLen = 1 + 1 + 1 + 16 + 16 + 8 + 8 + 8 + 8 + 8 + 2 + 2

type Journal struct {
	db   *pebble.DB
	next uint64
}

func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	j := &Journal{db: db}

	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("recovering journal sequence: %w", err)
	}
	if iter.Last() {
		j.next = binary.BigEndian.Uint64(iter.Key()) + 1
	}
	if err := iter.Close(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Append durably writes one event.
func (j *Journal) Append(ev common.Event) error {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], j.next)
	if err := j.db.Set(key[:], encodeEvent(ev), pebble.Sync); err != nil {
		return fmt.Errorf("appending journal record: %w", err)
	}
	j.next++
	return nil
}

// ReportEvent lets the journal serve as an engine event sink.
func (j *Journal) ReportEvent(ev common.Event) error {
	return j.Append(ev)
}

// Replay walks all persisted events in sequence order.
func (j *Journal) Replay(fn func(seq uint64, ev common.Event) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		ev, err := decodeEvent(iter.Value())
		if err != nil {
			return err
		}
		if err := fn(binary.BigEndian.Uint64(iter.Key()), ev); err != nil {
			return err
		}
	}
	return iter.Error()
}

func encodeEvent(ev common.Event) []byte {
	buf := make([]byte, recordHeaderLen+len(ev.Owner)+len(ev.MakerOwner))
	buf[0] = byte(ev.Type)
	buf[1] = byte(ev.Side)
	buf[2] = byte(ev.Reason)
	order := ev.OrderID.Bytes()
	copy(buf[3:19], order[:])
	maker := ev.MakerID.Bytes()
	copy(buf[19:35], maker[:])
	binary.BigEndian.PutUint64(buf[35:43], ev.Price)
	binary.BigEndian.PutUint64(buf[43:51], ev.Quantity)
	binary.BigEndian.PutUint64(buf[51:59], ev.Remaining)
	binary.BigEndian.PutUint64(buf[59:67], ev.MakerRemaining)
	binary.BigEndian.PutUint64(buf[67:75], uint64(ev.Timestamp))
	binary.BigEndian.PutUint16(buf[75:77], uint16(len(ev.Owner)))
	binary.BigEndian.PutUint16(buf[77:79], uint16(len(ev.MakerOwner)))
	off := recordHeaderLen
	off += copy(buf[off:], ev.Owner)
	copy(buf[off:], ev.MakerOwner)
	return buf
}

func decodeEvent(buf []byte) (common.Event, error) {
	if len(buf) < recordHeaderLen {
		return common.Event{}, ErrCorruptRecord
	}
	orderID, err := common.OrderIDFromBytes(buf[3:19])
	if err != nil {
		return common.Event{}, err
	}
	makerID, err := common.OrderIDFromBytes(buf[19:35])
	if err != nil {
		return common.Event{}, err
	}
	ownerLen := int(binary.BigEndian.Uint16(buf[75:77]))
	makerOwnerLen := int(binary.BigEndian.Uint16(buf[77:79]))
	if len(buf) != recordHeaderLen+ownerLen+makerOwnerLen {
		return common.Event{}, ErrCorruptRecord
	}
	off := recordHeaderLen
	return common.Event{
		Type:           common.EventType(buf[0]),
		Side:           common.Side(buf[1]),
		Reason:         common.Reason(buf[2]),
		OrderID:        orderID,
		MakerID:        makerID,
		Price:          binary.BigEndian.Uint64(buf[35:43]),
		Quantity:       binary.BigEndian.Uint64(buf[43:51]),
		Remaining:      binary.BigEndian.Uint64(buf[51:59]),
		MakerRemaining: binary.BigEndian.Uint64(buf[59:67]),
		Timestamp:      int64(binary.BigEndian.Uint64(buf[67:75])),
		Owner:          string(buf[off : off+ownerLen]),
		MakerOwner:     string(buf[off+ownerLen:]),
	}, nil
}
