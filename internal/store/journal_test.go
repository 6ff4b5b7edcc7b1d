package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skoll/internal/common"
)

func testEvents() []common.Event {
	return []common.Event{
		{
			Type:      common.EventRest,
			OrderID:   common.OrderID{Hi: 1, Lo: 2},
			Owner:     "alice",
			Side:      common.Bid,
			Price:     100,
			Quantity:  10,
			Remaining: 10,
			Timestamp: 1111,
		},
		{
			Type:           common.EventFill,
			OrderID:        common.OrderID{Hi: 3, Lo: 4},
			Owner:          "bob",
			Side:           common.Ask,
			Price:          100,
			Quantity:       10,
			MakerID:        common.OrderID{Hi: 1, Lo: 2},
			MakerOwner:     "alice",
			MakerRemaining: 0,
			Timestamp:      2222,
		},
		{
			Type:      common.EventReject,
			OrderID:   common.OrderID{Hi: 5, Lo: 6},
			Owner:     "carol",
			Side:      common.Bid,
			Price:     99,
			Quantity:  5,
			Reason:    common.ReasonSelfTrade,
			Timestamp: 3333,
		},
	}
}

func TestJournal_AppendReplay(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	want := testEvents()
	for _, ev := range want {
		require.NoError(t, j.Append(ev))
	}

	var got []common.Event
	var seqs []uint64
	err = j.Replay(func(seq uint64, ev common.Event) error {
		seqs = append(seqs, seq)
		got = append(got, ev)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, []uint64{0, 1, 2}, seqs, "sequence numbers are dense from zero")
}

func TestJournal_SequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)
	for _, ev := range testEvents()[:2] {
		require.NoError(t, j.Append(ev))
	}
	require.NoError(t, j.Close())

	// Reopening must continue the sequence, not restart it.
	j, err = Open(dir)
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.Append(testEvents()[2]))

	var seqs []uint64
	err = j.Replay(func(seq uint64, _ common.Event) error {
		seqs = append(seqs, seq)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2}, seqs)
}

func TestDecodeEvent_Corrupt(t *testing.T) {
	_, err := decodeEvent([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCorruptRecord)

	ev := testEvents()[0]
	buf := encodeEvent(ev)
	_, err = decodeEvent(buf[:len(buf)-1])
	assert.ErrorIs(t, err, ErrCorruptRecord)
}
