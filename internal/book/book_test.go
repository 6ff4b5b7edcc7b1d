package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skoll/internal/common"
)

// --- Setup & Helpers --------------------------------------------------------

func createTestBook() *OrderBook {
	return New(Options{PriceLevels: 16})
}

func restTestOrders(b *OrderBook, owner string, side common.Side, price uint64, quantities ...uint64) error {
	for _, qty := range quantities {
		o := &common.Order{
			Owner:         owner,
			Side:          side,
			Type:          common.Limit,
			Price:         price,
			Quantity:      qty,
			TotalQuantity: qty,
		}
		if err := b.InsertResting(o); err != nil {
			return err
		}
	}
	return nil
}

// shape reduces a flattened side to (price, quantities...) rows so tests can
// compare book states without caring about assigned ids and timestamps.
type shapeLevel struct {
	price      uint64
	quantities []uint64
}

func shape(levels []FlatLevel) []shapeLevel {
	out := make([]shapeLevel, len(levels))
	for i, lvl := range levels {
		out[i] = shapeLevel{price: lvl.Price}
		for _, o := range lvl.Orders {
			out[i].quantities = append(out[i].quantities, o.Quantity)
		}
	}
	return out
}

func level(price uint64, quantities ...uint64) shapeLevel {
	return shapeLevel{price: price, quantities: quantities}
}

// --- Tests ------------------------------------------------------------------

func TestInsertResting_Ordering(t *testing.T) {
	b := createTestBook()

	// 1. Setup: three FIFO orders per level, two levels per side
	require.NoError(t, restTestOrders(b, "alice", common.Bid, 99, 100, 90, 80))
	require.NoError(t, restTestOrders(b, "alice", common.Bid, 98, 50))
	require.NoError(t, restTestOrders(b, "bob", common.Ask, 100, 100, 90))
	require.NoError(t, restTestOrders(b, "bob", common.Ask, 101, 20))

	// 2. Assertions: bids high->low, asks low->high, FIFO within a level
	assert.Equal(t, []shapeLevel{
		level(99, 100, 90, 80),
		level(98, 50),
	}, shape(b.Flatten(common.Bid)), "Bids should be sorted High -> Low")

	assert.Equal(t, []shapeLevel{
		level(100, 100, 90),
		level(101, 20),
	}, shape(b.Flatten(common.Ask)), "Asks should be sorted Low -> High")

	assert.Equal(t, uint64(7), b.RestingOrders())
	assert.Equal(t, uint64(320), b.SideQuantity(common.Bid))
	assert.Equal(t, uint64(210), b.SideQuantity(common.Ask))

	idx, ok := b.bids.find(99)
	require.True(t, ok)
	assert.Equal(t, uint64(100), b.queues[idx].peek().Quantity, "peek sees the oldest order")
}

func TestInsertResting_Validation(t *testing.T) {
	b := createTestBook()

	err := b.InsertResting(&common.Order{Owner: "alice", Side: common.Bid, Price: 100})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	err = b.InsertResting(&common.Order{Owner: "alice", Side: common.Bid, Quantity: 10})
	assert.ErrorIs(t, err, ErrInvalidPrice)

	assert.Equal(t, uint64(0), b.RestingOrders(), "failed inserts must not touch the book")
}

func TestInsertResting_AssignsIncreasingIDs(t *testing.T) {
	b := createTestBook()

	var prev common.OrderID
	for i := 0; i < 100; i++ {
		o := &common.Order{Owner: "alice", Side: common.Bid, Price: 50, Quantity: 1, TotalQuantity: 1}
		require.NoError(t, b.InsertResting(o))
		assert.False(t, o.ID.IsZero())
		assert.True(t, prev.Less(o.ID), "ids must be strictly increasing")
		prev = o.ID
	}
}

func TestBestPrices(t *testing.T) {
	b := createTestBook()

	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)
	_, ok = b.Spread()
	assert.False(t, ok)

	require.NoError(t, restTestOrders(b, "alice", common.Bid, 95, 10))
	require.NoError(t, restTestOrders(b, "alice", common.Bid, 99, 10))
	require.NoError(t, restTestOrders(b, "bob", common.Ask, 103, 10))
	require.NoError(t, restTestOrders(b, "bob", common.Ask, 101, 10))

	bid, ok := b.BestBid()
	assert.True(t, ok)
	assert.Equal(t, uint64(99), bid)

	ask, ok := b.BestAsk()
	assert.True(t, ok)
	assert.Equal(t, uint64(101), ask)

	spread, ok := b.Spread()
	assert.True(t, ok)
	assert.Equal(t, uint64(2), spread)

	mid, ok := b.MidPrice()
	assert.True(t, ok)
	assert.Equal(t, uint64(100), mid)
}

func TestDepth(t *testing.T) {
	b := createTestBook()

	require.NoError(t, restTestOrders(b, "alice", common.Bid, 99, 10, 5))
	require.NoError(t, restTestOrders(b, "alice", common.Bid, 98, 20))
	require.NoError(t, restTestOrders(b, "alice", common.Bid, 97, 30))

	depth := b.Depth(common.Bid, 2)
	assert.Equal(t, []DepthLevel{
		{Price: 99, Quantity: 15},
		{Price: 98, Quantity: 20},
	}, depth, "depth is best first and capped at n")

	depth = b.Depth(common.Bid, 10)
	assert.Len(t, depth, 3)

	assert.Empty(t, b.Depth(common.Ask, 5))
}

func TestCancel(t *testing.T) {
	b := createTestBook()

	first := &common.Order{Owner: "alice", Side: common.Bid, Price: 99, Quantity: 10, TotalQuantity: 10}
	second := &common.Order{Owner: "alice", Side: common.Bid, Price: 99, Quantity: 20, TotalQuantity: 20}
	require.NoError(t, b.InsertResting(first))
	require.NoError(t, b.InsertResting(second))

	// Cancelling the older order keeps the younger one queued.
	removed, err := b.Cancel(first.ID, "alice")
	assert.NoError(t, err)
	assert.Equal(t, *first, removed)
	assert.Equal(t, []shapeLevel{level(99, 20)}, shape(b.Flatten(common.Bid)))

	// A second cancel of the same id misses.
	_, err = b.Cancel(first.ID, "alice")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	// Cancelling the last order at a level removes the level.
	_, err = b.Cancel(second.ID, "alice")
	assert.NoError(t, err)
	assert.Empty(t, b.Flatten(common.Bid))

	_, ok := b.BestBid()
	assert.False(t, ok, "best bid must clear with the last level")
	assert.Equal(t, uint64(0), b.RestingOrders())
}

func TestCancel_OwnerOnly(t *testing.T) {
	b := createTestBook()

	o := &common.Order{Owner: "alice", Side: common.Ask, Price: 105, Quantity: 10, TotalQuantity: 10}
	require.NoError(t, b.InsertResting(o))

	_, err := b.Cancel(o.ID, "mallory")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, uint64(1), b.RestingOrders(), "a rejected cancel must not touch the book")

	_, err = b.Cancel(o.ID, "alice")
	assert.NoError(t, err)
}

func TestBookCapacity(t *testing.T) {
	b := New(Options{PriceLevels: 2})

	require.NoError(t, restTestOrders(b, "alice", common.Bid, 10, 1))
	require.NoError(t, restTestOrders(b, "alice", common.Ask, 20, 1))

	// Both levels are taken; a third distinct price must be refused.
	err := restTestOrders(b, "alice", common.Bid, 11, 1)
	assert.ErrorIs(t, err, ErrBookFull)

	// An existing level still accepts orders.
	assert.NoError(t, restTestOrders(b, "alice", common.Bid, 10, 2))

	// Freeing a level makes room for a new price.
	o := &common.Order{Owner: "alice", Side: common.Ask, Price: 20, Quantity: 1, TotalQuantity: 1}
	var askID common.OrderID
	for _, lvl := range b.Flatten(common.Ask) {
		askID = lvl.Orders[0].ID
	}
	_, err = b.Cancel(askID, "alice")
	require.NoError(t, err)
	assert.NoError(t, b.InsertResting(o))
}

func TestLevelDepthCap(t *testing.T) {
	b := New(Options{PriceLevels: 4, MaxOrdersPerLevel: 2})

	require.NoError(t, restTestOrders(b, "alice", common.Bid, 10, 1, 1))
	err := restTestOrders(b, "alice", common.Bid, 10, 1)
	assert.ErrorIs(t, err, ErrLevelFull)
	assert.Equal(t, []shapeLevel{level(10, 1, 1)}, shape(b.Flatten(common.Bid)))
}

func TestMatchOrder_PriceTimePriority(t *testing.T) {
	b := createTestBook()

	// 1. Setup: two ask levels, the cheaper one with two FIFO makers
	require.NoError(t, restTestOrders(b, "bob", common.Ask, 100, 40))
	require.NoError(t, restTestOrders(b, "carol", common.Ask, 100, 60))
	require.NoError(t, restTestOrders(b, "dave", common.Ask, 101, 50))

	// 2. A bid for 120 at 101 sweeps 100 fully and takes 20 from 101
	taker := &common.Order{Owner: "erin", Side: common.Bid, Quantity: 120, TotalQuantity: 120}
	b.Stamp(taker)
	fills := b.MatchOrder(taker, 101, false)

	// 3. Assertions: fills in price-time order, quantities conserved
	require.Len(t, fills, 3)
	assert.Equal(t, uint64(100), fills[0].Price)
	assert.Equal(t, uint64(40), fills[0].Quantity)
	assert.Equal(t, "bob", fills[0].MakerOwner)
	assert.Equal(t, uint64(100), fills[1].Price)
	assert.Equal(t, uint64(60), fills[1].Quantity)
	assert.Equal(t, "carol", fills[1].MakerOwner)
	assert.Equal(t, uint64(101), fills[2].Price)
	assert.Equal(t, uint64(20), fills[2].Quantity)
	assert.Equal(t, "dave", fills[2].MakerOwner)

	assert.Equal(t, uint64(0), taker.Quantity)
	assert.Equal(t, []shapeLevel{level(101, 30)}, shape(b.Flatten(common.Ask)))

	ask, ok := b.BestAsk()
	assert.True(t, ok)
	assert.Equal(t, uint64(101), ask)
	assert.Equal(t, uint64(30), b.SideQuantity(common.Ask))
}

func TestMatchOrder_RespectsLimit(t *testing.T) {
	b := createTestBook()

	require.NoError(t, restTestOrders(b, "bob", common.Ask, 100, 40))
	require.NoError(t, restTestOrders(b, "bob", common.Ask, 105, 40))

	taker := &common.Order{Owner: "alice", Side: common.Bid, Quantity: 80, TotalQuantity: 80}
	b.Stamp(taker)
	fills := b.MatchOrder(taker, 100, false)

	require.Len(t, fills, 1)
	assert.Equal(t, uint64(100), fills[0].Price)
	assert.Equal(t, uint64(40), taker.Quantity, "the 105 level is beyond the limit")
	assert.Equal(t, []shapeLevel{level(105, 40)}, shape(b.Flatten(common.Ask)))
}

func TestMatchOrder_Unbounded(t *testing.T) {
	b := createTestBook()

	require.NoError(t, restTestOrders(b, "bob", common.Bid, 90, 30))
	require.NoError(t, restTestOrders(b, "bob", common.Bid, 80, 30))

	// An unbounded ask sweeps every bid level regardless of price.
	taker := &common.Order{Owner: "alice", Side: common.Ask, Quantity: 100, TotalQuantity: 100}
	b.Stamp(taker)
	fills := b.MatchOrder(taker, 0, true)

	require.Len(t, fills, 2)
	assert.Equal(t, uint64(90), fills[0].Price)
	assert.Equal(t, uint64(80), fills[1].Price)
	assert.Equal(t, uint64(40), taker.Quantity)
	assert.Empty(t, b.Flatten(common.Bid))
}

func TestMatchOrder_SkipsSelf(t *testing.T) {
	b := createTestBook()

	// 1. Setup: alice's own order queued ahead of bob's at the same price
	require.NoError(t, restTestOrders(b, "alice", common.Ask, 100, 50))
	require.NoError(t, restTestOrders(b, "bob", common.Ask, 100, 50))

	// 2. Alice takes; her own resting order must be skipped, not filled
	taker := &common.Order{Owner: "alice", Side: common.Bid, Quantity: 80, TotalQuantity: 80}
	b.Stamp(taker)
	fills := b.MatchOrder(taker, 100, false)

	require.Len(t, fills, 1)
	assert.Equal(t, "bob", fills[0].MakerOwner)
	assert.Equal(t, uint64(50), fills[0].Quantity)
	assert.Equal(t, uint64(30), taker.Quantity)

	// 3. Alice's order keeps its place at the front of the level
	assert.Equal(t, []shapeLevel{level(100, 50)}, shape(b.Flatten(common.Ask)))
	got := b.Flatten(common.Ask)
	assert.Equal(t, "alice", got[0].Orders[0].Owner)
}

func TestMatchOrder_SkipsSelfAcrossLevels(t *testing.T) {
	b := createTestBook()

	// Alice owns the entire best level; liquidity is one level deeper.
	require.NoError(t, restTestOrders(b, "alice", common.Ask, 100, 50))
	require.NoError(t, restTestOrders(b, "bob", common.Ask, 101, 50))

	taker := &common.Order{Owner: "alice", Side: common.Bid, Quantity: 50, TotalQuantity: 50}
	b.Stamp(taker)
	fills := b.MatchOrder(taker, 101, false)

	require.Len(t, fills, 1)
	assert.Equal(t, uint64(101), fills[0].Price)
	assert.Equal(t, "bob", fills[0].MakerOwner)
	assert.Equal(t, uint64(0), taker.Quantity)
	assert.Equal(t, []shapeLevel{level(100, 50)}, shape(b.Flatten(common.Ask)))
}

func TestSimulateMatch(t *testing.T) {
	b := createTestBook()

	require.NoError(t, restTestOrders(b, "alice", common.Ask, 100, 30))
	require.NoError(t, restTestOrders(b, "bob", common.Ask, 100, 40))
	require.NoError(t, restTestOrders(b, "bob", common.Ask, 105, 50))

	before := shape(b.Flatten(common.Ask))

	// Carol sees everything within her limit.
	fillable, selfSeen := b.SimulateMatch("carol", common.Bid, 200, 105, false)
	assert.Equal(t, uint64(120), fillable)
	assert.False(t, selfSeen)

	// Alice's own 30 is invisible to her and flagged.
	fillable, selfSeen = b.SimulateMatch("alice", common.Bid, 200, 105, false)
	assert.Equal(t, uint64(90), fillable)
	assert.True(t, selfSeen)

	// The limit cuts off the deeper level.
	fillable, _ = b.SimulateMatch("carol", common.Bid, 200, 100, false)
	assert.Equal(t, uint64(70), fillable)

	// Simulation never mutates.
	assert.Equal(t, before, shape(b.Flatten(common.Ask)))
	assert.Equal(t, uint64(3), b.RestingOrders())
}
