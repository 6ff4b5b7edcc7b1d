package book

import (
	"errors"
	"time"

	"github.com/tidwall/btree"

	"skoll/internal/common"
)

var (
	ErrInvalidAmount = errors.New("quantity must be greater than zero")
	ErrInvalidPrice  = errors.New("price must be greater than zero")
	ErrBookFull      = errors.New("order book is full")
	ErrLevelFull     = errors.New("price level is full")
	ErrOrderNotFound = errors.New("order not found")
	ErrUnauthorized  = errors.New("only the order owner may cancel")

	errTreeFull    = errors.New("price index is full")
	errKeyNotFound = errors.New("price level not found")
)

// Sentinel cache values for an empty side.
const (
	noBid = uint64(0)
	noAsk = ^uint64(0)
)

// orderRef locates a resting order for O(log n) cancellation by id.
type orderRef struct {
	id    common.OrderID
	side  common.Side
	price uint64
}

type Options struct {
	// PriceLevels bounds the number of distinct price levels across both
	// sides.
	PriceLevels int
	// MaxOrdersPerLevel bounds the orders queued at one price. Zero means
	// unbounded.
	MaxOrdersPerLevel int
}

const DefaultPriceLevels = 1024

// OrderBook keeps the two-sided book for one instrument: a critical-bit
// price index per side, a shared fixed-capacity slab of FIFO price-level
// queues, cached best prices and the monotonic order-id sequence. It is a
// single-threaded state machine; a concurrent host must serialize access.
type OrderBook struct {
	bids *tree
	asks *tree

	// Queue slab shared by both sides. Trie leaves hold indexes into it.
	queues    []levelQueue
	freeQueue []uint32

	byID *btree.BTreeG[orderRef]

	sequence uint64
	lastTime int64

	totalOrders uint64
	nBidOrders  uint64
	nAskOrders  uint64
	bidQuantity uint64
	askQuantity uint64

	bestBid uint64
	bestAsk uint64

	maxDepth int
}

func New(opts Options) *OrderBook {
	levels := opts.PriceLevels
	if levels <= 0 {
		levels = DefaultPriceLevels
	}
	b := &OrderBook{
		bids:      newTree(levels),
		asks:      newTree(levels),
		queues:    make([]levelQueue, levels),
		freeQueue: make([]uint32, 0, levels),
		byID: btree.NewBTreeG(func(a, b orderRef) bool {
			return a.id.Less(b.id)
		}),
		bestBid:  noBid,
		bestAsk:  noAsk,
		maxDepth: opts.MaxOrdersPerLevel,
	}
	for i := levels - 1; i >= 0; i-- {
		b.freeQueue = append(b.freeQueue, uint32(i))
	}
	return b
}

func (b *OrderBook) side(s common.Side) *tree {
	if s == common.Bid {
		return b.bids
	}
	return b.asks
}

// Stamp assigns the order its identity and book timestamp. Ids are never
// reused and never reassigned; timestamps never go backwards so FIFO
// tie-breaks are deterministic even on coarse clocks.
func (b *OrderBook) Stamp(o *common.Order) {
	ts := time.Now().UnixNano()
	if ts <= b.lastTime {
		ts = b.lastTime + 1
	}
	b.lastTime = ts
	b.sequence++
	o.ID = common.MakeOrderID(o.Owner, b.sequence, ts/int64(time.Second))
	o.Timestamp = ts
}

// InsertResting validates and rests an order in the book. All failures are
// detected before the first mutation.
func (b *OrderBook) InsertResting(o *common.Order) error {
	if o.Quantity == 0 {
		return ErrInvalidAmount
	}
	if o.Price == 0 {
		return ErrInvalidPrice
	}
	if o.ID.IsZero() {
		b.Stamp(o)
	}

	tr := b.side(o.Side)
	if idx, ok := tr.find(o.Price); ok {
		q := &b.queues[idx]
		if b.maxDepth > 0 && len(q.orders) >= b.maxDepth {
			return ErrLevelFull
		}
		q.enqueue(o)
	} else {
		if len(b.freeQueue) == 0 {
			return ErrBookFull
		}
		idx := b.freeQueue[len(b.freeQueue)-1]
		b.freeQueue = b.freeQueue[:len(b.freeQueue)-1]
		if err := tr.insert(o.Price, idx); err != nil {
			b.freeQueue = append(b.freeQueue, idx)
			return ErrBookFull
		}
		b.queues[idx].reset(o.Price)
		b.queues[idx].enqueue(o)
	}

	b.byID.Set(orderRef{id: o.ID, side: o.Side, price: o.Price})
	b.totalOrders++
	if o.Side == common.Bid {
		b.nBidOrders++
		b.bidQuantity += o.Quantity
		if b.bestBid == noBid || o.Price > b.bestBid {
			b.bestBid = o.Price
		}
	} else {
		b.nAskOrders++
		b.askQuantity += o.Quantity
		if o.Price < b.bestAsk {
			b.bestAsk = o.Price
		}
	}
	return nil
}

// Cancel removes a resting order. Only the owner may cancel; a miss or an
// ownership mismatch leaves the book untouched.
func (b *OrderBook) Cancel(id common.OrderID, owner string) (common.Order, error) {
	ref, ok := b.byID.Get(orderRef{id: id})
	if !ok {
		return common.Order{}, ErrOrderNotFound
	}
	tr := b.side(ref.side)
	idx, ok := tr.find(ref.price)
	if !ok {
		return common.Order{}, ErrOrderNotFound
	}
	q := &b.queues[idx]
	pos := q.indexOf(id)
	if pos < 0 {
		return common.Order{}, ErrOrderNotFound
	}
	if q.orders[pos].Owner != owner {
		return common.Order{}, ErrUnauthorized
	}

	removed := q.removeAt(pos)
	if q.empty() {
		if _, err := tr.remove(ref.price); err == nil {
			b.freeQueue = append(b.freeQueue, idx)
		}
	}
	b.byID.Delete(orderRef{id: id})
	b.totalOrders--
	if ref.side == common.Bid {
		b.nBidOrders--
		b.bidQuantity -= removed.Quantity
	} else {
		b.nAskOrders--
		b.askQuantity -= removed.Quantity
	}
	b.refreshBest(ref.side)
	return *removed, nil
}

func (b *OrderBook) refreshBest(s common.Side) {
	if s == common.Bid {
		if key, _, ok := b.bids.max(); ok {
			b.bestBid = key
		} else {
			b.bestBid = noBid
		}
	} else {
		if key, _, ok := b.asks.min(); ok {
			b.bestAsk = key
		} else {
			b.bestAsk = noAsk
		}
	}
}

func (b *OrderBook) BestBid() (uint64, bool) {
	return b.bestBid, b.bestBid != noBid
}

func (b *OrderBook) BestAsk() (uint64, bool) {
	return b.bestAsk, b.bestAsk != noAsk
}

// Spread is the distance between best ask and best bid.
func (b *OrderBook) Spread() (uint64, bool) {
	if b.bestBid == noBid || b.bestAsk == noAsk {
		return 0, false
	}
	if b.bestAsk < b.bestBid {
		return 0, true
	}
	return b.bestAsk - b.bestBid, true
}

func (b *OrderBook) MidPrice() (uint64, bool) {
	if b.bestBid == noBid || b.bestAsk == noAsk {
		return 0, false
	}
	return (b.bestBid + b.bestAsk) / 2, true
}

// DepthLevel aggregates one price level.
type DepthLevel struct {
	Price    uint64
	Quantity uint64
}

// Depth reports up to n price levels from the top of the given side, best
// first.
func (b *OrderBook) Depth(s common.Side, n int) []DepthLevel {
	tr := b.side(s)
	var out []DepthLevel
	var price uint64
	var idx uint32
	var ok bool
	if s == common.Bid {
		price, idx, ok = tr.max()
	} else {
		price, idx, ok = tr.min()
	}
	for ok && len(out) < n {
		out = append(out, DepthLevel{Price: price, Quantity: b.queues[idx].totalQty})
		if s == common.Bid {
			price, idx, ok = tr.prev(price)
		} else {
			price, idx, ok = tr.next(price)
		}
	}
	return out
}

func (b *OrderBook) RestingOrders() uint64 {
	return b.totalOrders
}

// SideQuantity is the resting liquidity on one side.
func (b *OrderBook) SideQuantity(s common.Side) uint64 {
	if s == common.Bid {
		return b.bidQuantity
	}
	return b.askQuantity
}

// crosses reports whether a resting price satisfies the taker's limit.
func crosses(taker common.Side, restingPrice, limit uint64) bool {
	if taker == common.Bid {
		return restingPrice <= limit
	}
	return restingPrice >= limit
}

// bestOpposite returns the most aggressive opposing level for a taker.
func (b *OrderBook) bestOpposite(taker common.Side) (uint64, uint32, bool) {
	if taker == common.Bid {
		return b.asks.min()
	}
	return b.bids.max()
}

// nextOpposite steps one level away from the top of the opposing side.
func (b *OrderBook) nextOpposite(taker common.Side, price uint64) (uint64, uint32, bool) {
	if taker == common.Bid {
		return b.asks.next(price)
	}
	return b.bids.prev(price)
}

// MatchOrder consumes opposing liquidity in price-time order until the
// taker is filled, the price limit stops crossing, or the side runs dry.
// Resting orders owned by the taker are skipped in place and never fill.
// Fully consumed makers are dequeued; emptied levels are unlinked from the
// trie and their queues returned to the slab.
func (b *OrderBook) MatchOrder(taker *common.Order, limit uint64, unbounded bool) []common.Fill {
	var fills []common.Fill

	price, idx, ok := b.bestOpposite(taker.Side)
	for taker.Quantity > 0 && ok {
		if !unbounded && !crosses(taker.Side, price, limit) {
			break
		}
		q := &b.queues[idx]
		i := 0
		for i < len(q.orders) && taker.Quantity > 0 {
			maker := q.orders[i]
			if maker.Owner == taker.Owner {
				i++
				continue
			}
			fill := min(taker.Quantity, maker.Quantity)
			maker.Fill(fill)
			taker.Fill(fill)
			q.totalQty -= fill
			if taker.Side == common.Bid {
				b.askQuantity -= fill
			} else {
				b.bidQuantity -= fill
			}
			fills = append(fills, common.Fill{
				Price:          price,
				Quantity:       fill,
				MakerID:        maker.ID,
				MakerOwner:     maker.Owner,
				MakerRemaining: maker.Quantity,
			})
			if maker.IsFilled() {
				q.removeAt(i)
				b.byID.Delete(orderRef{id: maker.ID})
				b.totalOrders--
				if taker.Side == common.Bid {
					b.nAskOrders--
				} else {
					b.nBidOrders--
				}
			} else {
				i++
			}
		}

		if q.empty() {
			if _, err := b.side(taker.Side.Opposite()).remove(price); err == nil {
				b.freeQueue = append(b.freeQueue, idx)
			}
			price, idx, ok = b.bestOpposite(taker.Side)
		} else if taker.Quantity > 0 {
			// Whatever is left at this level belongs to the taker; step
			// one level deeper.
			price, idx, ok = b.nextOpposite(taker.Side, price)
		}
	}

	b.refreshBest(taker.Side.Opposite())
	return fills
}

// SimulateMatch walks the opposing side exactly as MatchOrder would, with
// no mutation at all. It reports the cumulative quantity that would fill
// and whether a self-trade would be encountered along the way. Used for
// the fill-or-kill pre-check and the reject-on-self-trade policy.
func (b *OrderBook) SimulateMatch(owner string, taker common.Side, quantity, limit uint64, unbounded bool) (uint64, bool) {
	var fillable uint64
	selfSeen := false
	remaining := quantity

	tr := b.side(taker.Opposite())
	var price uint64
	var idx uint32
	var ok bool
	if taker == common.Bid {
		price, idx, ok = tr.min()
	} else {
		price, idx, ok = tr.max()
	}
	for remaining > 0 && ok {
		if !unbounded && !crosses(taker, price, limit) {
			break
		}
		for _, maker := range b.queues[idx].orders {
			if maker.Owner == owner {
				selfSeen = true
				continue
			}
			fill := min(remaining, maker.Quantity)
			fillable += fill
			remaining -= fill
			if remaining == 0 {
				break
			}
		}
		if taker == common.Bid {
			price, idx, ok = tr.next(price)
		} else {
			price, idx, ok = tr.prev(price)
		}
	}
	return fillable, selfSeen
}

// FlatLevel is a copy of one price level, ordered oldest first. Used by
// tests and depth reporting to compare book states.
type FlatLevel struct {
	Price  uint64
	Orders []common.Order
}

// Flatten copies out a side of the book, best price first.
func (b *OrderBook) Flatten(s common.Side) []FlatLevel {
	tr := b.side(s)
	var out []FlatLevel
	var price uint64
	var idx uint32
	var ok bool
	if s == common.Bid {
		price, idx, ok = tr.max()
	} else {
		price, idx, ok = tr.min()
	}
	for ok {
		level := FlatLevel{Price: price}
		for _, o := range b.queues[idx].orders {
			level.Orders = append(level.Orders, *o)
		}
		out = append(out, level)
		if s == common.Bid {
			price, idx, ok = tr.prev(price)
		} else {
			price, idx, ok = tr.next(price)
		}
	}
	return out
}
