package book

import "skoll/internal/common"

// levelQueue is the FIFO order queue at one price level. Queues live in a
// fixed slab owned by the order book; trie leaves refer to them by slab
// index. A queue is never left empty while a leaf references it.
type levelQueue struct {
	price    uint64
	orders   []*common.Order
	totalQty uint64
}

func (q *levelQueue) reset(price uint64) {
	q.price = price
	q.orders = q.orders[:0]
	q.totalQty = 0
}

func (q *levelQueue) enqueue(o *common.Order) {
	q.orders = append(q.orders, o)
	q.totalQty += o.Quantity
}

// peek returns the oldest order without removing it.
func (q *levelQueue) peek() *common.Order {
	if len(q.orders) == 0 {
		return nil
	}
	return q.orders[0]
}

// removeAt splices out the order at index i, preserving FIFO order of the
// rest.
func (q *levelQueue) removeAt(i int) *common.Order {
	o := q.orders[i]
	q.orders = append(q.orders[:i], q.orders[i+1:]...)
	q.totalQty -= o.Quantity
	return o
}

// indexOf locates an order by id with a linear scan.
func (q *levelQueue) indexOf(id common.OrderID) int {
	for i, o := range q.orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}

func (q *levelQueue) empty() bool {
	return len(q.orders) == 0
}
