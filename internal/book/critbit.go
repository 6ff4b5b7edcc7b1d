package book

import "math/bits"

// tree is a fixed-capacity critical-bit trie keyed by price. Nodes live in
// an index-addressed arena with a free list, so capacity is enforced
// structurally and removed nodes are reused. Internal nodes store the
// highest bit position at which their two subtrees first differ; every key
// under the left child has that bit clear, every key under the right child
// has it set. Bits strictly decrease from root to leaf, which makes the
// trie fully ordered: the leftmost leaf is the minimum key and the
// rightmost the maximum, reachable in time proportional to depth.
//
// A tree sized for n leaves holds at most 2n-1 nodes.

const nilNode = ^uint32(0)

type node struct {
	key     uint64 // price, leaves only
	payload uint32 // queue slab index, leaves only
	parent  uint32
	left    uint32 // doubles as the free-list link while unallocated
	right   uint32
	bit     uint8 // critical bit position, internal nodes only
	leaf    bool
}

type tree struct {
	root   uint32
	free   uint32 // head of the free list
	spare  uint32 // nodes remaining on the free list
	leaves uint32
	nodes  []node
}

func newTree(maxLeaves int) *tree {
	if maxLeaves < 1 {
		maxLeaves = 1
	}
	capacity := 2*maxLeaves - 1
	t := &tree{
		root:  nilNode,
		nodes: make([]node, capacity),
		spare: uint32(capacity),
	}
	for i := range t.nodes {
		t.nodes[i].left = uint32(i + 1)
	}
	t.nodes[capacity-1].left = nilNode
	return t
}

func bitAt(key uint64, pos uint8) bool {
	return (key>>pos)&1 == 1
}

// criticalBit returns the highest bit position at which a and b differ.
// The caller guarantees a != b.
func criticalBit(a, b uint64) uint8 {
	return uint8(63 - bits.LeadingZeros64(a^b))
}

func (t *tree) alloc() uint32 {
	n := t.free
	t.free = t.nodes[n].left
	t.spare--
	return n
}

func (t *tree) release(n uint32) {
	t.nodes[n] = node{left: t.free}
	t.free = n
	t.spare++
}

func (t *tree) empty() bool {
	return t.root == nilNode
}

// route descends by routing bits to the leaf the key selects. The tree
// must not be empty.
func (t *tree) route(key uint64) uint32 {
	cur := t.root
	for !t.nodes[cur].leaf {
		if bitAt(key, t.nodes[cur].bit) {
			cur = t.nodes[cur].right
		} else {
			cur = t.nodes[cur].left
		}
	}
	return cur
}

// insert adds a leaf for key. A duplicate key updates the existing leaf's
// payload instead of growing the trie. Returns errTreeFull when the arena
// cannot hold the new leaf; the trie is untouched in that case.
func (t *tree) insert(key uint64, payload uint32) error {
	if t.root == nilNode {
		if t.spare < 1 {
			return errTreeFull
		}
		n := t.alloc()
		t.nodes[n] = node{key: key, payload: payload, parent: nilNode, left: nilNode, right: nilNode, leaf: true}
		t.root = n
		t.leaves = 1
		return nil
	}

	routed := t.route(key)
	if t.nodes[routed].key == key {
		t.nodes[routed].payload = payload
		return nil
	}
	if t.spare < 2 {
		return errTreeFull
	}
	crit := criticalBit(key, t.nodes[routed].key)

	// Walk again to the splice point: the first node whose routing bit
	// falls below the critical bit, or a leaf. Splicing there keeps bits
	// strictly decreasing along every root-to-leaf path.
	cur := t.root
	for !t.nodes[cur].leaf && t.nodes[cur].bit > crit {
		if bitAt(key, t.nodes[cur].bit) {
			cur = t.nodes[cur].right
		} else {
			cur = t.nodes[cur].left
		}
	}

	parent := t.nodes[cur].parent
	inner := t.alloc()
	leaf := t.alloc()
	t.nodes[leaf] = node{key: key, payload: payload, parent: inner, left: nilNode, right: nilNode, leaf: true}
	if bitAt(key, crit) {
		t.nodes[inner] = node{parent: parent, left: cur, right: leaf, bit: crit}
	} else {
		t.nodes[inner] = node{parent: parent, left: leaf, right: cur, bit: crit}
	}
	t.nodes[cur].parent = inner

	if parent == nilNode {
		t.root = inner
	} else if t.nodes[parent].left == cur {
		t.nodes[parent].left = inner
	} else {
		t.nodes[parent].right = inner
	}
	t.leaves++
	return nil
}

// remove deletes the leaf for key and promotes its sibling into the
// parent's position. Returns the leaf's payload.
func (t *tree) remove(key uint64) (uint32, error) {
	if t.root == nilNode {
		return 0, errKeyNotFound
	}
	cur := t.route(key)
	if t.nodes[cur].key != key {
		return 0, errKeyNotFound
	}
	payload := t.nodes[cur].payload

	parent := t.nodes[cur].parent
	if parent == nilNode {
		t.root = nilNode
		t.leaves = 0
		t.release(cur)
		return payload, nil
	}

	sibling := t.nodes[parent].left
	if sibling == cur {
		sibling = t.nodes[parent].right
	}
	grandparent := t.nodes[parent].parent
	t.nodes[sibling].parent = grandparent
	if grandparent == nilNode {
		t.root = sibling
	} else if t.nodes[grandparent].left == parent {
		t.nodes[grandparent].left = sibling
	} else {
		t.nodes[grandparent].right = sibling
	}
	t.release(cur)
	t.release(parent)
	t.leaves--
	return payload, nil
}

func (t *tree) find(key uint64) (uint32, bool) {
	if t.root == nilNode {
		return 0, false
	}
	cur := t.route(key)
	if t.nodes[cur].key != key {
		return 0, false
	}
	return t.nodes[cur].payload, true
}

func (t *tree) minOf(idx uint32) (uint64, uint32) {
	for !t.nodes[idx].leaf {
		idx = t.nodes[idx].left
	}
	return t.nodes[idx].key, t.nodes[idx].payload
}

func (t *tree) maxOf(idx uint32) (uint64, uint32) {
	for !t.nodes[idx].leaf {
		idx = t.nodes[idx].right
	}
	return t.nodes[idx].key, t.nodes[idx].payload
}

// min returns the smallest key in the trie.
func (t *tree) min() (uint64, uint32, bool) {
	if t.root == nilNode {
		return 0, 0, false
	}
	key, payload := t.minOf(t.root)
	return key, payload, true
}

// max returns the largest key in the trie.
func (t *tree) max() (uint64, uint32, bool) {
	if t.root == nilNode {
		return 0, 0, false
	}
	key, payload := t.maxOf(t.root)
	return key, payload, true
}

// next returns the smallest key strictly greater than key. The key itself
// need not be present.
func (t *tree) next(key uint64) (uint64, uint32, bool) {
	if t.root == nilNode {
		return 0, 0, false
	}
	routed := t.route(key)
	crit := -1
	if t.nodes[routed].key != key {
		crit = int(criticalBit(key, t.nodes[routed].key))
	}

	// Descend to the subtree an internal node testing the critical bit
	// would split, remembering the last left turn. For an exact match the
	// walk runs all the way to the leaf.
	cur := t.root
	lastLeft := nilNode
	for !t.nodes[cur].leaf && int(t.nodes[cur].bit) > crit {
		if bitAt(key, t.nodes[cur].bit) {
			cur = t.nodes[cur].right
		} else {
			lastLeft = cur
			cur = t.nodes[cur].left
		}
	}
	if crit >= 0 && !bitAt(key, uint8(crit)) {
		// key sorts below every key in this subtree
		k, p := t.minOf(cur)
		return k, p, true
	}
	if lastLeft == nilNode {
		return 0, 0, false
	}
	k, p := t.minOf(t.nodes[lastLeft].right)
	return k, p, true
}

// prev returns the largest key strictly smaller than key.
func (t *tree) prev(key uint64) (uint64, uint32, bool) {
	if t.root == nilNode {
		return 0, 0, false
	}
	routed := t.route(key)
	crit := -1
	if t.nodes[routed].key != key {
		crit = int(criticalBit(key, t.nodes[routed].key))
	}

	cur := t.root
	lastRight := nilNode
	for !t.nodes[cur].leaf && int(t.nodes[cur].bit) > crit {
		if bitAt(key, t.nodes[cur].bit) {
			lastRight = cur
			cur = t.nodes[cur].right
		} else {
			cur = t.nodes[cur].left
		}
	}
	if crit >= 0 && bitAt(key, uint8(crit)) {
		// key sorts above every key in this subtree
		k, p := t.maxOf(cur)
		return k, p, true
	}
	if lastRight == nilNode {
		return 0, 0, false
	}
	k, p := t.maxOf(t.nodes[lastRight].left)
	return k, p, true
}
