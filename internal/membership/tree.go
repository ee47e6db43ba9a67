package membership

import (
	"fmt"

	"anonreport/internal/zk"
	"anonreport/internal/zk/reportzk"
)

// Capacity is the number of leaf slots.
const Capacity = 1 << reportzk.Depth

// zeros[l] is the root of an empty subtree of height l.
var zeros = func() [reportzk.Depth + 1]zk.Hash {
	var z [reportzk.Depth + 1]zk.Hash
	for l := 1; l <= reportzk.Depth; l++ {
		z[l] = zk.HashNodes(z[l-1], z[l-1])
	}
	return z
}()

// EmptyRoot is the root of a tree with no leaves set.
func EmptyRoot() zk.Hash {
	return zeros[reportzk.Depth]
}

// Tree is a sparse fixed-depth Merkle tree. Only non-empty nodes are stored.
// Tree is not safe for concurrent use.
type Tree struct {
	nodes [reportzk.Depth + 1]map[uint64]zk.Hash
}

func NewTree() *Tree {
	t := &Tree{}
	for l := range t.nodes {
		t.nodes[l] = make(map[uint64]zk.Hash)
	}
	return t
}

// BuildTree places leaves[i] at slot i.
func BuildTree(leaves []zk.Hash) (*Tree, error) {
	if len(leaves) > Capacity {
		return nil, fmt.Errorf("too many leaves: %d", len(leaves))
	}
	t := NewTree()
	for i, leaf := range leaves {
		if !leaf.IsZero() {
			t.nodes[0][uint64(i)] = leaf
		}
	}
	// Rebuild level by level instead of per leaf.
	for l := 0; l < reportzk.Depth; l++ {
		parents := make(map[uint64]struct{}, len(t.nodes[l]))
		for idx := range t.nodes[l] {
			parents[idx>>1] = struct{}{}
		}
		for p := range parents {
			t.set(l+1, p, zk.HashNodes(t.node(l, p<<1), t.node(l, p<<1|1)))
		}
	}
	return t, nil
}

func (t *Tree) node(level int, idx uint64) zk.Hash {
	if h, ok := t.nodes[level][idx]; ok {
		return h
	}
	return zeros[level]
}

func (t *Tree) set(level int, idx uint64, h zk.Hash) {
	if h == zeros[level] {
		delete(t.nodes[level], idx)
		return
	}
	t.nodes[level][idx] = h
}

// Update sets the leaf at index and rehashes its path.
func (t *Tree) Update(index uint64, leaf zk.Hash) error {
	if index >= Capacity {
		return fmt.Errorf("leaf index %d out of range", index)
	}
	t.set(0, index, leaf)
	idx := index
	for l := 0; l < reportzk.Depth; l++ {
		idx >>= 1
		t.set(l+1, idx, zk.HashNodes(t.node(l, idx<<1), t.node(l, idx<<1|1)))
	}
	return nil
}

// RootWith returns the root the tree would have with leaf at index, without
// changing t. index must be in range.
func (t *Tree) RootWith(index uint64, leaf zk.Hash) zk.Hash {
	cur := leaf
	idx := index
	for l := 0; l < reportzk.Depth; l++ {
		if idx&1 == 1 {
			cur = zk.HashNodes(t.node(l, idx^1), cur)
		} else {
			cur = zk.HashNodes(cur, t.node(l, idx^1))
		}
		idx >>= 1
	}
	return cur
}

func (t *Tree) Root() zk.Hash {
	return t.node(reportzk.Depth, 0)
}

func (t *Tree) Leaf(index uint64) zk.Hash {
	return t.node(0, index)
}

// Path returns the siblings from leaf to root for index.
func (t *Tree) Path(index uint64) (zk.MerklePath, error) {
	if index >= Capacity {
		return zk.MerklePath{}, fmt.Errorf("leaf index %d out of range", index)
	}
	p := zk.MerklePath{Index: index}
	idx := index
	for l := 0; l < reportzk.Depth; l++ {
		p.Siblings[l] = t.node(l, idx^1)
		idx >>= 1
	}
	return p, nil
}

// IndexOf scans for leaf. Used client-side, where the tree is rebuilt from a
// leaf listing and the member's slot is not otherwise known.
func (t *Tree) IndexOf(leaf zk.Hash) (uint64, bool) {
	if leaf.IsZero() {
		return 0, false
	}
	for idx, h := range t.nodes[0] {
		if h == leaf {
			return idx, true
		}
	}
	return 0, false
}
