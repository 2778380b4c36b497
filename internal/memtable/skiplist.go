// Package memtable implements the multi-version ordered index behind the
// stree flavor.
//
// The SkipList gives lock-free reads: nodes are published with atomic
// pointer stores and never unlinked, so readers need no locks while a
// single, externally serialized writer inserts.
package memtable

import (
	"bytes"
	"math/rand"
	"sync/atomic"
)

const (
	// DefaultMaxHeight is the default maximum height for skip list nodes.
	DefaultMaxHeight = 12

	// DefaultBranchingFactor is the inverse promotion probability.
	DefaultBranchingFactor = 4
)

// Comparator orders keys: negative if a < b, zero if equal, positive if a > b.
type Comparator func(a, b []byte) int

// BytewiseComparator orders keys lexicographically by byte value.
func BytewiseComparator(a, b []byte) int {
	return bytes.Compare(a, b)
}

type skipNode struct {
	key   []byte
	value []byte
	next  []atomic.Pointer[skipNode]
}

func newSkipNode(key, value []byte, height int) *skipNode {
	return &skipNode{
		key:   key,
		value: value,
		next:  make([]atomic.Pointer[skipNode], height),
	}
}

func (n *skipNode) getNext(level int) *skipNode {
	return n.next[level].Load()
}

func (n *skipNode) setNext(level int, node *skipNode) {
	n.next[level].Store(node)
}

// SkipList is an ordered set of unique keys with attached values.
// Reads are safe concurrently with one writer; writers must be serialized.
type SkipList struct {
	head      *skipNode
	maxHeight atomic.Int32
	compare   Comparator
	rng       *rand.Rand

	kMaxHeight  int
	kScaledInvB uint32

	count atomic.Int64
	bytes atomic.Int64
}

// NewSkipList creates a skip list with the default shape.
func NewSkipList(cmp Comparator) *SkipList {
	return NewSkipListWithParams(cmp, DefaultMaxHeight, DefaultBranchingFactor)
}

// NewSkipListWithParams creates a skip list with a custom height limit and
// branching factor. Non-positive values select the defaults.
func NewSkipListWithParams(cmp Comparator, maxHeight, branchingFactor int) *SkipList {
	if cmp == nil {
		cmp = BytewiseComparator
	}
	if maxHeight <= 0 {
		maxHeight = DefaultMaxHeight
	}
	if branchingFactor <= 1 {
		branchingFactor = DefaultBranchingFactor
	}
	sl := &SkipList{
		head:        newSkipNode(nil, nil, maxHeight),
		compare:     cmp,
		rng:         rand.New(rand.NewSource(0xDEADBEEF)),
		kMaxHeight:  maxHeight,
		kScaledInvB: uint32(0xFFFFFFFF) / uint32(branchingFactor),
	}
	sl.maxHeight.Store(1)
	return sl
}

// Insert adds key with value. It reports false, leaving the list unchanged,
// if an equal key is already present.
// REQUIRES: external synchronization between writers.
func (sl *SkipList) Insert(key, value []byte) bool {
	prev := make([]*skipNode, sl.kMaxHeight)
	x := sl.findGreaterOrEqual(key, prev)
	if x != nil && sl.compare(key, x.key) == 0 {
		return false
	}

	height := sl.randomHeight()
	if maxH := int(sl.maxHeight.Load()); height > maxH {
		for i := maxH; i < height; i++ {
			prev[i] = sl.head
		}
		sl.maxHeight.Store(int32(height))
	}

	node := newSkipNode(key, value, height)
	for i := range height {
		node.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, node)
	}
	sl.count.Add(1)
	sl.bytes.Add(int64(len(key) + len(value) + 8*height + 48))
	return true
}

// Contains returns true if key is in the list.
func (sl *SkipList) Contains(key []byte) bool {
	x := sl.findGreaterOrEqual(key, nil)
	return x != nil && sl.compare(key, x.key) == 0
}

// Count returns the number of nodes.
func (sl *SkipList) Count() int64 { return sl.count.Load() }

// ApproximateMemoryUsage returns the bytes held by nodes.
func (sl *SkipList) ApproximateMemoryUsage() int64 { return sl.bytes.Load() }

func (sl *SkipList) findGreaterOrEqual(key []byte, prev []*skipNode) *skipNode {
	x := sl.head
	level := int(sl.maxHeight.Load()) - 1
	for {
		next := x.getNext(level)
		if next != nil && sl.compare(key, next.key) > 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// findLessThan returns the last node with key < target, or nil.
func (sl *SkipList) findLessThan(key []byte) *skipNode {
	x := sl.head
	level := int(sl.maxHeight.Load()) - 1
	for {
		next := x.getNext(level)
		if next != nil && sl.compare(next.key, key) < 0 {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

func (sl *SkipList) findLast() *skipNode {
	x := sl.head
	level := int(sl.maxHeight.Load()) - 1
	for {
		if next := x.getNext(level); next != nil {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

func (sl *SkipList) randomHeight() int {
	height := 1
	for height < sl.kMaxHeight && sl.rng.Uint32() < sl.kScaledInvB {
		height++
	}
	return height
}

// Iterator walks the raw nodes of a SkipList.
type Iterator struct {
	list *SkipList
	node *skipNode
}

// NewIterator returns an unpositioned iterator.
func (sl *SkipList) NewIterator() *Iterator {
	return &Iterator{list: sl}
}

// Valid returns true if the iterator is positioned at a node.
func (it *Iterator) Valid() bool { return it.node != nil }

// Key returns the current key. REQUIRES: Valid().
func (it *Iterator) Key() []byte { return it.node.key }

// Value returns the current value. REQUIRES: Valid().
func (it *Iterator) Value() []byte { return it.node.value }

// Next advances to the next node.
func (it *Iterator) Next() {
	if it.node != nil {
		it.node = it.node.getNext(0)
	}
}

// Prev moves to the previous node.
func (it *Iterator) Prev() {
	if it.node != nil {
		it.node = it.list.findLessThan(it.node.key)
	}
}

// Seek positions at the first node with key >= target.
func (it *Iterator) Seek(target []byte) {
	it.node = it.list.findGreaterOrEqual(target, nil)
}

// SeekBefore positions at the last node with key < target.
func (it *Iterator) SeekBefore(target []byte) {
	it.node = it.list.findLessThan(target)
}

// SeekToFirst positions at the first node.
func (it *Iterator) SeekToFirst() {
	it.node = it.list.head.getNext(0)
}

// SeekToLast positions at the last node.
func (it *Iterator) SeekToLast() {
	it.node = it.list.findLast()
}
