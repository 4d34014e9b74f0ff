// Package list implements an allocation-free intrusive doubly linked list.
//
// The link lives inside the user's own struct, so registries that are
// reachable from interrupt context can add and remove members without
// touching the heap:
//
//	type handler struct {
//		node list.Node[handler]
//		...
//	}
//
//	h := &handler{}
//	h.node.Init(h)
//	var l list.List[handler]
//	l.PushBack(&h.node)
//
// A list never owns its elements. Whoever owns an element must unlink it
// before the element is abandoned.
package list

import "iter"

// Node is a link of a circular doubly linked ring. A node that is not part
// of any list points to itself. The zero value is an unlinked node with no
// owner.
type Node[T any] struct {
	next  *Node[T]
	prev  *Node[T]
	owner *T
}

// Init resets the node to the unlinked state and records the element that
// embeds it. It returns n.
func (n *Node[T]) Init(owner *T) *Node[T] {
	n.next = n
	n.prev = n
	n.owner = owner
	return n
}

// lazyInit makes a zero-value node self-linked.
func (n *Node[T]) lazyInit() {
	if n.next == nil {
		n.next = n
		n.prev = n
	}
}

// Owner returns the element that embeds this node, or nil for a list head.
func (n *Node[T]) Owner() *T {
	return n.owner
}

// AddAfter splices node right after n. node must be unlinked.
func (n *Node[T]) AddAfter(node *Node[T]) {
	n.lazyInit()
	node.next = n.next
	node.prev = n
	n.next.prev = node
	n.next = node
}

// AddBefore splices node right before n. node must be unlinked.
func (n *Node[T]) AddBefore(node *Node[T]) {
	n.lazyInit()
	node.prev = n.prev
	node.next = n
	n.prev.next = node
	n.prev = node
}

// Unlink removes n from its ring and restores self-linkage.
// Calling Unlink on an unlinked node is a no-op.
func (n *Node[T]) Unlink() {
	n.lazyInit()
	n.next.prev = n.prev
	n.prev.next = n.next
	n.next = n
	n.prev = n
}

// Linked reports whether n is part of a ring with at least one other node.
func (n *Node[T]) Linked() bool {
	return n.next != nil && n.next != n
}

// Next returns the following node in the ring. Never nil.
func (n *Node[T]) Next() *Node[T] {
	n.lazyInit()
	return n.next
}

// Prev returns the preceding node in the ring. Never nil.
func (n *Node[T]) Prev() *Node[T] {
	n.lazyInit()
	return n.prev
}

// List is a ring anchored on a head node that never carries an element.
// The zero value is an empty list. A List must not be copied once used.
type List[T any] struct {
	head Node[T]
}

// Empty reports whether the list has no elements.
func (l *List[T]) Empty() bool {
	return !l.head.Linked()
}

// PushBack appends node at the tail, preserving insertion order.
func (l *List[T]) PushBack(node *Node[T]) {
	l.head.AddBefore(node)
}

// PushFront inserts node at the head.
func (l *List[T]) PushFront(node *Node[T]) {
	l.head.AddAfter(node)
}

// Front returns the first element or nil if the list is empty.
func (l *List[T]) Front() *T {
	if l.Empty() {
		return nil
	}
	return l.head.next.owner
}

// Len counts the elements. It walks the ring, so it is O(n).
func (l *List[T]) Len() int {
	cnt := 0
	for it := l.Iter(); it.Valid(); it.Next() {
		cnt++
	}
	return cnt
}

// Iter returns an iterator positioned at the first element.
func (l *List[T]) Iter() Iter[T] {
	l.head.lazyInit()
	return Iter[T]{
		head: &l.head,
		cur:  l.head.next,
		tmp:  l.head.next.next,
	}
}

// All yields every element in list order. The element being visited may
// be unlinked by the loop body.
func (l *List[T]) All() iter.Seq[*T] {
	return func(yield func(*T) bool) {
		for it := l.Iter(); it.Valid(); it.Next() {
			if !yield(it.Value()) {
				return
			}
		}
	}
}

// Iter walks a list. The successor is captured before the current element
// is handed out, so the visitor may unlink (or abandon) the current
// element without invalidating the iteration. Unlinking any other element
// during the walk is not supported.
type Iter[T any] struct {
	head *Node[T]
	cur  *Node[T]
	tmp  *Node[T]
}

// Valid reports whether the iterator points at an element.
func (it *Iter[T]) Valid() bool {
	return it.cur != it.head
}

// Next advances to the successor captured at the previous step.
func (it *Iter[T]) Next() {
	it.cur = it.tmp
	it.tmp = it.tmp.Next()
}

// Value returns the current element.
func (it *Iter[T]) Value() *T {
	return it.cur.owner
}

// Node returns the current node.
func (it *Iter[T]) Node() *Node[T] {
	return it.cur
}
