// Package list is an intrusive doubly linked list. Elements are allocated by
// the caller so they can be reused, see lru.LRU.
package list

type List[V any] struct {
	front, back *Elem[V]
	length      int
}

type Elem[V any] struct {
	prev, next *Elem[V]
	list       *List[V]

	Value V
}

func NewElem[V any](v V) *Elem[V] {
	return &Elem[V]{Value: v}
}

// Next returns the next element or nil.
func (e *Elem[V]) Next() *Elem[V] {
	return e.next
}

// Prev returns the previous element or nil.
func (e *Elem[V]) Prev() *Elem[V] {
	return e.prev
}

func New[V any]() *List[V] {
	return &List[V]{}
}

func (l *List[V]) Front() *Elem[V] {
	return l.front
}

func (l *List[V]) Back() *Elem[V] {
	return l.back
}

func (l *List[V]) Len() int {
	return l.length
}

func (l *List[V]) PushFront(e *Elem[V]) *Elem[V] {
	l.length++
	e.list = l

	if l.front == nil {
		l.front = e
		l.back = e
		return e
	}

	e.next = l.front
	l.front.prev = e
	l.front = e
	return e
}

func (l *List[V]) PushBack(e *Elem[V]) *Elem[V] {
	l.length++
	e.list = l

	if l.back == nil {
		l.front = e
		l.back = e
		return e
	}

	e.prev = l.back
	l.back.next = e
	l.back = e
	return e
}

// MoveToBack moves an existing element to the back in O(1).
func (l *List[V]) MoveToBack(e *Elem[V]) {
	if e.list != l {
		panic("elem does not belong to this list")
	}
	if l.back == e {
		return
	}
	l.detach(e)
	e.prev = l.back
	e.next = nil
	l.back.next = e
	l.back = e
}

// PopFront removes and returns the front element, or nil if l is empty.
func (l *List[V]) PopFront() *Elem[V] {
	if l.front == nil {
		return nil
	}
	return l.PopElem(l.front)
}

func (l *List[V]) PopElem(e *Elem[V]) *Elem[V] {
	if e.list != l {
		panic("elem does not belong to this list")
	}
	l.length--
	l.detach(e)
	e.prev = nil
	e.next = nil
	e.list = nil
	return e
}

// Init empties l. Elements still linked to l must not be reused.
func (l *List[V]) Init() {
	l.front, l.back, l.length = nil, nil, 0
}

func (l *List[V]) detach(e *Elem[V]) {
	p, n := e.prev, e.next
	if p != nil {
		p.next = n
	} else {
		l.front = n
	}
	if n != nil {
		n.prev = p
	} else {
		l.back = p
	}
}
