// Package heap implements the object heap table that lets a guest module hold
// opaque integer handles to host values.
//
// The table is an arena: a slice of slots indexed by handle, with free slots
// threaded into a singly-linked free list through the slots themselves. The
// first ReservedSlots entries are pre-seeded and never handed out or reclaimed.
//
// A Table is not safe for concurrent use. The bridge only touches it while
// servicing a call on the single goroutine that drives the guest.
package heap

import "fmt"

// Value is any host value stored behind a handle.
type Value = any

// Handle is an index into the table as seen by the guest.
type Handle = uint32

// sentinelSlots is the initial run of slots filled with Undefined.
const sentinelSlots = 32

const (
	// HandleUndefined refers to the pre-seeded undefined value.
	HandleUndefined Handle = sentinelSlots + iota
	// HandleNull refers to the pre-seeded null value.
	HandleNull
	// HandleTrue refers to the pre-seeded true value.
	HandleTrue
	// HandleFalse refers to the pre-seeded false value.
	HandleFalse

	// ReservedSlots is the number of slots that dynamic allocation never touches.
	ReservedSlots = HandleFalse + 1
)

type undefinedValue struct{}

func (undefinedValue) String() string { return "undefined" }

type nullValue struct{}

func (nullValue) String() string { return "null" }

var (
	// Undefined is the host "undefined" value.
	Undefined Value = undefinedValue{}
	// Null is the host "null" value.
	Null Value = nullValue{}
)

// IsNone reports whether v is Undefined, Null or a nil Go value.
func IsNone(v Value) bool {
	return v == nil || v == Undefined || v == Null
}

type slot struct {
	value Value
	// next is the index of the next free slot; only meaningful while free.
	next Handle
	free bool
}

// Table maps handles to host values.
type Table struct {
	slots []slot
	next  Handle
	live  int
}

// NewTable returns a table with the reserved slots seeded.
func NewTable() *Table {
	t := &Table{}
	t.Reset()
	return t
}

// Reset drops every dynamic handle and restores the reserved slots.
func (t *Table) Reset() {
	t.slots = make([]slot, ReservedSlots, 128)
	for i := 0; i < sentinelSlots; i++ {
		t.slots[i] = slot{value: Undefined}
	}
	t.slots[HandleUndefined] = slot{value: Undefined}
	t.slots[HandleNull] = slot{value: Null}
	t.slots[HandleTrue] = slot{value: true}
	t.slots[HandleFalse] = slot{value: false}
	t.next = ReservedSlots
	t.live = 0
}

// Add stores v and returns a fresh handle. Freed slots are reused in LIFO order.
func (t *Table) Add(v Value) Handle {
	if int(t.next) == len(t.slots) {
		t.slots = append(t.slots, slot{free: true, next: Handle(len(t.slots) + 1)})
	}
	idx := t.next
	t.next = t.slots[idx].next
	t.slots[idx] = slot{value: v}
	t.live++
	return idx
}

// Get returns the value behind h without transferring ownership. Unknown or
// freed handles yield Undefined.
func (t *Table) Get(h Handle) Value {
	v, ok := t.Lookup(h)
	if !ok {
		return Undefined
	}
	return v
}

// Lookup returns the value behind h and whether h refers to a live slot.
func (t *Table) Lookup(h Handle) (Value, bool) {
	if int(h) >= len(t.slots) {
		return nil, false
	}
	s := t.slots[h]
	if s.free {
		return nil, false
	}
	return s.value, true
}

// Drop releases h back to the free list. Reserved handles and handles that
// are not live are ignored.
func (t *Table) Drop(h Handle) {
	if h < ReservedSlots || int(h) >= len(t.slots) || t.slots[h].free {
		return
	}
	t.slots[h] = slot{free: true, next: t.next}
	t.next = h
	t.live--
}

// Take returns the value behind h and drops the handle in one step.
func (t *Table) Take(h Handle) Value {
	v := t.Get(h)
	t.Drop(h)
	return v
}

// Len returns the number of live dynamic handles.
func (t *Table) Len() int {
	return t.live
}

// Bool returns the reserved handle for b.
func Bool(b bool) Handle {
	if b {
		return HandleTrue
	}
	return HandleFalse
}

// String renders the table occupancy for diagnostics.
func (t *Table) String() string {
	return fmt.Sprintf("heap{slots=%d live=%d next=%d}", len(t.slots), t.live, t.next)
}
