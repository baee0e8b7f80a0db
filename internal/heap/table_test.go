package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservedSlots(t *testing.T) {
	tbl := NewTable()

	assert.Equal(t, Undefined, tbl.Get(HandleUndefined))
	assert.Equal(t, Null, tbl.Get(HandleNull))
	assert.Equal(t, true, tbl.Get(HandleTrue))
	assert.Equal(t, false, tbl.Get(HandleFalse))
	assert.Equal(t, Handle(36), ReservedSlots)

	for h := Handle(0); h < ReservedSlots; h++ {
		tbl.Drop(h)
	}
	assert.Equal(t, Null, tbl.Get(HandleNull), "dropping reserved handles must be a no-op")

	h := tbl.Add("first")
	assert.GreaterOrEqual(t, h, ReservedSlots)
	assert.Equal(t, ReservedSlots, h)
}

func TestAddDropReusesLIFO(t *testing.T) {
	tbl := NewTable()

	a := tbl.Add("a")
	b := tbl.Add("b")
	c := tbl.Add("c")
	require.NotEqual(t, a, b)
	require.NotEqual(t, b, c)

	tbl.Drop(b)
	d := tbl.Add("d")
	assert.Equal(t, b, d, "freed slot should be reused first")
	assert.Equal(t, "a", tbl.Get(a))
	assert.Equal(t, "c", tbl.Get(c))
	assert.Equal(t, "d", tbl.Get(d))

	tbl.Drop(a)
	tbl.Drop(c)
	assert.Equal(t, c, tbl.Add("e"))
	assert.Equal(t, a, tbl.Add("f"))
}

func TestHandlesDistinctFromLive(t *testing.T) {
	tbl := NewTable()
	live := map[Handle]bool{}

	for i := 0; i < 200; i++ {
		h := tbl.Add(i)
		require.False(t, live[h], "handle %d handed out twice", h)
		live[h] = true
		if i%3 == 0 {
			tbl.Drop(h)
			delete(live, h)
		}
	}
	assert.Equal(t, len(live), tbl.Len())
}

func TestTake(t *testing.T) {
	tbl := NewTable()

	h := tbl.Add(42.0)
	assert.Equal(t, 42.0, tbl.Take(h))

	_, ok := tbl.Lookup(h)
	assert.False(t, ok)
	assert.Equal(t, Undefined, tbl.Get(h))
	assert.Equal(t, 0, tbl.Len())
}

func TestDoubleDropIgnored(t *testing.T) {
	tbl := NewTable()

	a := tbl.Add("a")
	tbl.Drop(a)
	tbl.Drop(a)

	b := tbl.Add("b")
	c := tbl.Add("c")
	assert.Equal(t, a, b)
	assert.NotEqual(t, b, c)
}

func TestResetAndNone(t *testing.T) {
	tbl := NewTable()
	tbl.Add("x")
	tbl.Reset()

	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, ReservedSlots, tbl.Add("y"))

	assert.True(t, IsNone(Undefined))
	assert.True(t, IsNone(Null))
	assert.True(t, IsNone(nil))
	assert.False(t, IsNone(false))
	assert.Equal(t, HandleTrue, Bool(true))
	assert.Equal(t, HandleFalse, Bool(false))
}
