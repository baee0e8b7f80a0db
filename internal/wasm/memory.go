package wasm

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
	"unsafe"

	"github.com/tetratelabs/wazero/api"
)

var errOutOfRange = errors.New("out of range")

// guestFunc is the part of api.Function the marshaller and closures need.
type guestFunc interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// ViewCache hands out byte, int32 and float64 views over linear memory.
//
// A view aliases the memory buffer, so it is only valid until the buffer is
// replaced. Growing memory may replace it, and any call into the guest may
// grow memory. Every accessor compares the buffer identity (data pointer and
// length) with the one the cached views were built from and rebuilds stale
// views; callers must re-fetch a view after every guest call instead of
// holding on to it.
//
// Typed views reinterpret the buffer in host byte order, which matches the
// little-endian Wasm layout on every platform wazero runs on.
type ViewCache struct {
	buffer func() []byte

	base *byte
	size int

	u8  []byte
	i32 []int32
	f64 []float64
}

// NewViewCache creates a cache over the buffer returned by buffer.
func NewViewCache(buffer func() []byte) *ViewCache {
	return &ViewCache{buffer: buffer}
}

// memoryBuffer returns the whole of mem as a byte slice.
func memoryBuffer(mem api.Memory) func() []byte {
	return func() []byte {
		buf, _ := mem.Read(0, mem.Size())
		return buf
	}
}

// Bytes returns the current byte view.
func (c *ViewCache) Bytes() []byte {
	c.refresh()
	return c.u8
}

// Int32s returns the current int32 view. Index i covers bytes [4i, 4i+4).
func (c *ViewCache) Int32s() []int32 {
	c.refresh()
	if c.i32 == nil && len(c.u8) >= 4 {
		c.i32 = unsafe.Slice((*int32)(unsafe.Pointer(&c.u8[0])), len(c.u8)/4)
	}
	return c.i32
}

// Float64s returns the current float64 view. Index i covers bytes [8i, 8i+8).
func (c *ViewCache) Float64s() []float64 {
	c.refresh()
	if c.f64 == nil && len(c.u8) >= 8 {
		c.f64 = unsafe.Slice((*float64)(unsafe.Pointer(&c.u8[0])), len(c.u8)/8)
	}
	return c.f64
}

// Reset drops every cached view.
func (c *ViewCache) Reset() {
	c.base = nil
	c.size = 0
	c.u8, c.i32, c.f64 = nil, nil, nil
}

func (c *ViewCache) refresh() {
	var buf []byte
	if c.buffer != nil {
		buf = c.buffer()
	}
	var base *byte
	if len(buf) > 0 {
		base = &buf[0]
	}
	if c.u8 != nil && base == c.base && len(buf) == c.size {
		return
	}
	c.base = base
	c.size = len(buf)
	c.u8 = buf
	c.i32, c.f64 = nil, nil
}

// Marshaller moves strings and byte slices across the memory boundary.
type Marshaller struct {
	views   *ViewCache
	malloc  guestFunc
	realloc guestFunc
	free    guestFunc
}

// NewMarshaller creates a marshaller. realloc may be nil, in which case
// strings are always encoded before allocating.
func NewMarshaller(views *ViewCache, malloc, realloc, free guestFunc) *Marshaller {
	return &Marshaller{views: views, malloc: malloc, realloc: realloc, free: free}
}

// Views returns the view cache the marshaller reads through.
func (m *Marshaller) Views() *ViewCache { return m.views }

// EncodeInto writes as many whole code points of text into dst as fit. It
// returns the number of UTF-16 code units consumed and bytes written. Invalid
// UTF-8 in text is encoded as U+FFFD.
func EncodeInto(text string, dst []byte) (read, written int) {
	for _, r := range text {
		n := utf8.RuneLen(r)
		if n < 0 {
			r, n = utf8.RuneError, 3
		}
		if written+n > len(dst) {
			break
		}
		utf8.EncodeRune(dst[written:], r)
		written += n
		read += utf16Len(r)
	}
	return read, written
}

// UTF16Len returns the length of text in UTF-16 code units.
func UTF16Len(text string) int {
	n := 0
	for _, r := range text {
		n += utf16Len(r)
	}
	return n
}

func utf16Len(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

// ReadString decodes len bytes at ptr as strict UTF-8. A leading byte order
// mark is kept.
func (m *Marshaller) ReadString(ptr, n uint32) (string, error) {
	buf, err := m.slice("read_string", ptr, n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", &DecodeError{Address: ptr, Length: n, Offset: invalidOffset(buf)}
	}
	return string(buf), nil
}

func invalidOffset(buf []byte) int {
	for i := 0; i < len(buf); {
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(buf)
}

// WriteString copies text into guest memory and returns its pointer and byte
// length.
//
// Without realloc the string is encoded up front and exactly that many bytes
// are allocated. With realloc, malloc is called with the UTF-16 length and
// ASCII is copied byte by byte; the first non-ASCII code point triggers a
// single realloc to offset + 3*remaining units, into which the tail is
// encoded. The returned length is the number of bytes written, which may be
// smaller than the final allocation.
func (m *Marshaller) WriteString(ctx context.Context, text string, malloc, realloc guestFunc) (uint32, uint32, error) {
	if realloc == nil {
		buf := []byte(strings.ToValidUTF8(text, "\uFFFD"))
		ptr, err := callAlloc(ctx, malloc, uint64(len(buf)))
		if err != nil {
			return 0, 0, err
		}
		dst, err := m.slice("write_string", ptr, uint32(len(buf)))
		if err != nil {
			return 0, 0, err
		}
		copy(dst, buf)
		return ptr, uint32(len(buf)), nil
	}

	units := UTF16Len(text)
	ptr, err := callAlloc(ctx, malloc, uint64(units))
	if err != nil {
		return 0, 0, err
	}

	dst, err := m.slice("write_string", ptr, uint32(units))
	if err != nil {
		return 0, 0, err
	}
	offset := 0
	for ; offset < units; offset++ {
		c := text[offset]
		if c > 0x7f {
			break
		}
		dst[offset] = c
	}

	if offset != units {
		tail := text[offset:]
		size := offset + UTF16Len(tail)*3
		ptr, err = callAlloc(ctx, realloc, uint64(ptr), uint64(units), uint64(size))
		if err != nil {
			return 0, 0, err
		}
		// realloc may have grown memory; fetch a fresh view.
		region, err := m.slice("write_string", ptr, uint32(size))
		if err != nil {
			return 0, 0, err
		}
		_, written := EncodeInto(tail, region[offset:])
		offset += written
	}
	return ptr, uint32(offset), nil
}

// WriteRetString writes text with the bound allocator and stores the pointer
// at retptr and the length at retptr+4.
func (m *Marshaller) WriteRetString(ctx context.Context, retptr uint32, text string) error {
	ptr, n, err := m.WriteString(ctx, text, m.malloc, m.realloc)
	if err != nil {
		return err
	}
	return m.WriteRetPair(retptr, int32(ptr), int32(n))
}

// WriteRetPair stores two int32 values at retptr and retptr+4.
func (m *Marshaller) WriteRetPair(retptr uint32, first, second int32) error {
	if retptr%4 != 0 {
		return &MemoryAccessError{Operation: "write_ret", Address: retptr, Length: 8, Err: errors.New("unaligned return pointer")}
	}
	i32 := m.views.Int32s()
	idx := int(retptr / 4)
	if idx+1 >= len(i32) {
		return &MemoryAccessError{Operation: "write_ret", Address: retptr, Length: 8, Err: errOutOfRange}
	}
	i32[idx] = first
	i32[idx+1] = second
	return nil
}

// WriteOptionF64 stores the Option<f64> layout used by number_get: the
// is-some flag as int32 at retptr and the value as float64 at retptr+8.
func (m *Marshaller) WriteOptionF64(retptr uint32, v float64, ok bool) error {
	if retptr%8 != 0 {
		return &MemoryAccessError{Operation: "write_option_f64", Address: retptr, Length: 16, Err: errors.New("unaligned return pointer")}
	}
	f64 := m.views.Float64s()
	idx := int(retptr / 8)
	if idx+1 >= len(f64) {
		return &MemoryAccessError{Operation: "write_option_f64", Address: retptr, Length: 16, Err: errOutOfRange}
	}
	if !ok {
		v = 0
	}
	f64[idx+1] = v
	flag := int32(0)
	if ok {
		flag = 1
	}
	m.views.Int32s()[retptr/4] = flag
	return nil
}

// ReadBytes copies n bytes at ptr out of guest memory.
func (m *Marshaller) ReadBytes(ptr, n uint32) ([]byte, error) {
	buf, err := m.slice("read_bytes", ptr, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), buf...), nil
}

// View returns n bytes at ptr aliasing guest memory. The slice is valid until
// the next guest call.
func (m *Marshaller) View(ptr, n uint32) ([]byte, error) {
	return m.slice("view", ptr, n)
}

// WriteBytes allocates len(data) bytes in the guest and copies data there.
func (m *Marshaller) WriteBytes(ctx context.Context, data []byte) (uint32, uint32, error) {
	ptr, err := callAlloc(ctx, m.malloc, uint64(len(data)))
	if err != nil {
		return 0, 0, err
	}
	dst, err := m.slice("write_bytes", ptr, uint32(len(data)))
	if err != nil {
		return 0, 0, err
	}
	copy(dst, data)
	return ptr, uint32(len(data)), nil
}

// Free returns n bytes at ptr to the guest allocator.
func (m *Marshaller) Free(ctx context.Context, ptr, n uint32) error {
	if m.free == nil {
		return nil
	}
	_, err := m.free.Call(ctx, uint64(ptr), uint64(n))
	return err
}

func (m *Marshaller) slice(op string, ptr, n uint32) ([]byte, error) {
	buf := m.views.Bytes()
	end := uint64(ptr) + uint64(n)
	if end > uint64(len(buf)) {
		return nil, &MemoryAccessError{Operation: op, Address: ptr, Length: n, Err: errOutOfRange}
	}
	return buf[ptr:end:end], nil
}

func callAlloc(ctx context.Context, fn guestFunc, params ...uint64) (uint32, error) {
	if fn == nil {
		return 0, errors.New("allocator export is not bound")
	}
	res, err := fn.Call(ctx, params...)
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, errors.New("allocator returned no result")
	}
	return api.DecodeU32(res[0]), nil
}
