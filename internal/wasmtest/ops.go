package wasmtest

import (
	"encoding/binary"
	"math"

	"github.com/jcalabro/leb128"
)

const (
	opEnd   byte = 0x0b
	opBlock byte = 0x40 // empty block type
)

func op(code byte, imm ...uint32) []byte {
	out := []byte{code}
	for _, v := range imm {
		out = append(out, leb128.EncodeU64(uint64(v))...)
	}
	return out
}

// Control.

func Unreachable() []byte      { return op(0x00) }
func Nop() []byte              { return op(0x01) }
func If() []byte               { return []byte{0x04, opBlock} }
func Else() []byte             { return op(0x05) }
func End() []byte              { return op(opEnd) }
func Return() []byte           { return op(0x0f) }
func Call(fn uint32) []byte    { return op(0x10, fn) }
func Drop() []byte             { return op(0x1a) }
func LocalGet(i uint32) []byte { return op(0x20, i) }
func LocalSet(i uint32) []byte { return op(0x21, i) }
func LocalTee(i uint32) []byte { return op(0x22, i) }

func GlobalGet(i uint32) []byte { return op(0x23, i) }
func GlobalSet(i uint32) []byte { return op(0x24, i) }

// Memory. Offsets are static byte offsets; alignment hints are natural.

func I32Load(offset uint32) []byte   { return op(0x28, 2, offset) }
func F64Load(offset uint32) []byte   { return op(0x2b, 3, offset) }
func I32Store(offset uint32) []byte  { return op(0x36, 2, offset) }
func I32Store8(offset uint32) []byte { return op(0x3a, 0, offset) }
func MemorySize() []byte             { return []byte{0x3f, 0x00} }
func MemoryGrow() []byte             { return []byte{0x40, 0x00} }
func MemoryCopy() []byte             { return []byte{0xfc, 0x0a, 0x00, 0x00} }

// Numeric.

func I32Const(v int32) []byte {
	return append([]byte{0x41}, leb128.EncodeS64(int64(v))...)
}

func F64Const(v float64) []byte {
	out := []byte{0x44, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint64(out[1:], math.Float64bits(v))
	return out
}

func I32Eqz() []byte  { return op(0x45) }
func I32GtS() []byte  { return op(0x4a) }
func I32GtU() []byte  { return op(0x4b) }
func I32Add() []byte  { return op(0x6a) }
func I32Sub() []byte  { return op(0x6b) }
func I32Shl() []byte  { return op(0x74) }
func I32ShrU() []byte { return op(0x76) }

// Seq concatenates instruction sequences.
func Seq(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
