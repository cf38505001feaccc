package container

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ConstType tags a constant pool entry's value encoding.
type ConstType uint8

const (
	ConstI32 ConstType = 0x01
	ConstU32 ConstType = 0x02
	ConstI64 ConstType = 0x03
	ConstU64 ConstType = 0x04
	ConstF32 ConstType = 0x05
	ConstF64 ConstType = 0x06
)

var constTypeNames = map[ConstType]string{
	ConstI32: "I32",
	ConstU32: "U32",
	ConstI64: "I64",
	ConstU64: "U64",
	ConstF32: "F32",
	ConstF64: "F64",
}

func (t ConstType) String() string {
	if n, ok := constTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("ConstType(0x%02X)", uint8(t))
}

// valueSize returns the encoded byte width for t, or 0 for an unknown
// tag.
func (t ConstType) valueSize() int {
	switch t {
	case ConstI32, ConstU32, ConstF32:
		return 4
	case ConstI64, ConstU64, ConstF64:
		return 8
	}
	return 0
}

// Constant is one pool entry: a type tag plus its raw little-endian
// value bytes.
type Constant struct {
	Type  ConstType
	Value []byte
}

// ConstantPool holds the program's literal values. Indices are dense
// and zero-based; LOAD_CONST operands index directly into Entries.
type ConstantPool struct {
	Entries []Constant
}

// AddI32 appends an I32 entry and returns its index.
func (p *ConstantPool) AddI32(v int32) uint16 {
	value := make([]byte, 4)
	binary.LittleEndian.PutUint32(value, uint32(v))
	p.Entries = append(p.Entries, Constant{Type: ConstI32, Value: value})
	return uint16(len(p.Entries) - 1)
}

// AddI64 appends an I64 entry and returns its index.
func (p *ConstantPool) AddI64(v int64) uint16 {
	value := make([]byte, 8)
	binary.LittleEndian.PutUint64(value, uint64(v))
	p.Entries = append(p.Entries, Constant{Type: ConstI64, Value: value})
	return uint16(len(p.Entries) - 1)
}

// AddF64 appends an F64 entry and returns its index.
func (p *ConstantPool) AddF64(v float64) uint16 {
	value := make([]byte, 8)
	binary.LittleEndian.PutUint64(value, math.Float64bits(v))
	p.Entries = append(p.Entries, Constant{Type: ConstF64, Value: value})
	return uint16(len(p.Entries) - 1)
}

// GetI32 returns entry i as an i32, failing on a bad index or a
// non-I32 tag. The VM turns these failures into traps.
func (p *ConstantPool) GetI32(i uint16) (int32, error) {
	if int(i) >= len(p.Entries) {
		return 0, fmt.Errorf("constant index %d out of range (pool size %d)", i, len(p.Entries))
	}
	e := p.Entries[i]
	if e.Type != ConstI32 {
		return 0, fmt.Errorf("constant %d has type %s, want I32", i, e.Type)
	}
	return int32(binary.LittleEndian.Uint32(e.Value)), nil
}

// encode serializes the pool: count u16 then entries (tag u8,
// reserved u8, size u16, value bytes).
func (p *ConstantPool) encode() []byte {
	buf := make([]byte, 2, 2+len(p.Entries)*12)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(p.Entries)))
	for _, e := range p.Entries {
		buf = append(buf, byte(e.Type), 0)
		var size [2]byte
		binary.LittleEndian.PutUint16(size[:], uint16(len(e.Value)))
		buf = append(buf, size[:]...)
		buf = append(buf, e.Value...)
	}
	return buf
}

func decodeConstantPool(buf []byte) (*ConstantPool, error) {
	if len(buf) < 2 {
		return nil, formatErrf(ErrBadConstant, "pool shorter than its count field")
	}
	count := int(binary.LittleEndian.Uint16(buf[0:2]))
	pool := &ConstantPool{Entries: make([]Constant, 0, count)}
	off := 2
	for i := 0; i < count; i++ {
		if off+4 > len(buf) {
			return nil, formatErrf(ErrBadConstant, "entry %d header truncated at offset %d", i, off)
		}
		tag := ConstType(buf[off])
		size := int(binary.LittleEndian.Uint16(buf[off+2 : off+4]))
		off += 4
		want := tag.valueSize()
		if want == 0 {
			return nil, formatErrf(ErrBadConstant, "entry %d has unknown type tag 0x%02X", i, uint8(tag))
		}
		if size != want {
			return nil, formatErrf(ErrBadConstant, "entry %d (%s) has size %d, want %d", i, tag, size, want)
		}
		if off+size > len(buf) {
			return nil, formatErrf(ErrBadConstant, "entry %d value truncated at offset %d", i, off)
		}
		value := make([]byte, size)
		copy(value, buf[off:off+size])
		pool.Entries = append(pool.Entries, Constant{Type: tag, Value: value})
		off += size
	}
	if off != len(buf) {
		return nil, formatErrf(ErrBadConstant, "%d trailing bytes after %d entries", len(buf)-off, count)
	}
	return pool, nil
}
