package container

import "encoding/binary"

// funcEntrySize is the encoded size of one function directory entry.
const funcEntrySize = 16

// Function is one compiled body: its directory metadata plus the
// bytecode it owns. Offset is assigned during serialization and is
// relative to the start of the concatenated bytecode blob. NumParams
// locals are filled from the caller's stack by CALL; they count
// toward NumLocals.
type Function struct {
	ID            uint16
	MaxStackDepth uint16
	NumLocals     uint16
	NumParams     uint16
	Code          []byte
}

// CodeSection is the function directory followed by the concatenated
// bytecode of every function. Function ids are dense: Functions[i].ID
// == i after validation.
type CodeSection struct {
	Functions []Function
}

// Lookup returns the function with the given id, or false when the id
// is out of range.
func (s *CodeSection) Lookup(id uint16) (*Function, bool) {
	if int(id) >= len(s.Functions) {
		return nil, false
	}
	return &s.Functions[id], true
}

// encode lays out the directory and bytecode blob. Each directory
// entry is: id u16, offset u32, length u32, max_stack u16, locals
// u16, params u16.
func (s *CodeSection) encode() []byte {
	dirLen := 2 + len(s.Functions)*funcEntrySize
	total := dirLen
	for _, f := range s.Functions {
		total += len(f.Code)
	}
	buf := make([]byte, dirLen, total)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(s.Functions)))
	codeOff := uint32(0)
	for i, f := range s.Functions {
		off := 2 + i*funcEntrySize
		binary.LittleEndian.PutUint16(buf[off:off+2], f.ID)
		binary.LittleEndian.PutUint32(buf[off+2:off+6], codeOff)
		binary.LittleEndian.PutUint32(buf[off+6:off+10], uint32(len(f.Code)))
		binary.LittleEndian.PutUint16(buf[off+10:off+12], f.MaxStackDepth)
		binary.LittleEndian.PutUint16(buf[off+12:off+14], f.NumLocals)
		binary.LittleEndian.PutUint16(buf[off+14:off+16], f.NumParams)
		codeOff += uint32(len(f.Code))
	}
	for _, f := range s.Functions {
		buf = append(buf, f.Code...)
	}
	return buf
}

func decodeCodeSection(buf []byte) (*CodeSection, error) {
	if len(buf) < 2 {
		return nil, formatErrf(ErrBadCode, "section shorter than its count field")
	}
	count := int(binary.LittleEndian.Uint16(buf[0:2]))
	dirLen := 2 + count*funcEntrySize
	if len(buf) < dirLen {
		return nil, formatErrf(ErrBadCode, "directory truncated: %d functions need %d bytes, have %d", count, dirLen, len(buf))
	}
	blob := buf[dirLen:]
	sec := &CodeSection{Functions: make([]Function, 0, count)}
	nextOff := uint32(0)
	for i := 0; i < count; i++ {
		off := 2 + i*funcEntrySize
		id := binary.LittleEndian.Uint16(buf[off : off+2])
		codeOff := binary.LittleEndian.Uint32(buf[off+2 : off+6])
		codeLen := binary.LittleEndian.Uint32(buf[off+6 : off+10])
		maxStack := binary.LittleEndian.Uint16(buf[off+10 : off+12])
		locals := binary.LittleEndian.Uint16(buf[off+12 : off+14])
		params := binary.LittleEndian.Uint16(buf[off+14 : off+16])
		if int(id) != i {
			return nil, formatErrf(ErrBadCode, "function %d has id %d, ids must be dense", i, id)
		}
		if codeOff != nextOff {
			return nil, formatErrf(ErrBadCode, "function %d starts at %d, expected %d", i, codeOff, nextOff)
		}
		end := uint64(codeOff) + uint64(codeLen)
		if end > uint64(len(blob)) {
			return nil, formatErrf(ErrBadCode, "function %d code [%d,%d) exceeds blob size %d", i, codeOff, end, len(blob))
		}
		code := make([]byte, codeLen)
		copy(code, blob[codeOff:end])
		if params > locals {
			return nil, formatErrf(ErrBadCode, "function %d declares %d params but only %d locals", i, params, locals)
		}
		sec.Functions = append(sec.Functions, Function{
			ID:            id,
			MaxStackDepth: maxStack,
			NumLocals:     locals,
			NumParams:     params,
			Code:          code,
		})
		nextOff += codeLen
	}
	if uint64(nextOff) != uint64(len(blob)) {
		return nil, formatErrf(ErrBadCode, "%d trailing bytes after function bodies", uint64(len(blob))-uint64(nextOff))
	}
	return sec, nil
}
