package container

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
)

// Container is the deserialized executable artifact. Pool, Code and
// Tasks are always present; Debug is nil unless the debug flag is set.
type Container struct {
	Header Header
	Pool   ConstantPool
	Code   CodeSection
	Tasks  TaskTable
	Debug  *DebugInfo
}

// Serialize writes the container in wire format. Section offsets,
// sizes, counts and the content hash are recomputed from the payload,
// so a container deserialized from these bytes is field-equal to c.
func (c *Container) Serialize(w io.Writer) error {
	poolBytes := c.Pool.encode()
	codeBytes := c.Code.encode()
	taskBytes := c.Tasks.encode()
	var debugBytes []byte
	if c.Debug != nil {
		var err error
		debugBytes, err = c.Debug.encode()
		if err != nil {
			return err
		}
	}

	h := c.Header
	h.Version = FormatVersion
	h.Flags &^= FlagDebug | FlagTypes | FlagSignature
	if c.Debug != nil {
		h.Flags |= FlagDebug
	}
	h.NumFunctions = uint16(len(c.Code.Functions))
	h.ContentHash = contentHash(poolBytes, codeBytes)

	off := uint32(HeaderSize)
	place := func(payload []byte) SectionRange {
		r := SectionRange{Offset: off, Size: uint32(len(payload))}
		if len(payload) == 0 {
			r.Offset = 0
		}
		off += uint32(len(payload))
		return r
	}
	h.Sections[SectionConst] = place(poolBytes)
	h.Sections[SectionCode] = place(codeBytes)
	h.Sections[SectionTask] = place(taskBytes)
	h.Sections[SectionDebug] = place(debugBytes)
	h.Sections[SectionType] = SectionRange{}
	h.Sections[SectionSignature] = SectionRange{}

	for _, payload := range [][]byte{h.encode(), poolBytes, codeBytes, taskBytes, debugBytes} {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("container: write: %w", err)
		}
	}
	return nil
}

// Deserialize reads and validates a container. Every structural
// defect is reported as a named malformed-container error.
func Deserialize(r io.Reader) (*Container, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("container: read: %w", err)
	}
	header, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	sectionBytes := func(idx int) ([]byte, error) {
		s := header.Sections[idx]
		if s.Size == 0 {
			return nil, nil
		}
		end := uint64(s.Offset) + uint64(s.Size)
		if s.Offset < HeaderSize || end > uint64(len(data)) {
			return nil, formatErrf(ErrBadSection, "%s section [%d,%d) exceeds file size %d", sectionNames[idx], s.Offset, end, len(data))
		}
		return data[s.Offset:end], nil
	}

	poolBytes, err := sectionBytes(SectionConst)
	if err != nil {
		return nil, err
	}
	codeBytes, err := sectionBytes(SectionCode)
	if err != nil {
		return nil, err
	}
	taskBytes, err := sectionBytes(SectionTask)
	if err != nil {
		return nil, err
	}
	debugBytes, err := sectionBytes(SectionDebug)
	if err != nil {
		return nil, err
	}

	c := &Container{Header: *header}
	pool, err := decodeConstantPool(poolBytes)
	if err != nil {
		return nil, err
	}
	c.Pool = *pool
	code, err := decodeCodeSection(codeBytes)
	if err != nil {
		return nil, err
	}
	c.Code = *code
	tasks, err := decodeTaskTable(taskBytes)
	if err != nil {
		return nil, err
	}
	c.Tasks = *tasks

	if header.HasDebug() != (len(debugBytes) > 0) {
		return nil, formatErrf(ErrBadDebugSection, "debug flag %v but section size %d", header.HasDebug(), len(debugBytes))
	}
	// The type and signature sections are reserved in format version 1:
	// neither the flag nor a directory entry may claim one.
	if header.Flags&FlagTypes != 0 || header.Sections[SectionType].Size != 0 {
		return nil, formatErrf(ErrBadSection, "type section is reserved in format version %d", FormatVersion)
	}
	if header.Flags&FlagSignature != 0 || header.Sections[SectionSignature].Size != 0 {
		return nil, formatErrf(ErrBadSection, "signature section is reserved in format version %d", FormatVersion)
	}
	if len(debugBytes) > 0 {
		c.Debug, err = decodeDebugInfo(debugBytes)
		if err != nil {
			return nil, err
		}
	}

	if got := contentHash(poolBytes, codeBytes); got != header.ContentHash {
		return nil, formatErrf(ErrHashMismatch, "computed %x, header %x", got[:8], header.ContentHash[:8])
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load deserializes the container file at path.
func Load(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("container: open %s: %w", path, err)
	}
	defer f.Close()
	return Deserialize(f)
}

// Validate cross-checks the header's runtime parameters against the
// decoded sections: declared counts match, and every reference that
// can be checked statically is in range.
func (c *Container) Validate() error {
	if int(c.Header.NumFunctions) != len(c.Code.Functions) {
		return formatErrf(ErrBadCode, "header declares %d functions, code section has %d", c.Header.NumFunctions, len(c.Code.Functions))
	}
	if len(c.Code.Functions) == 0 {
		return formatErrf(ErrBadCode, "no functions")
	}
	if int(c.Header.EntryFunction) >= len(c.Code.Functions) {
		return formatErrf(ErrBadCode, "entry function %d out of range (%d functions)", c.Header.EntryFunction, len(c.Code.Functions))
	}
	for _, p := range c.Tasks.Programs {
		if int(p.EntryFunction) >= len(c.Code.Functions) {
			return formatErrf(ErrBadTaskTable, "program %d entry function %d out of range", p.ID, p.EntryFunction)
		}
	}
	for _, t := range c.Tasks.Tasks {
		if t.Kind == TaskCyclic && t.IntervalUs == 0 {
			return formatErrf(ErrBadTaskTable, "cyclic task %d has zero interval", t.ID)
		}
	}
	return nil
}

// NumVarSlots is the total variable table size in slots: the three
// image regions laid end to end.
func (c *Container) NumVarSlots() int {
	return int(c.Header.InputImageLen) + int(c.Header.OutputImageLen) + int(c.Header.MemoryImageLen)
}

// contentHash covers the constant pool and code section payloads. The
// task table and debug section are deliberately outside the hash so
// re-tasking a program does not change its code identity.
func contentHash(poolBytes, codeBytes []byte) [32]byte {
	h := sha256.New()
	h.Write(poolBytes)
	h.Write(codeBytes)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
