package container

import "encoding/binary"

// HeaderSize is the fixed size of the container header in bytes.
const HeaderSize = 192

// Magic identifies a container file. Serialized little-endian, so the
// file starts with the bytes 'S' 'T' 'B' 'C'.
var Magic = [4]byte{'S', 'T', 'B', 'C'}

// FormatVersion is the only container format version this package
// reads or writes.
const FormatVersion uint16 = 1

// Header flag bits.
const (
	FlagSignature byte = 1 << 0
	FlagDebug     byte = 1 << 1
	FlagTypes     byte = 1 << 2
)

// Section indices into the header's section directory.
const (
	SectionConst = iota
	SectionCode
	SectionTask
	SectionDebug
	SectionType
	SectionSignature
	numSections
)

var sectionNames = [numSections]string{
	"constant pool", "code", "task table", "debug", "type", "signature",
}

// SectionRange locates one section inside the container file. Offset
// is from the start of the file; a zero Size means the section is
// absent.
type SectionRange struct {
	Offset uint32
	Size   uint32
}

// Header is the fixed-size container header. Field order mirrors the
// byte layout: identification, hashes, section directory, runtime
// parameters, reserved tail.
type Header struct {
	Version uint16
	Profile byte
	Flags   byte

	ContentHash [32]byte
	SourceHash  [32]byte

	Sections [numSections]SectionRange

	EntryFunction  uint16
	MaxStackDepth  uint16
	MaxCallDepth   uint16
	NumFunctions   uint16
	NumGlobals     uint16
	NumFbInstances uint16
	NumFbTypes     uint16
	NumArrays      uint16
	InputImageLen  uint32
	OutputImageLen uint32
	MemoryImageLen uint32
}

// encode writes the header into a fresh HeaderSize buffer.
func (h *Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	buf[6] = h.Profile
	buf[7] = h.Flags
	copy(buf[8:40], h.ContentHash[:])
	copy(buf[40:72], h.SourceHash[:])
	for i, s := range h.Sections {
		off := 72 + i*8
		binary.LittleEndian.PutUint32(buf[off:off+4], s.Offset)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], s.Size)
	}
	binary.LittleEndian.PutUint16(buf[120:122], h.EntryFunction)
	binary.LittleEndian.PutUint16(buf[122:124], h.MaxStackDepth)
	binary.LittleEndian.PutUint16(buf[124:126], h.MaxCallDepth)
	binary.LittleEndian.PutUint16(buf[126:128], h.NumFunctions)
	binary.LittleEndian.PutUint16(buf[128:130], h.NumGlobals)
	binary.LittleEndian.PutUint16(buf[130:132], h.NumFbInstances)
	binary.LittleEndian.PutUint16(buf[132:134], h.NumFbTypes)
	binary.LittleEndian.PutUint16(buf[134:136], h.NumArrays)
	binary.LittleEndian.PutUint32(buf[136:140], h.InputImageLen)
	binary.LittleEndian.PutUint32(buf[140:144], h.OutputImageLen)
	binary.LittleEndian.PutUint32(buf[144:148], h.MemoryImageLen)
	// bytes 148..192 reserved, zero
	return buf
}

// decodeHeader parses and gates a HeaderSize-byte slice.
func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, formatErrf(ErrTruncated, "header needs %d bytes, have %d", HeaderSize, len(buf))
	}
	if [4]byte(buf[0:4]) != Magic {
		return nil, formatErrf(ErrBadMagic, "got % X", buf[0:4])
	}
	h := &Header{
		Version: binary.LittleEndian.Uint16(buf[4:6]),
		Profile: buf[6],
		Flags:   buf[7],
	}
	if h.Version != FormatVersion {
		return nil, formatErrf(ErrBadVersion, "version %d, support %d", h.Version, FormatVersion)
	}
	copy(h.ContentHash[:], buf[8:40])
	copy(h.SourceHash[:], buf[40:72])
	for i := range h.Sections {
		off := 72 + i*8
		h.Sections[i] = SectionRange{
			Offset: binary.LittleEndian.Uint32(buf[off : off+4]),
			Size:   binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		}
	}
	h.EntryFunction = binary.LittleEndian.Uint16(buf[120:122])
	h.MaxStackDepth = binary.LittleEndian.Uint16(buf[122:124])
	h.MaxCallDepth = binary.LittleEndian.Uint16(buf[124:126])
	h.NumFunctions = binary.LittleEndian.Uint16(buf[126:128])
	h.NumGlobals = binary.LittleEndian.Uint16(buf[128:130])
	h.NumFbInstances = binary.LittleEndian.Uint16(buf[130:132])
	h.NumFbTypes = binary.LittleEndian.Uint16(buf[132:134])
	h.NumArrays = binary.LittleEndian.Uint16(buf[134:136])
	h.InputImageLen = binary.LittleEndian.Uint32(buf[136:140])
	h.OutputImageLen = binary.LittleEndian.Uint32(buf[140:144])
	h.MemoryImageLen = binary.LittleEndian.Uint32(buf[144:148])
	return h, nil
}

// HasDebug reports whether the debug flag is set.
func (h *Header) HasDebug() bool { return h.Flags&FlagDebug != 0 }
