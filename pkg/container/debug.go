package container

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Canonical encoding keeps the debug section byte-stable across
// serialization round-trips.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("container: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// DebugInfo is the optional debug section: build identity plus the
// source-level names the stripped runtime sections no longer carry.
// The VM never reads it; the disassembler and variable dumps do.
type DebugInfo struct {
	BuildID    string          `cbor:"1,keyasint"`
	SourceFile string          `cbor:"2,keyasint"`
	Functions  []FunctionDebug `cbor:"3,keyasint"`
	Variables  []string        `cbor:"4,keyasint"`
}

// FunctionDebug maps one function back to its POU.
type FunctionDebug struct {
	ID      uint16     `cbor:"1,keyasint"`
	PouName string     `cbor:"2,keyasint"`
	Locals  []string   `cbor:"3,keyasint"`
	LineMap []LineSpan `cbor:"4,keyasint"`
}

// LineSpan maps a bytecode range to a source line.
type LineSpan struct {
	StartOffset uint32 `cbor:"1,keyasint"`
	EndOffset   uint32 `cbor:"2,keyasint"`
	Line        uint32 `cbor:"3,keyasint"`
}

// NewDebugInfo stamps a fresh build id.
func NewDebugInfo(sourceFile string) *DebugInfo {
	return &DebugInfo{
		BuildID:    uuid.NewString(),
		SourceFile: sourceFile,
	}
}

// VariableName returns the source name for a variable table slot, or
// a positional fallback when the debug info does not cover it.
func (d *DebugInfo) VariableName(slot int) string {
	if d != nil && slot >= 0 && slot < len(d.Variables) {
		return d.Variables[slot]
	}
	return fmt.Sprintf("var[%d]", slot)
}

func (d *DebugInfo) encode() ([]byte, error) {
	data, err := cborEncMode.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("container: marshal debug section: %w", err)
	}
	return data, nil
}

func decodeDebugInfo(buf []byte) (*DebugInfo, error) {
	var d DebugInfo
	if err := cbor.Unmarshal(buf, &d); err != nil {
		return nil, formatErrf(ErrBadDebugSection, "%v", err)
	}
	return &d, nil
}
