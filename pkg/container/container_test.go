package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

// testContainer builds a minimal valid container: one I32 constant
// (42), one function storing it to global 0, one cyclic task.
func testContainer(t *testing.T) *Container {
	t.Helper()
	b := NewBuilder()
	b.Pool().AddI32(42)
	code := []byte{
		byte(OpLoadConst), 0, 0,
		byte(OpStoreVar), 0, 0,
		byte(OpRetVoid),
	}
	b.AddFunction(code, 1, 0, 0)
	b.SetEntry(0)
	b.SetLimits(8, 4)
	b.SetImages(0, 0, 1)
	b.SetGlobals(1)
	b.AddTask(TaskEntry{ID: 0, Priority: 1, Kind: TaskCyclic, Flags: TaskFlagEnabled, IntervalUs: 100_000})
	b.AddProgram(ProgramEntry{ID: 0, TaskID: 0, EntryFunction: 0, VarCount: 1})
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return c
}

func serialize(t *testing.T, c *Container) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := c.Serialize(&buf); err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	c := testContainer(t)
	c.Debug = &DebugInfo{
		BuildID:    "test-build",
		SourceFile: "counter.st",
		Variables:  []string{"counter"},
		Functions:  []FunctionDebug{{ID: 0, PouName: "Main"}},
	}

	data := serialize(t, c)
	got, err := Deserialize(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}

	if !reflect.DeepEqual(got.Pool, c.Pool) {
		t.Errorf("Pool = %+v, want %+v", got.Pool, c.Pool)
	}
	if !reflect.DeepEqual(got.Code, c.Code) {
		t.Errorf("Code = %+v, want %+v", got.Code, c.Code)
	}
	if !reflect.DeepEqual(got.Tasks, c.Tasks) {
		t.Errorf("Tasks = %+v, want %+v", got.Tasks, c.Tasks)
	}
	if !reflect.DeepEqual(got.Debug, c.Debug) {
		t.Errorf("Debug = %+v, want %+v", got.Debug, c.Debug)
	}

	// Serializing the round-tripped container reproduces the bytes.
	data2 := serialize(t, got)
	if !bytes.Equal(data, data2) {
		t.Errorf("re-serialized bytes differ: %d vs %d bytes", len(data), len(data2))
	}
}

func TestRoundTripWithoutDebug(t *testing.T) {
	c := testContainer(t)
	data := serialize(t, c)
	got, err := Deserialize(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if got.Debug != nil {
		t.Errorf("Debug = %+v, want nil", got.Debug)
	}
	if got.Header.HasDebug() {
		t.Error("HasDebug() = true, want false")
	}
}

func TestDeserializeBadMagic(t *testing.T) {
	data := serialize(t, testContainer(t))
	data[0] = 'X'
	_, err := Deserialize(bytes.NewReader(data))
	if !errors.Is(err, ErrBadMagic) {
		t.Errorf("Deserialize() error = %v, want ErrBadMagic", err)
	}
}

func TestDeserializeBadVersion(t *testing.T) {
	data := serialize(t, testContainer(t))
	binary.LittleEndian.PutUint16(data[4:6], 99)
	_, err := Deserialize(bytes.NewReader(data))
	if !errors.Is(err, ErrBadVersion) {
		t.Errorf("Deserialize() error = %v, want ErrBadVersion", err)
	}
}

func TestDeserializeTruncated(t *testing.T) {
	data := serialize(t, testContainer(t))
	for _, n := range []int{0, 10, HeaderSize - 1} {
		if _, err := Deserialize(bytes.NewReader(data[:n])); !errors.Is(err, ErrTruncated) {
			t.Errorf("Deserialize(%d bytes) error = %v, want ErrTruncated", n, err)
		}
	}
	// Cutting into a section payload is a section bounds error.
	if _, err := Deserialize(bytes.NewReader(data[:len(data)-1])); !errors.Is(err, ErrBadSection) {
		t.Errorf("Deserialize(short section) error = %v, want ErrBadSection", err)
	}
}

// A header that declares more functions than the code section holds
// must be rejected before any VM sees the container.
func TestDeserializeFunctionCountMismatch(t *testing.T) {
	c := testContainer(t)
	data := serialize(t, c)
	binary.LittleEndian.PutUint16(data[126:128], 3)
	_, err := Deserialize(bytes.NewReader(data))
	if !errors.Is(err, ErrBadCode) {
		t.Errorf("Deserialize() error = %v, want ErrBadCode", err)
	}
}

// The header sits outside the content hash, so a flag claiming a
// section the format reserves must be rejected on its own.
func TestDeserializeReservedSectionFlags(t *testing.T) {
	for _, tt := range []struct {
		name string
		flag byte
	}{
		{"types", FlagTypes},
		{"signature", FlagSignature},
	} {
		data := serialize(t, testContainer(t))
		data[7] |= tt.flag
		_, err := Deserialize(bytes.NewReader(data))
		if !errors.Is(err, ErrBadSection) {
			t.Errorf("Deserialize(%s flag set) error = %v, want ErrBadSection", tt.name, err)
		}
	}
}

func TestDeserializeHashMismatch(t *testing.T) {
	data := serialize(t, testContainer(t))
	data[8] ^= 0xFF
	_, err := Deserialize(bytes.NewReader(data))
	if !errors.Is(err, ErrHashMismatch) {
		t.Errorf("Deserialize() error = %v, want ErrHashMismatch", err)
	}
}

func TestDeserializeBadConstantTag(t *testing.T) {
	c := testContainer(t)
	data := serialize(t, c)
	// First pool byte pair after the count is the entry's type tag.
	poolOff := c.Header.Sections[SectionConst].Offset
	if poolOff == 0 {
		poolOff = HeaderSize
	}
	data[int(poolOff)+2] = 0x7F
	_, err := Deserialize(bytes.NewReader(data))
	if !errors.Is(err, ErrBadConstant) {
		t.Errorf("Deserialize() error = %v, want ErrBadConstant", err)
	}
}

func TestValidateEntryOutOfRange(t *testing.T) {
	c := testContainer(t)
	c.Header.EntryFunction = 5
	if err := c.Validate(); !errors.Is(err, ErrBadCode) {
		t.Errorf("Validate() error = %v, want ErrBadCode", err)
	}
}

func TestValidateCyclicZeroInterval(t *testing.T) {
	c := testContainer(t)
	c.Tasks.Tasks[0].IntervalUs = 0
	if err := c.Validate(); !errors.Is(err, ErrBadTaskTable) {
		t.Errorf("Validate() error = %v, want ErrBadTaskTable", err)
	}
}

func TestConstantPoolGetI32(t *testing.T) {
	var p ConstantPool
	idx := p.AddI32(-7)
	got, err := p.GetI32(idx)
	if err != nil {
		t.Fatalf("GetI32() error = %v", err)
	}
	if got != -7 {
		t.Errorf("GetI32() = %d, want -7", got)
	}
	if _, err := p.GetI32(99); err == nil {
		t.Error("GetI32(99) error = nil, want out of range")
	}
	p.AddI64(1)
	if _, err := p.GetI32(1); err == nil {
		t.Error("GetI32 on I64 entry error = nil, want type mismatch")
	}
}

// A pool entry (index 0, I32, 42) and a body of LOAD_CONST, STORE_VAR,
// RET_VOID decode to exactly three instructions at consecutive
// offsets.
func TestDisassembleThreeInstructions(t *testing.T) {
	c := testContainer(t)
	d, err := c.Disassemble()
	if err != nil {
		t.Fatalf("Disassemble() error = %v", err)
	}

	if len(d.Constants) != 1 {
		t.Fatalf("len(Constants) = %d, want 1", len(d.Constants))
	}
	if d.Constants[0].Type != ConstI32 || d.Constants[0].Value != "42" {
		t.Errorf("Constants[0] = %s %s, want I32 42", d.Constants[0].Type, d.Constants[0].Value)
	}

	if len(d.Functions) != 1 {
		t.Fatalf("len(Functions) = %d, want 1", len(d.Functions))
	}
	ins := d.Functions[0].Instructions
	if len(ins) != 3 {
		t.Fatalf("len(Instructions) = %d, want 3", len(ins))
	}
	want := []struct {
		offset int
		op     Opcode
	}{
		{0, OpLoadConst},
		{3, OpStoreVar},
		{6, OpRetVoid},
	}
	for i, w := range want {
		if ins[i].Offset != w.offset || ins[i].Opcode != w.op {
			t.Errorf("Instructions[%d] = %s at %04X, want %s at %04X",
				i, ins[i].Opcode, ins[i].Offset, w.op, w.offset)
		}
	}
	if ins[0].Comment != "42" {
		t.Errorf("LOAD_CONST comment = %q, want %q", ins[0].Comment, "42")
	}
}

func TestDisassembleUnknownOpcode(t *testing.T) {
	c := testContainer(t)
	c.Code.Functions[0].Code = []byte{0xEE}
	if _, err := c.Disassemble(); !errors.Is(err, ErrBadCode) {
		t.Errorf("Disassemble() error = %v, want ErrBadCode", err)
	}
}

func TestOpcodeInfo(t *testing.T) {
	if got := OpAdd.String(); got != "ADD" {
		t.Errorf("OpAdd.String() = %q, want %q", got, "ADD")
	}
	if got := OpLoadConst.InstructionLen(); got != 3 {
		t.Errorf("OpLoadConst.InstructionLen() = %d, want 3", got)
	}
	if !OpJmpFalse.IsJump() {
		t.Error("OpJmpFalse.IsJump() = false, want true")
	}
	if !OpRetVal.IsReturn() {
		t.Error("OpRetVal.IsReturn() = false, want true")
	}
	if _, ok := GetOpcodeInfo(Opcode(0xEE)); ok {
		t.Error("GetOpcodeInfo(0xEE) ok = true, want false")
	}
}
