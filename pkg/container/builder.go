package container

// Builder assembles a container step by step. The code generator and
// tests use it so header bookkeeping lives in one place; counts,
// section geometry and hashes are settled by Serialize.
type Builder struct {
	c Container
}

// NewBuilder returns an empty builder for the current format version.
func NewBuilder() *Builder {
	b := &Builder{}
	b.c.Header.Version = FormatVersion
	return b
}

// AddFunction appends a compiled function body. Ids are assigned
// densely in call order.
func (b *Builder) AddFunction(code []byte, maxStack, numLocals, numParams uint16) *Builder {
	b.c.Code.Functions = append(b.c.Code.Functions, Function{
		ID:            uint16(len(b.c.Code.Functions)),
		MaxStackDepth: maxStack,
		NumLocals:     numLocals,
		NumParams:     numParams,
		Code:          code,
	})
	return b
}

// Pool exposes the constant pool for direct appends during build.
func (b *Builder) Pool() *ConstantPool {
	return &b.c.Pool
}

// AddTask appends a task entry.
func (b *Builder) AddTask(t TaskEntry) *Builder {
	b.c.Tasks.Tasks = append(b.c.Tasks.Tasks, t)
	return b
}

// AddProgram appends a program instance entry.
func (b *Builder) AddProgram(p ProgramEntry) *Builder {
	b.c.Tasks.Programs = append(b.c.Tasks.Programs, p)
	return b
}

// SetEntry records the entry function id.
func (b *Builder) SetEntry(id uint16) *Builder {
	b.c.Header.EntryFunction = id
	return b
}

// SetLimits records the execution bounds the VM enforces.
func (b *Builder) SetLimits(maxStack, maxCallDepth uint16) *Builder {
	b.c.Header.MaxStackDepth = maxStack
	b.c.Header.MaxCallDepth = maxCallDepth
	return b
}

// SetImages records the three variable image region sizes in slots.
func (b *Builder) SetImages(input, output, memory uint32) *Builder {
	b.c.Header.InputImageLen = input
	b.c.Header.OutputImageLen = output
	b.c.Header.MemoryImageLen = memory
	return b
}

// SetGlobals records the global slot count.
func (b *Builder) SetGlobals(n uint16) *Builder {
	b.c.Header.NumGlobals = n
	return b
}

// SetSourceHash records the hash of the originating source text. The
// VM treats it as opaque.
func (b *Builder) SetSourceHash(h [32]byte) *Builder {
	b.c.Header.SourceHash = h
	return b
}

// SetDebug attaches the optional debug section.
func (b *Builder) SetDebug(d *DebugInfo) *Builder {
	b.c.Debug = d
	return b
}

// Build finalizes counts and validates the assembled container.
func (b *Builder) Build() (*Container, error) {
	b.c.Header.NumFunctions = uint16(len(b.c.Code.Functions))
	if err := b.c.Validate(); err != nil {
		return nil, err
	}
	return &b.c, nil
}
