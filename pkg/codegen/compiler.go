package codegen

import (
	"errors"
	"fmt"

	"github.com/plcforge/stbc/pkg/ast"
	"github.com/plcforge/stbc/pkg/container"
)

// ErrUnsupported marks constructs the generator cannot lower.
var ErrUnsupported = errors.New("unsupported construct")

// GenError is a generation failure carrying the POU and construct it
// occurred in. No partial container is produced on error.
type GenError struct {
	Pou       string
	Construct string
	Err       error
}

func (e *GenError) Error() string {
	return fmt.Sprintf("codegen: %s in %s: %v", e.Construct, e.Pou, e.Err)
}

func (e *GenError) Unwrap() error { return e.Err }

func genErrf(pou, construct string, cause error, format string, args ...any) error {
	return &GenError{Pou: pou, Construct: construct, Err: fmt.Errorf("%w: "+format, append([]any{cause}, args...)...)}
}

// defaultMaxCallDepth bounds the frame stack recorded in the header.
const defaultMaxCallDepth = 64

// Options tune a compilation.
type Options struct {
	SourceFile string
	SourceHash [32]byte
	Debug      bool // attach a debug section with names and a build id
}

// Compile lowers lib into a container with a debug section attached.
func Compile(lib *ast.Library) (*container.Container, error) {
	return CompileWithOptions(lib, Options{Debug: true})
}

// compiler holds the per-library state: the slot layout, the constant
// dedup map and the function id table.
type compiler struct {
	lib     *ast.Library
	builder *container.Builder
	opts    Options

	constIndex map[constKey]uint16
	fbTypes    map[string]*ast.Pou

	// global slot layout
	inputLen  int
	outputLen int
	memoryLen int
	// pouSlots[pouName][varIndex] = global slot, for Program POUs and
	// scalar variables only; FB instances appear in instanceBase.
	pouSlots     map[string]map[int]uint16
	instanceBase map[string]map[int]uint16 // pouName -> varIndex -> base slot
	initFlag     map[string]uint16         // pouName -> first-scan done flag slot

	funcIDs     map[string]uint16 // POU name or "pou.instance" -> id
	funcOrder   []funcPlan
	varNames    []string
	globalCount int
}

type constKey struct {
	typ   container.ConstType
	value int64
}

// funcPlan is one function body to compile, in id order.
type funcPlan struct {
	name string // display name for the debug section
	pou  *ast.Pou
	// instance-bound FB body: slots resolve against base
	instanceOf *ast.Pou
	base       uint16
}

// CompileWithOptions lowers lib into a container.
func CompileWithOptions(lib *ast.Library, opts Options) (*container.Container, error) {
	c := &compiler{
		lib:          lib,
		builder:      container.NewBuilder(),
		opts:         opts,
		constIndex:   make(map[constKey]uint16),
		fbTypes:      make(map[string]*ast.Pou),
		pouSlots:     make(map[string]map[int]uint16),
		instanceBase: make(map[string]map[int]uint16),
		initFlag:     make(map[string]uint16),
		funcIDs:      make(map[string]uint16),
	}
	if err := c.layOut(); err != nil {
		return nil, err
	}

	var debug *container.DebugInfo
	if opts.Debug {
		debug = container.NewDebugInfo(opts.SourceFile)
		debug.Variables = c.varNames
	}

	maxStack := uint16(0)
	for id, plan := range c.funcOrder {
		fc := &funcCompiler{c: c, plan: plan, e: NewEmitter(), locals: make(map[int]uint16)}
		fn, err := fc.compile()
		if err != nil {
			return nil, err
		}
		c.builder.AddFunction(fn.Code, fn.MaxStackDepth, fn.NumLocals, fn.NumParams)
		if fn.MaxStackDepth > maxStack {
			maxStack = fn.MaxStackDepth
		}
		if debug != nil {
			debug.Functions = append(debug.Functions, container.FunctionDebug{
				ID:      uint16(id),
				PouName: plan.name,
				Locals:  fc.localNames,
			})
		}
	}

	if err := c.buildTasks(); err != nil {
		return nil, err
	}

	c.builder.SetLimits(maxStack, defaultMaxCallDepth)
	c.builder.SetImages(uint32(c.inputLen), uint32(c.outputLen), uint32(c.memoryLen))
	c.builder.SetGlobals(uint16(c.globalCount))
	c.builder.SetSourceHash(opts.SourceHash)
	if debug != nil {
		c.builder.SetDebug(debug)
	}
	return c.builder.Build()
}

// layOut assigns global slots and function ids. Input-class variables
// of Program POUs take the input image in declaration order, then
// Output, then Memory; FB instance state lands at the end of the
// memory image. Identical trees always produce identical layouts.
func (c *compiler) layOut() error {
	for i := range c.lib.Pous {
		pou := &c.lib.Pous[i]
		if pou.Kind == ast.PouFunctionBlock {
			if _, dup := c.fbTypes[pou.Name]; dup {
				return genErrf(pou.Name, "function block", ErrUnsupported, "duplicate type name")
			}
			c.fbTypes[pou.Name] = pou
		}
	}

	// Three passes over program declarations, one per image region.
	classes := []ast.StorageClass{ast.StorageInput, ast.StorageOutput, ast.StorageMemory}
	slot := 0
	for _, class := range classes {
		start := slot
		for i := range c.lib.Pous {
			pou := &c.lib.Pous[i]
			if pou.Kind != ast.PouProgram {
				continue
			}
			for vi, v := range pou.Vars {
				if v.Storage != class || v.Type == ast.TypeFbInstance {
					continue
				}
				if c.pouSlots[pou.Name] == nil {
					c.pouSlots[pou.Name] = make(map[int]uint16)
				}
				c.pouSlots[pou.Name][vi] = uint16(slot)
				c.varNames = append(c.varNames, pou.Name+"."+v.Name)
				slot++
			}
		}
		switch class {
		case ast.StorageInput:
			c.inputLen = slot - start
		case ast.StorageOutput:
			c.outputLen = slot - start
		case ast.StorageMemory:
			c.memoryLen = slot - start
		}
	}

	// FB instance state extends the memory image.
	for i := range c.lib.Pous {
		pou := &c.lib.Pous[i]
		if pou.Kind != ast.PouProgram {
			continue
		}
		for vi, v := range pou.Vars {
			if v.Type != ast.TypeFbInstance {
				continue
			}
			fb, ok := c.fbTypes[v.FbType]
			if !ok {
				return genErrf(pou.Name, "instance "+v.Name, ErrUnsupported, "unknown function block type %q", v.FbType)
			}
			if c.instanceBase[pou.Name] == nil {
				c.instanceBase[pou.Name] = make(map[int]uint16)
			}
			c.instanceBase[pou.Name][vi] = uint16(slot)
			for _, f := range fb.Vars {
				c.varNames = append(c.varNames, pou.Name+"."+v.Name+"."+f.Name)
				slot++
			}
			c.memoryLen += len(fb.Vars)
		}
	}
	// Programs with declared initial values get a hidden done flag so
	// the first-scan prologue runs exactly once.
	for i := range c.lib.Pous {
		pou := &c.lib.Pous[i]
		if pou.Kind != ast.PouProgram || !c.needsInit(pou) {
			continue
		}
		c.initFlag[pou.Name] = uint16(slot)
		c.varNames = append(c.varNames, pou.Name+".#init_done")
		c.memoryLen++
		slot++
	}
	c.globalCount = slot

	// Function ids: Programs and Functions in declaration order, then
	// one monomorphized body per FB instance.
	for i := range c.lib.Pous {
		pou := &c.lib.Pous[i]
		switch pou.Kind {
		case ast.PouProgram, ast.PouFunction:
			c.funcIDs[pou.Name] = uint16(len(c.funcOrder))
			c.funcOrder = append(c.funcOrder, funcPlan{name: pou.Name, pou: pou})
		}
	}
	for i := range c.lib.Pous {
		pou := &c.lib.Pous[i]
		if pou.Kind != ast.PouProgram {
			continue
		}
		for vi, v := range pou.Vars {
			if v.Type != ast.TypeFbInstance {
				continue
			}
			fb := c.fbTypes[v.FbType]
			key := pou.Name + "." + v.Name
			c.funcIDs[key] = uint16(len(c.funcOrder))
			c.funcOrder = append(c.funcOrder, funcPlan{
				name:       key,
				pou:        fb,
				instanceOf: pou,
				base:       c.instanceBase[pou.Name][vi],
			})
		}
	}

	if c.entryProgram() == nil {
		return genErrf(c.lib.Name, "library", ErrUnsupported, "no PROGRAM declared")
	}
	c.builder.SetEntry(c.funcIDs[c.entryProgram().Name])
	return nil
}

// needsInit reports whether the program declares any non-default
// initial value, directly or through a function block instance.
func (c *compiler) needsInit(pou *ast.Pou) bool {
	for _, v := range pou.Vars {
		if v.Type == ast.TypeFbInstance {
			if fb, ok := c.fbTypes[v.FbType]; ok {
				for _, f := range fb.Vars {
					if f.Init != nil {
						return true
					}
				}
			}
			continue
		}
		if v.Init != nil {
			return true
		}
	}
	return false
}

func (c *compiler) entryProgram() *ast.Pou {
	for i := range c.lib.Pous {
		if c.lib.Pous[i].Kind == ast.PouProgram {
			return &c.lib.Pous[i]
		}
	}
	return nil
}

// constI32 returns the pool index for v, reusing an existing entry
// when the same typed value was interned before.
func (c *compiler) constI32(v int32) uint16 {
	key := constKey{typ: container.ConstI32, value: int64(v)}
	if idx, ok := c.constIndex[key]; ok {
		return idx
	}
	idx := c.builder.Pool().AddI32(v)
	c.constIndex[key] = idx
	return idx
}

// buildTasks turns the tree's task declarations into the task table.
// A library without tasks gets one freewheeling task bound to the
// entry program so `run` has something to schedule.
func (c *compiler) buildTasks() error {
	if len(c.lib.Tasks) == 0 {
		c.builder.AddTask(container.TaskEntry{
			ID:    0,
			Kind:  container.TaskFreewheeling,
			Flags: container.TaskFlagEnabled,
		})
		c.builder.AddProgram(container.ProgramEntry{
			ID:            0,
			TaskID:        0,
			EntryFunction: c.funcIDs[c.entryProgram().Name],
		})
		return nil
	}
	for i, t := range c.lib.Tasks {
		fnID, ok := c.funcIDs[t.Program]
		if !ok {
			return genErrf(t.Name, "task", ErrUnsupported, "unknown program %q", t.Program)
		}
		kind := container.TaskCyclic
		if t.IntervalUs == 0 {
			kind = container.TaskFreewheeling
		}
		c.builder.AddTask(container.TaskEntry{
			ID:         uint16(i),
			Priority:   t.Priority,
			Kind:       kind,
			Flags:      container.TaskFlagEnabled,
			IntervalUs: t.IntervalUs,
			WatchdogUs: t.WatchdogUs,
		})
		c.builder.AddProgram(container.ProgramEntry{
			ID:            uint16(i),
			TaskID:        uint16(i),
			EntryFunction: fnID,
		})
	}
	return nil
}
