package codegen

import (
	"github.com/plcforge/stbc/pkg/ast"
	"github.com/plcforge/stbc/pkg/container"
)

// funcCompiler lowers one function body: a Program or Function POU,
// or a function block body specialized for one instance.
type funcCompiler struct {
	c    *compiler
	plan funcPlan
	e    *Emitter

	locals     map[int]uint16 // var index -> local slot, Function POUs only
	localNames []string
	nextLocal  uint16
	numParams  uint16

	hasResult   bool
	resultLocal uint16

	loopEnds []Label // innermost last; EXIT jumps to the top entry
}

func (fc *funcCompiler) errf(construct string, format string, args ...any) error {
	return genErrf(fc.plan.name, construct, ErrUnsupported, format, args...)
}

// allocLocal reserves a frame local.
func (fc *funcCompiler) allocLocal(name string) uint16 {
	slot := fc.nextLocal
	fc.nextLocal++
	fc.localNames = append(fc.localNames, name)
	return slot
}

func (fc *funcCompiler) compile() (container.Function, error) {
	pou := fc.plan.pou

	if pou.Kind == ast.PouFunction && fc.plan.instanceOf == nil {
		// Inputs become the leading locals, in declaration order;
		// everything else follows.
		for vi, v := range pou.Vars {
			if v.Storage == ast.StorageInput {
				fc.locals[vi] = fc.allocLocal(v.Name)
			}
		}
		fc.numParams = fc.nextLocal
		for vi, v := range pou.Vars {
			if v.Storage != ast.StorageInput {
				fc.locals[vi] = fc.allocLocal(v.Name)
			}
		}
		if pou.ReturnType != ast.TypeNone {
			fc.hasResult = true
			if slot, ok := fc.resultVarLocal(); ok {
				fc.resultLocal = slot
			} else {
				fc.resultLocal = fc.allocLocal(pou.Name)
			}
		}
		// Non-param locals with initializers run at every call entry.
		for vi, v := range pou.Vars {
			if v.Storage == ast.StorageInput || v.Init == nil {
				continue
			}
			if err := fc.expr(v.Init); err != nil {
				return container.Function{}, err
			}
			fc.trunc(v.Type)
			fc.e.EmitU16(container.OpStoreLocal, fc.locals[vi])
		}
	}

	if pou.Kind == ast.PouProgram {
		if err := fc.firstScanInit(); err != nil {
			return container.Function{}, err
		}
	}

	if err := fc.block(pou.Body); err != nil {
		return container.Function{}, err
	}

	if fc.hasResult {
		fc.e.EmitU16(container.OpLoadLocal, fc.resultLocal)
		fc.e.Emit(container.OpRetVal)
	} else {
		fc.e.Emit(container.OpRetVoid)
	}

	code, maxStack, err := fc.e.Finish()
	if err != nil {
		return container.Function{}, genErrf(fc.plan.name, "body", err, "emit failed")
	}
	return container.Function{
		Code:          code,
		MaxStackDepth: maxStack,
		NumLocals:     fc.nextLocal,
		NumParams:     fc.numParams,
	}, nil
}

// resultVarLocal finds a declared variable named after the function,
// the conventional return-value carrier.
func (fc *funcCompiler) resultVarLocal() (uint16, bool) {
	for vi, v := range fc.plan.pou.Vars {
		if v.Name == fc.plan.pou.Name {
			return fc.locals[vi], true
		}
	}
	return 0, false
}

// firstScanInit emits the program's initializer stores guarded by a
// hidden done flag, so declared initial values are applied exactly
// once, on the first scan after load.
func (fc *funcCompiler) firstScanInit() error {
	pou := fc.plan.pou
	flag, ok := fc.c.initFlag[pou.Name]
	if !ok {
		return nil
	}
	skip := fc.e.NewLabel()
	fc.e.EmitU16(container.OpLoadVar, flag)
	fc.e.EmitJump(container.OpJmpTrue, skip)

	for vi, v := range pou.Vars {
		if v.Type == ast.TypeFbInstance {
			fb := fc.c.fbTypes[v.FbType]
			base := fc.c.instanceBase[pou.Name][vi]
			for fi, f := range fb.Vars {
				if f.Init == nil {
					continue
				}
				if err := fc.expr(f.Init); err != nil {
					return err
				}
				fc.trunc(f.Type)
				fc.e.EmitU16(container.OpStoreVar, base+uint16(fi))
			}
			continue
		}
		if v.Init == nil {
			continue
		}
		if err := fc.expr(v.Init); err != nil {
			return err
		}
		fc.trunc(v.Type)
		fc.e.EmitU16(container.OpStoreVar, fc.c.pouSlots[pou.Name][vi])
	}

	fc.e.Emit(container.OpLoadTrue)
	fc.e.EmitU16(container.OpStoreVar, flag)
	fc.e.Bind(skip)
	return nil
}

func (fc *funcCompiler) block(stmts []ast.Stmt) error {
	for _, s := range stmts {
		if err := fc.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (fc *funcCompiler) stmt(s ast.Stmt) error {
	switch s := s.(type) {
	case *ast.Assign:
		if err := fc.expr(s.Value); err != nil {
			return err
		}
		fc.trunc(s.Target.ResultType)
		return fc.store(s.Target)

	case *ast.If:
		end := fc.e.NewLabel()
		for _, br := range s.Branches {
			next := fc.e.NewLabel()
			if err := fc.expr(br.Cond); err != nil {
				return err
			}
			fc.e.EmitJump(container.OpJmpFalse, next)
			if err := fc.block(br.Body); err != nil {
				return err
			}
			fc.e.EmitJump(container.OpJmp, end)
			fc.e.Bind(next)
		}
		if err := fc.block(s.Else); err != nil {
			return err
		}
		fc.e.Bind(end)
		return nil

	case *ast.Case:
		return fc.caseStmt(s)

	case *ast.For:
		return fc.forStmt(s)

	case *ast.While:
		test := fc.e.NewLabel()
		end := fc.e.NewLabel()
		fc.e.Bind(test)
		if err := fc.expr(s.Cond); err != nil {
			return err
		}
		fc.e.EmitJump(container.OpJmpFalse, end)
		fc.loopEnds = append(fc.loopEnds, end)
		err := fc.block(s.Body)
		fc.loopEnds = fc.loopEnds[:len(fc.loopEnds)-1]
		if err != nil {
			return err
		}
		fc.e.EmitJump(container.OpJmp, test)
		fc.e.Bind(end)
		return nil

	case *ast.Repeat:
		top := fc.e.NewLabel()
		end := fc.e.NewLabel()
		fc.e.Bind(top)
		fc.loopEnds = append(fc.loopEnds, end)
		err := fc.block(s.Body)
		fc.loopEnds = fc.loopEnds[:len(fc.loopEnds)-1]
		if err != nil {
			return err
		}
		if err := fc.expr(s.Cond); err != nil {
			return err
		}
		fc.e.EmitJump(container.OpJmpFalse, top)
		fc.e.Bind(end)
		return nil

	case *ast.Exit:
		if len(fc.loopEnds) == 0 {
			return fc.errf("EXIT", "EXIT outside a loop")
		}
		fc.e.EmitJump(container.OpJmp, fc.loopEnds[len(fc.loopEnds)-1])
		return nil

	case *ast.Return:
		if fc.hasResult {
			fc.e.EmitU16(container.OpLoadLocal, fc.resultLocal)
			fc.e.Emit(container.OpRetVal)
		} else {
			fc.e.Emit(container.OpRetVoid)
		}
		return nil

	case *ast.FbCall:
		return fc.fbCall(s)

	case *ast.Empty:
		return nil
	}
	return fc.errf("statement", "unknown node %T", s)
}

// caseStmt evaluates the selector once into a scratch local, then
// tests each arm's labels in declaration order; the first match wins.
func (fc *funcCompiler) caseStmt(s *ast.Case) error {
	sel := fc.allocLocal("#case")
	if err := fc.expr(s.Selector); err != nil {
		return err
	}
	fc.e.EmitU16(container.OpStoreLocal, sel)

	end := fc.e.NewLabel()
	for _, arm := range s.Arms {
		body := fc.e.NewLabel()
		next := fc.e.NewLabel()
		for _, lab := range arm.Labels {
			fc.e.EmitU16(container.OpLoadLocal, sel)
			if lab.Low == lab.High {
				fc.e.EmitU16(container.OpLoadConst, fc.c.constI32(int32(lab.Low)))
				fc.e.Emit(container.OpEq)
			} else {
				fc.e.EmitU16(container.OpLoadConst, fc.c.constI32(int32(lab.Low)))
				fc.e.Emit(container.OpGe)
				fc.e.EmitU16(container.OpLoadLocal, sel)
				fc.e.EmitU16(container.OpLoadConst, fc.c.constI32(int32(lab.High)))
				fc.e.Emit(container.OpLe)
				fc.e.Emit(container.OpBoolAnd)
			}
			fc.e.EmitJump(container.OpJmpTrue, body)
		}
		fc.e.EmitJump(container.OpJmp, next)
		fc.e.Bind(body)
		if err := fc.block(arm.Body); err != nil {
			return err
		}
		fc.e.EmitJump(container.OpJmp, end)
		fc.e.Bind(next)
	}
	if err := fc.block(s.Else); err != nil {
		return err
	}
	fc.e.Bind(end)
	return nil
}

// forStmt lowers a counted loop. The TO bound is evaluated once; the
// BY step must be a literal so the loop direction is known here.
func (fc *funcCompiler) forStmt(s *ast.For) error {
	step := int64(1)
	if s.Step != nil {
		lit, ok := s.Step.(*ast.IntLiteral)
		if !ok {
			return fc.errf("FOR", "BY step must be a literal")
		}
		step = lit.Value
	}
	if step == 0 {
		return fc.errf("FOR", "BY step must not be zero")
	}

	if err := fc.expr(s.From); err != nil {
		return err
	}
	fc.trunc(s.Var.ResultType)
	if err := fc.store(s.Var); err != nil {
		return err
	}
	bound := fc.allocLocal("#to")
	if err := fc.expr(s.To); err != nil {
		return err
	}
	fc.e.EmitU16(container.OpStoreLocal, bound)

	test := fc.e.NewLabel()
	end := fc.e.NewLabel()
	fc.e.Bind(test)
	if err := fc.load(s.Var); err != nil {
		return err
	}
	fc.e.EmitU16(container.OpLoadLocal, bound)
	if step > 0 {
		fc.e.Emit(container.OpLe)
	} else {
		fc.e.Emit(container.OpGe)
	}
	fc.e.EmitJump(container.OpJmpFalse, end)

	fc.loopEnds = append(fc.loopEnds, end)
	err := fc.block(s.Body)
	fc.loopEnds = fc.loopEnds[:len(fc.loopEnds)-1]
	if err != nil {
		return err
	}

	if err := fc.load(s.Var); err != nil {
		return err
	}
	fc.e.EmitU16(container.OpLoadConst, fc.c.constI32(int32(step)))
	fc.e.Emit(container.OpAdd)
	fc.trunc(s.Var.ResultType)
	if err := fc.store(s.Var); err != nil {
		return err
	}
	fc.e.EmitJump(container.OpJmp, test)
	fc.e.Bind(end)
	return nil
}

// fbCall writes the inputs into the instance's state slots, then runs
// the instance body.
func (fc *funcCompiler) fbCall(s *ast.FbCall) error {
	pou := fc.plan.pou
	if pou.Kind != ast.PouProgram {
		return fc.errf("FB call", "instance calls are only supported in PROGRAM bodies")
	}
	base, ok := fc.c.instanceBase[pou.Name][s.InstanceIndex]
	if !ok {
		return fc.errf("FB call", "variable %d is not a function block instance", s.InstanceIndex)
	}
	fb := fc.c.fbTypes[s.FbType]
	for _, arg := range s.Inputs {
		if arg.FieldIndex < 0 || arg.FieldIndex >= len(fb.Vars) {
			return fc.errf("FB call", "field %d out of range for %s", arg.FieldIndex, s.FbType)
		}
		if err := fc.expr(arg.Value); err != nil {
			return err
		}
		fc.trunc(fb.Vars[arg.FieldIndex].Type)
		fc.e.EmitU16(container.OpStoreVar, base+uint16(arg.FieldIndex))
	}
	fnID, ok := fc.c.funcIDs[pou.Name+"."+s.InstanceName]
	if !ok {
		return fc.errf("FB call", "no compiled body for instance %s", s.InstanceName)
	}
	fc.e.EmitCall(fnID, 0, false)
	return nil
}

func (fc *funcCompiler) expr(x ast.Expr) error {
	switch x := x.(type) {
	case *ast.IntLiteral:
		info, ok := x.ResultType.Info()
		if ok && info.StorageBits == 64 {
			return fc.errf("literal", "64-bit arithmetic is not supported")
		}
		fc.e.EmitU16(container.OpLoadConst, fc.c.constI32(int32(x.Value)))
		return nil

	case *ast.BoolLiteral:
		if x.Value {
			fc.e.Emit(container.OpLoadTrue)
		} else {
			fc.e.Emit(container.OpLoadFalse)
		}
		return nil

	case *ast.VarRef:
		return fc.load(x)

	case *ast.FieldRef:
		pou := fc.plan.pou
		base, ok := fc.c.instanceBase[pou.Name][x.InstanceIndex]
		if !ok {
			return fc.errf("field access", "variable %d is not a function block instance", x.InstanceIndex)
		}
		fc.e.EmitU16(container.OpLoadVar, base+uint16(x.FieldIndex))
		return nil

	case *ast.Binary:
		if x.Op == ast.OpDiv || x.Op == ast.OpMod {
			if unsigned32(x.Left) || unsigned32(x.Right) {
				return fc.errf("expression", "unsigned 32-bit division is not supported")
			}
		}
		if err := fc.expr(x.Left); err != nil {
			return err
		}
		if err := fc.expr(x.Right); err != nil {
			return err
		}
		switch x.Op {
		case ast.OpAdd:
			fc.e.Emit(container.OpAdd)
		case ast.OpSub:
			fc.e.Emit(container.OpSub)
		case ast.OpMul:
			fc.e.Emit(container.OpMul)
		case ast.OpDiv:
			fc.e.Emit(container.OpDiv)
		case ast.OpMod:
			fc.e.Emit(container.OpMod)
		case ast.OpExpt:
			fc.e.EmitU16(container.OpBuiltin, container.BuiltinExptI32)
		default:
			return fc.errf("expression", "unknown binary operator %v", x.Op)
		}
		return nil

	case *ast.Unary:
		if err := fc.expr(x.Operand); err != nil {
			return err
		}
		if x.Negate {
			fc.e.Emit(container.OpNeg)
		} else {
			fc.e.Emit(container.OpBoolNot)
		}
		return nil

	case *ast.Compare:
		if x.Op != ast.CmpEq && x.Op != ast.CmpNe {
			if unsigned32(x.Left) || unsigned32(x.Right) {
				return fc.errf("expression", "unsigned 32-bit comparison is not supported")
			}
		}
		if err := fc.expr(x.Left); err != nil {
			return err
		}
		if err := fc.expr(x.Right); err != nil {
			return err
		}
		ops := [...]container.Opcode{
			ast.CmpEq: container.OpEq,
			ast.CmpNe: container.OpNe,
			ast.CmpLt: container.OpLt,
			ast.CmpLe: container.OpLe,
			ast.CmpGt: container.OpGt,
			ast.CmpGe: container.OpGe,
		}
		fc.e.Emit(ops[x.Op])
		return nil

	case *ast.Logical:
		if err := fc.expr(x.Left); err != nil {
			return err
		}
		if err := fc.expr(x.Right); err != nil {
			return err
		}
		switch x.Op {
		case ast.LogAnd:
			fc.e.Emit(container.OpBoolAnd)
		case ast.LogOr:
			fc.e.Emit(container.OpBoolOr)
		case ast.LogXor:
			fc.e.Emit(container.OpBoolXor)
		}
		return nil

	case *ast.Call:
		fnID, ok := fc.c.funcIDs[x.Callee]
		if !ok {
			return fc.errf("call", "unknown function %q", x.Callee)
		}
		for _, a := range x.Args {
			if err := fc.expr(a); err != nil {
				return err
			}
		}
		fc.e.EmitCall(fnID, len(x.Args), x.ResultType != ast.TypeNone)
		return nil
	}
	return fc.errf("expression", "unknown node %T", x)
}

// load pushes the variable the reference names. Slot resolution
// depends on the body being compiled: function locals, instance state
// or the global variable table.
func (fc *funcCompiler) load(r *ast.VarRef) error {
	slot, local, err := fc.resolve(r)
	if err != nil {
		return err
	}
	if local {
		fc.e.EmitU16(container.OpLoadLocal, slot)
	} else {
		fc.e.EmitU16(container.OpLoadVar, slot)
	}
	return nil
}

func (fc *funcCompiler) store(r *ast.VarRef) error {
	slot, local, err := fc.resolve(r)
	if err != nil {
		return err
	}
	if local {
		fc.e.EmitU16(container.OpStoreLocal, slot)
	} else {
		fc.e.EmitU16(container.OpStoreVar, slot)
	}
	return nil
}

func (fc *funcCompiler) resolve(r *ast.VarRef) (uint16, bool, error) {
	if fc.plan.instanceOf != nil {
		// Instance body: every POU variable is a state slot.
		return fc.plan.base + uint16(r.Index), false, nil
	}
	switch fc.plan.pou.Kind {
	case ast.PouFunction:
		slot, ok := fc.locals[r.Index]
		if !ok {
			return 0, false, fc.errf("variable", "unresolved local %q (index %d)", r.Name, r.Index)
		}
		return slot, true, nil
	case ast.PouProgram:
		slot, ok := fc.c.pouSlots[fc.plan.pou.Name][r.Index]
		if !ok {
			return 0, false, fc.errf("variable", "unresolved variable %q (index %d)", r.Name, r.Index)
		}
		return slot, false, nil
	}
	return 0, false, fc.errf("variable", "reference in unsupported POU kind %v", fc.plan.pou.Kind)
}

// unsigned32 reports whether x is an unsigned integer of full 32-bit
// storage. Comparison and division opcodes run signed, so a value with
// the sign bit set would order and divide as a negative number; the
// generator rejects those operands instead of producing wrong code.
// Narrower unsigned types are safe: truncation keeps them in range.
func unsigned32(x ast.Expr) bool {
	info, ok := x.Type().Info()
	return ok && info.Integer && !info.Signed && info.StorageBits == 32
}

// trunc narrows the value on top of the stack to the target type's
// storage width. 32-bit and BOOL stores need no narrowing.
func (fc *funcCompiler) trunc(t ast.Type) {
	switch t {
	case ast.TypeSint:
		fc.e.Emit(container.OpTruncI8)
	case ast.TypeUsint:
		fc.e.Emit(container.OpTruncU8)
	case ast.TypeInt:
		fc.e.Emit(container.OpTruncI16)
	case ast.TypeUint:
		fc.e.Emit(container.OpTruncU16)
	}
}
