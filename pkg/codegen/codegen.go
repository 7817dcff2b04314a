package codegen

import (
	"errors"
	"fmt"

	"github.com/xplshn/vmt/pkg/config"
	"github.com/xplshn/vmt/pkg/hack"
	"github.com/xplshn/vmt/pkg/vm"
)

// Scratch cells. Nothing is live in them across opcodes.
const (
	popValueCell   = "R13"
	popAddressCell = "R14"
	frameCell      = "R13"
	returnCell     = "R14"
)

// frameSize is the number of cells a call saves below the callee's locals:
// return address, LCL, ARG, THIS, THAT.
const frameSize = 5

var (
	ErrPopConstant       = errors.New("cannot pop into the constant segment")
	ErrIndexOutOfRange   = errors.New("segment index out of range")
	ErrConstantTooLarge  = errors.New("constant does not fit in an A-instruction")
	ErrInvalidSymbol     = errors.New("not a valid assembly symbol")
	ErrDuplicateFunction = errors.New("function is already defined")
)

// GenerationError reports an opcode that parsed but cannot be translated.
type GenerationError struct {
	Op  vm.OpCode
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("cannot translate '%v': %v", e.Op, e.Err) }

func (e *GenerationError) Unwrap() error { return e.Err }

var comparisonJumps = map[vm.ArithOp]hack.Jump{
	vm.Eq: hack.JEQ,
	vm.Lt: hack.JLT,
	vm.Le: hack.JLE,
	vm.Gt: hack.JGT,
	vm.Ge: hack.JGE,
}

var combineComps = map[vm.ArithOp]hack.Comp{
	vm.Add: hack.CompDPlusM,
	vm.Sub: hack.CompDPlusM,
	vm.And: hack.CompDAndM,
	vm.Or:  hack.CompDOrM,
}

// Context carries the state shared by every opcode of a run: the label
// authority, the unit being translated and its static base, and the
// function the current opcode belongs to.
type Context struct {
	cfg        *config.Config
	labels     *Labels
	unit       string
	function   string
	staticBase uint16
	out        []hack.Instruction
}

func NewContext(cfg *config.Config, labels *Labels) *Context {
	if labels == nil {
		labels = NewLabels()
	}
	return &Context{cfg: cfg, labels: labels}
}

// EnterUnit starts a new unit whose static segment begins staticBase cells
// past vm.StaticBase.
func (ctx *Context) EnterUnit(name string, staticBase uint16) {
	ctx.unit = name
	ctx.function = ""
	ctx.staticBase = staticBase
}

// Scope is the namespace VM labels are currently resolved in.
func (ctx *Context) Scope() string {
	if ctx.function != "" {
		return ctx.function
	}
	return ctx.unit
}

func (ctx *Context) Labels() *Labels { return ctx.labels }

// Generate translates a single opcode. On error nothing is emitted.
func (ctx *Context) Generate(op vm.OpCode) ([]hack.Instruction, error) {
	ctx.out = nil
	var err error
	switch o := op.(type) {
	case vm.Push:
		err = ctx.codegenPush(o)
	case vm.Pop:
		err = ctx.codegenPop(o)
	case vm.Arithmetic:
		ctx.codegenArithmetic(o.Op)
	case vm.Label:
		err = ctx.codegenLabel(o.Name)
	case vm.Goto:
		err = ctx.codegenGoto(o.Name)
	case vm.IfGoto:
		err = ctx.codegenIfGoto(o.Name)
	case vm.Function:
		ctx.function = o.Name
		err = ctx.codegenFunction(o)
	case vm.Call:
		err = ctx.codegenCall(o.Name, o.Args)
	case vm.Return:
		ctx.codegenReturn()
	default:
		panic(fmt.Sprintf("codegen: unhandled opcode %T", op))
	}
	if err != nil {
		ctx.out = nil
		return nil, &GenerationError{Op: op, Err: err}
	}
	return ctx.out, nil
}

// Bootstrap sets the stack pointer to the configured stack base and calls
// the configured entry point with no arguments.
func (ctx *Context) Bootstrap() ([]hack.Instruction, error) {
	ctx.out = nil
	saved := ctx.function
	ctx.function = "bootstrap"
	defer func() { ctx.function = saved }()

	ctx.addInstr(
		hack.A(ctx.cfg.StackBase),
		hack.Assign(hack.DestD, hack.CompA),
		hack.At("SP"),
		hack.Assign(hack.DestM, hack.CompD),
	)
	if err := ctx.codegenCall(ctx.cfg.EntryPoint, 0); err != nil {
		return nil, &GenerationError{Op: vm.Call{Name: ctx.cfg.EntryPoint}, Err: err}
	}
	if ctx.cfg.IsFeatureEnabled(config.FeatHaltLoop) {
		halt := ctx.labels.Next()
		ctx.addInstr(hack.Label{Name: halt}, hack.At(halt), hack.Branch(hack.CompZero, hack.JMP))
	}
	return ctx.out, nil
}

func (ctx *Context) addInstr(insts ...hack.Instruction) { ctx.out = append(ctx.out, insts...) }

func (ctx *Context) incrementStack() {
	ctx.addInstr(hack.At("SP"), hack.Assign(hack.DestM, hack.CompMPlus1))
}

func (ctx *Context) decrementStack() {
	ctx.addInstr(hack.At("SP"), hack.Assign(hack.DestM, hack.CompMMinus1))
}

// readHead loads the cell SP points at into D. A must still hold SP.
func (ctx *Context) readHead() {
	ctx.addInstr(hack.Assign(hack.DestA, hack.CompM), hack.Assign(hack.DestD, hack.CompM))
}

func (ctx *Context) readNegatedHead() {
	ctx.addInstr(hack.Assign(hack.DestA, hack.CompM), hack.Assign(hack.DestD, hack.CompNegM))
}

func (ctx *Context) writeHead() {
	ctx.addInstr(hack.At("SP"), hack.Assign(hack.DestA, hack.CompM), hack.Assign(hack.DestM, hack.CompD))
}

func (ctx *Context) pushD() {
	ctx.writeHead()
	ctx.incrementStack()
}

func (ctx *Context) codegenPush(o vm.Push) error {
	offset, err := ctx.resolve(o.Region, o.Index)
	if err != nil {
		return err
	}
	switch off := offset.(type) {
	case vm.ConstantOffset:
		ctx.addInstr(hack.A(o.Index), hack.Assign(hack.DestD, hack.CompA))
	case vm.FixedOffset:
		ctx.addInstr(hack.A(off.Base+o.Index), hack.Assign(hack.DestD, hack.CompM))
	case vm.DynamicOffset:
		ctx.addInstr(
			hack.A(off.Cell),
			hack.Assign(hack.DestD, hack.CompM),
			hack.A(o.Index),
			hack.Assign(hack.DestD, hack.CompDPlusA),
			hack.Assign(hack.DestA, hack.CompD),
			hack.Assign(hack.DestD, hack.CompM),
		)
	}
	ctx.pushD()
	return nil
}

func (ctx *Context) codegenPop(o vm.Pop) error {
	offset, err := ctx.resolve(o.Region, o.Index)
	if err != nil {
		return err
	}
	switch off := offset.(type) {
	case vm.ConstantOffset:
		return ErrPopConstant
	case vm.FixedOffset:
		ctx.decrementStack()
		ctx.readHead()
		ctx.addInstr(hack.A(off.Base+o.Index), hack.Assign(hack.DestM, hack.CompD))
	case vm.DynamicOffset:
		ctx.decrementStack()
		ctx.readHead()
		ctx.addInstr(
			hack.At(popValueCell),
			hack.Assign(hack.DestM, hack.CompD),
			hack.A(off.Cell),
			hack.Assign(hack.DestD, hack.CompM),
			hack.A(o.Index),
			hack.Assign(hack.DestD, hack.CompDPlusA),
			hack.At(popAddressCell),
			hack.Assign(hack.DestM, hack.CompD),
			hack.At(popValueCell),
			hack.Assign(hack.DestD, hack.CompM),
			hack.At(popAddressCell),
			hack.Assign(hack.DestA, hack.CompM),
			hack.Assign(hack.DestM, hack.CompD),
		)
	}
	return nil
}

// resolve checks index against the bounds of region before returning its
// addressing mode.
func (ctx *Context) resolve(region vm.Region, index uint16) (vm.OffsetKind, error) {
	if region < 0 || region >= vm.RegionCount {
		return nil, fmt.Errorf("%w: unknown segment %d", ErrIndexOutOfRange, int(region))
	}
	switch region {
	case vm.Constant:
		if index > hack.MaxAddress {
			return nil, fmt.Errorf("%w: %d > %d", ErrConstantTooLarge, index, hack.MaxAddress)
		}
	case vm.Static:
		if int(ctx.staticBase)+int(index) >= vm.StaticLimit {
			return nil, fmt.Errorf("%w: static %d with %d cells claimed by earlier units exceeds %d cells",
				ErrIndexOutOfRange, index, ctx.staticBase, vm.StaticLimit)
		}
	default:
		if size := region.Size(); size > 0 && int(index) >= size {
			return nil, fmt.Errorf("%w: %v %d, segment has %d cells", ErrIndexOutOfRange, region, index, size)
		}
		if index > hack.MaxAddress {
			return nil, fmt.Errorf("%w: %v %d", ErrIndexOutOfRange, region, index)
		}
	}
	return region.Offset(ctx.staticBase), nil
}

func (ctx *Context) codegenArithmetic(op vm.ArithOp) {
	switch {
	case op == vm.Neg || op == vm.Not:
		comp := hack.CompNegM
		if op == vm.Not {
			comp = hack.CompNotM
		}
		ctx.decrementStack()
		ctx.addInstr(hack.Assign(hack.DestA, hack.CompM), hack.Assign(hack.DestD, comp))
		ctx.pushD()
	case op.IsComparison():
		ctx.combineTopTwo(true, hack.CompDPlusM)
		onTrue, next := ctx.labels.Next(), ctx.labels.Next()
		ctx.addInstr(
			hack.At(onTrue),
			hack.Branch(hack.CompD, comparisonJumps[op]),
			hack.Assign(hack.DestD, hack.CompZero),
			hack.At(next),
			hack.Branch(hack.CompZero, hack.JMP),
			hack.Label{Name: onTrue},
			hack.Assign(hack.DestD, hack.CompMinusOne),
			hack.Label{Name: next},
		)
		ctx.pushD()
	default:
		comp, ok := combineComps[op]
		if !ok {
			panic(fmt.Sprintf("codegen: unhandled arithmetic %v", op))
		}
		ctx.combineTopTwo(op == vm.Sub, comp)
		ctx.pushD()
	}
}

// combineTopTwo pops y then x and leaves comp applied to (y or -y, x) in D.
func (ctx *Context) combineTopTwo(negate bool, comp hack.Comp) {
	ctx.decrementStack()
	if negate {
		ctx.readNegatedHead()
	} else {
		ctx.readHead()
	}
	ctx.decrementStack()
	ctx.addInstr(hack.Assign(hack.DestA, hack.CompM), hack.Assign(hack.DestD, comp))
}

// checkScope fails when the current scope cannot prefix an assembly label,
// e.g. a unit named after a file such as my-prog.vm.
func (ctx *Context) checkScope() error {
	if scope := ctx.Scope(); !hack.IsSymbol(scope) {
		return fmt.Errorf("%w: scope %q cannot prefix a label", ErrInvalidSymbol, scope)
	}
	return nil
}

func checkFunctionName(name string) error {
	if !hack.IsSymbol(name) {
		return fmt.Errorf("%w: function %q", ErrInvalidSymbol, name)
	}
	if hack.IsReserved(name) {
		return fmt.Errorf("%w: function %q clashes with a predefined symbol", ErrInvalidSymbol, name)
	}
	return nil
}

func (ctx *Context) vmLabel(name string) (string, error) {
	if !hack.IsSymbol(name) {
		return "", fmt.Errorf("%w: label %q", ErrInvalidSymbol, name)
	}
	if err := ctx.checkScope(); err != nil {
		return "", err
	}
	return ctx.labels.Scoped(ctx.unit, ctx.Scope(), name), nil
}

func (ctx *Context) codegenLabel(name string) error {
	label, err := ctx.vmLabel(name)
	if err != nil {
		return err
	}
	ctx.addInstr(hack.Label{Name: label})
	return nil
}

func (ctx *Context) codegenGoto(name string) error {
	label, err := ctx.vmLabel(name)
	if err != nil {
		return err
	}
	ctx.addInstr(hack.At(label), hack.Branch(hack.CompZero, hack.JMP))
	return nil
}

func (ctx *Context) codegenIfGoto(name string) error {
	label, err := ctx.vmLabel(name)
	if err != nil {
		return err
	}
	ctx.decrementStack()
	ctx.readHead()
	ctx.addInstr(hack.At(label), hack.Branch(hack.CompD, hack.JNE))
	return nil
}

func (ctx *Context) codegenFunction(o vm.Function) error {
	if err := checkFunctionName(o.Name); err != nil {
		return err
	}
	if !ctx.labels.Function(o.Name) {
		return fmt.Errorf("%w: %q", ErrDuplicateFunction, o.Name)
	}
	ctx.addInstr(hack.Label{Name: o.Name})
	if o.Locals == 0 {
		return nil
	}
	// pushD leaves D untouched, so one zero serves every local.
	ctx.addInstr(hack.Assign(hack.DestD, hack.CompZero))
	for i := uint16(0); i < o.Locals; i++ {
		ctx.pushD()
	}
	return nil
}

func (ctx *Context) codegenCall(name string, args uint16) error {
	if err := checkFunctionName(name); err != nil {
		return err
	}
	if err := ctx.checkScope(); err != nil {
		return err
	}
	if int(args)+frameSize > hack.MaxAddress {
		return fmt.Errorf("%w: %d arguments", ErrIndexOutOfRange, args)
	}
	ret := ctx.labels.ReturnAddress(ctx.Scope())

	ctx.addInstr(hack.At(ret), hack.Assign(hack.DestD, hack.CompA))
	ctx.pushD()
	for _, cell := range []string{"LCL", "ARG", "THIS", "THAT"} {
		ctx.addInstr(hack.At(cell), hack.Assign(hack.DestD, hack.CompM))
		ctx.pushD()
	}
	ctx.addInstr(
		// ARG = SP - 5 - args
		hack.At("SP"),
		hack.Assign(hack.DestD, hack.CompM),
		hack.A(args+frameSize),
		hack.Assign(hack.DestD, hack.CompDMinusA),
		hack.At("ARG"),
		hack.Assign(hack.DestM, hack.CompD),
		// LCL = SP
		hack.At("SP"),
		hack.Assign(hack.DestD, hack.CompM),
		hack.At("LCL"),
		hack.Assign(hack.DestM, hack.CompD),
		hack.At(name),
		hack.Branch(hack.CompZero, hack.JMP),
		hack.Label{Name: ret},
	)
	return nil
}

func (ctx *Context) codegenReturn() {
	ctx.addInstr(
		// frame = LCL
		hack.At("LCL"),
		hack.Assign(hack.DestD, hack.CompM),
		hack.At(frameCell),
		hack.Assign(hack.DestM, hack.CompD),
		// ret = *(frame-5), read before *ARG is overwritten
		hack.A(frameSize),
		hack.Assign(hack.DestA, hack.CompDMinusA),
		hack.Assign(hack.DestD, hack.CompM),
		hack.At(returnCell),
		hack.Assign(hack.DestM, hack.CompD),
	)
	ctx.decrementStack()
	ctx.readHead()
	ctx.addInstr(
		hack.At("ARG"),
		hack.Assign(hack.DestA, hack.CompM),
		hack.Assign(hack.DestM, hack.CompD),
		// SP = ARG + 1
		hack.At("ARG"),
		hack.Assign(hack.DestD, hack.CompMPlus1),
		hack.At("SP"),
		hack.Assign(hack.DestM, hack.CompD),
	)
	for _, cell := range []string{"THAT", "THIS", "ARG", "LCL"} {
		ctx.addInstr(
			hack.At(frameCell),
			hack.Assign(hack.DestAM, hack.CompMMinus1),
			hack.Assign(hack.DestD, hack.CompM),
			hack.At(cell),
			hack.Assign(hack.DestM, hack.CompD),
		)
	}
	ctx.addInstr(
		hack.At(returnCell),
		hack.Assign(hack.DestA, hack.CompM),
		hack.Branch(hack.CompZero, hack.JMP),
	)
}
