package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// OpCode is one VM instruction.
type OpCode interface {
	isOpCode()
	String() string
}

// Push copies Region[Index] onto the stack.
type Push struct {
	Region Region
	Index  uint16
}

// Pop moves the top of the stack into Region[Index].
type Pop struct {
	Region Region
	Index  uint16
}

// Function starts a function body and reserves Locals zeroed local slots.
type Function struct {
	Name   string
	Locals uint16
}

// Call invokes Name after Args arguments have been pushed.
type Call struct {
	Name string
	Args uint16
}

type Return struct{}

type Label struct{ Name string }

type Goto struct{ Name string }

// IfGoto pops the stack and jumps when the popped value is not zero.
type IfGoto struct{ Name string }

// Arithmetic is any of the stack ALU/comparison opcodes.
type Arithmetic struct{ Op ArithOp }

type ArithOp int

const (
	Add ArithOp = iota
	Sub
	Neg
	Eq
	Lt
	Le
	Gt
	Ge
	And
	Or
	Not
	ArithCount
)

var arithNames = [ArithCount]string{"add", "sub", "neg", "eq", "lt", "le", "gt", "ge", "and", "or", "not"}

func (op ArithOp) String() string {
	if op < 0 || op >= ArithCount {
		return fmt.Sprintf("ArithOp(%d)", int(op))
	}
	return arithNames[op]
}

// IsComparison reports whether op pushes a boolean.
func (op ArithOp) IsComparison() bool { return op >= Eq && op <= Ge }

// IsUnary reports whether op consumes a single operand.
func (op ArithOp) IsUnary() bool { return op == Neg || op == Not }

func (Push) isOpCode()       {}
func (Pop) isOpCode()        {}
func (Function) isOpCode()   {}
func (Call) isOpCode()       {}
func (Return) isOpCode()     {}
func (Label) isOpCode()      {}
func (Goto) isOpCode()       {}
func (IfGoto) isOpCode()     {}
func (Arithmetic) isOpCode() {}

func (o Push) String() string       { return fmt.Sprintf("push %v %d", o.Region, o.Index) }
func (o Pop) String() string        { return fmt.Sprintf("pop %v %d", o.Region, o.Index) }
func (o Function) String() string   { return fmt.Sprintf("function %s %d", o.Name, o.Locals) }
func (o Call) String() string       { return fmt.Sprintf("call %s %d", o.Name, o.Args) }
func (Return) String() string       { return "return" }
func (o Label) String() string      { return "label " + o.Name }
func (o Goto) String() string       { return "goto " + o.Name }
func (o IfGoto) String() string     { return "if-goto " + o.Name }
func (o Arithmetic) String() string { return o.Op.String() }

// StackEffect is the net change of the stack pointer caused by op. Call
// reports the effect seen by the caller once the callee has returned.
func StackEffect(op OpCode) int {
	switch o := op.(type) {
	case Push:
		return 1
	case Pop, IfGoto:
		return -1
	case Function:
		return int(o.Locals)
	case Call:
		return 1 - int(o.Args)
	case Arithmetic:
		if o.Op.IsUnary() {
			return 0
		}
		return -1
	default:
		return 0
	}
}

// ParseErrorKind classifies opcode parse failures.
type ParseErrorKind int

const (
	ErrUnknownMnemonic ParseErrorKind = iota
	ErrArgumentCount
	ErrRegion
	ErrIndex
)

func (k ParseErrorKind) String() string {
	switch k {
	case ErrUnknownMnemonic:
		return "unknown mnemonic"
	case ErrArgumentCount:
		return "wrong argument count"
	case ErrRegion:
		return "invalid segment"
	case ErrIndex:
		return "invalid integer operand"
	default:
		return fmt.Sprintf("ParseErrorKind(%d)", int(k))
	}
}

// ParseError is returned by ParseOpCode. Input holds the offending text: the
// whole line for arity errors, the offending word otherwise.
type ParseError struct {
	Kind  ParseErrorKind
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v %q: %v", e.Kind, e.Input, e.Err)
	}
	return fmt.Sprintf("%v %q", e.Kind, e.Input)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is matches another *ParseError of the same kind, so callers can test with
// errors.Is(err, &vm.ParseError{Kind: vm.ErrRegion}).
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Kind == e.Kind && (t.Input == "" || t.Input == e.Input)
}

type operands int

const (
	noOperand operands = iota
	nameOperand
	nameCountOperands
	segmentOperands
)

func (o operands) count() int {
	switch o {
	case nameOperand:
		return 1
	case nameCountOperands, segmentOperands:
		return 2
	default:
		return 0
	}
}

var mnemonics = map[string]operands{
	"push":     segmentOperands,
	"pop":      segmentOperands,
	"function": nameCountOperands,
	"call":     nameCountOperands,
	"return":   noOperand,
	"label":    nameOperand,
	"goto":     nameOperand,
	"if-goto":  nameOperand,
}

func init() {
	for op := Add; op < ArithCount; op++ {
		mnemonics[op.String()] = noOperand
	}
}

// ParseOpCode parses one comment-free, non-empty VM source line.
func ParseOpCode(line string) (OpCode, error) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil, &ParseError{Kind: ErrUnknownMnemonic, Input: line}
	}

	shape, ok := mnemonics[words[0]]
	if !ok {
		return nil, &ParseError{Kind: ErrUnknownMnemonic, Input: words[0]}
	}
	if want := shape.count(); len(words)-1 != want {
		return nil, &ParseError{
			Kind:  ErrArgumentCount,
			Input: strings.TrimSpace(line),
			Err:   fmt.Errorf("%s takes %d operand(s), got %d", words[0], want, len(words)-1),
		}
	}

	switch shape {
	case segmentOperands:
		region, ok := ParseRegion(words[1])
		if !ok {
			return nil, &ParseError{Kind: ErrRegion, Input: words[1]}
		}
		index, err := parseIndex(words[2])
		if err != nil {
			return nil, err
		}
		if words[0] == "push" {
			return Push{Region: region, Index: index}, nil
		}
		return Pop{Region: region, Index: index}, nil
	case nameCountOperands:
		n, err := parseIndex(words[2])
		if err != nil {
			return nil, err
		}
		if words[0] == "function" {
			return Function{Name: words[1], Locals: n}, nil
		}
		return Call{Name: words[1], Args: n}, nil
	case nameOperand:
		switch words[0] {
		case "label":
			return Label{Name: words[1]}, nil
		case "goto":
			return Goto{Name: words[1]}, nil
		default:
			return IfGoto{Name: words[1]}, nil
		}
	}

	if words[0] == "return" {
		return Return{}, nil
	}
	for op := Add; op < ArithCount; op++ {
		if op.String() == words[0] {
			return Arithmetic{Op: op}, nil
		}
	}
	return nil, &ParseError{Kind: ErrUnknownMnemonic, Input: words[0]}
}

func parseIndex(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok {
			err = ne.Err
		}
		return 0, &ParseError{Kind: ErrIndex, Input: s, Err: err}
	}
	return uint16(n), nil
}
