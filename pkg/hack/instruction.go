package hack

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// MaxAddress is the largest value an address-load can carry: the top bit of an
// A-instruction word is the opcode bit.
const MaxAddress = 1<<15 - 1

// Instruction is one line of Hack assembly.
type Instruction interface {
	isInstruction()
	String() string
}

// Location is the operand of an address-load.
type Location interface {
	isLocation()
	String() string
}

// Address is a raw numeric address or constant.
type Address uint16

// Symbol is a label, variable or predefined name resolved by the assembler.
type Symbol string

func (Address) isLocation() {}
func (Symbol) isLocation()  {}

func (a Address) String() string { return strconv.FormatUint(uint64(a), 10) }
func (s Symbol) String() string  { return string(s) }

// AddressLoad is `@location`.
type AddressLoad struct{ Loc Location }

// Compute is `dest=comp;jump`. Dest and Jump are optional (zero values).
type Compute struct {
	Dest Dest
	Comp Comp
	Jump Jump
}

// Label is `(name)`. It occupies no slot in the assembled program.
type Label struct{ Name string }

func (AddressLoad) isInstruction() {}
func (Compute) isInstruction()     {}
func (Label) isInstruction()       {}

func (i AddressLoad) String() string { return "@" + i.Loc.String() }
func (i Label) String() string       { return "(" + i.Name + ")" }

func (i Compute) String() string {
	var sb strings.Builder
	if i.Dest != DestNone {
		sb.WriteString(i.Dest.String())
		sb.WriteByte('=')
	}
	sb.WriteString(i.Comp.String())
	if i.Jump != JumpNone {
		sb.WriteByte(';')
		sb.WriteString(i.Jump.String())
	}
	return sb.String()
}

// A builds an address-load of a numeric address.
func A(addr uint16) AddressLoad { return AddressLoad{Loc: Address(addr)} }

// At builds an address-load of a symbol.
func At(sym string) AddressLoad { return AddressLoad{Loc: Symbol(sym)} }

// C builds a compute instruction.
func C(dest Dest, comp Comp, jump Jump) Compute { return Compute{Dest: dest, Comp: comp, Jump: jump} }

// Assign builds `dest=comp`.
func Assign(dest Dest, comp Comp) Compute { return Compute{Dest: dest, Comp: comp} }

// Branch builds `comp;jump`.
func Branch(comp Comp, jump Jump) Compute { return Compute{Comp: comp, Jump: jump} }

// ParseError reports a line that is not a well-formed instruction.
type ParseError struct {
	Input string
	Msg   string
}

func (e *ParseError) Error() string { return fmt.Sprintf("invalid instruction %q: %s", e.Input, e.Msg) }

func errorf(input, format string, args ...any) error {
	return &ParseError{Input: input, Msg: fmt.Sprintf(format, args...)}
}

// Parse reads a single instruction. Surrounding whitespace is ignored, as is
// whitespace inside a compute instruction.
func Parse(s string) (Instruction, error) {
	line := strings.TrimSpace(s)
	if line == "" {
		return nil, errorf(s, "empty instruction")
	}

	switch line[0] {
	case '@':
		loc, err := parseLocation(strings.TrimSpace(line[1:]))
		if err != nil {
			return nil, errorf(s, "%v", err)
		}
		return AddressLoad{Loc: loc}, nil
	case '(':
		name, ok := strings.CutSuffix(line[1:], ")")
		name = strings.TrimSpace(name)
		if !ok || !isSymbol(name) {
			return nil, errorf(s, "malformed label definition")
		}
		return Label{Name: name}, nil
	}

	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, line)

	var inst Compute
	rest := compact
	if lhs, rhs, ok := strings.Cut(rest, "="); ok {
		dest, err := ParseDest(lhs)
		if err != nil {
			return nil, errorf(s, "%v", err)
		}
		inst.Dest, rest = dest, rhs
	}
	if lhs, rhs, ok := strings.Cut(rest, ";"); ok {
		jump, err := ParseJump(rhs)
		if err != nil {
			return nil, errorf(s, "%v", err)
		}
		inst.Jump, rest = jump, lhs
	}
	comp, err := ParseComp(rest)
	if err != nil {
		return nil, errorf(s, "%v", err)
	}
	inst.Comp = comp
	return inst, nil
}

// MustParse is Parse for instruction text known to be valid.
func MustParse(s string) Instruction {
	inst, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return inst
}

func parseLocation(target string) (Location, error) {
	if target == "" {
		return nil, fmt.Errorf("missing address")
	}
	if target[0] >= '0' && target[0] <= '9' {
		n, err := strconv.ParseUint(target, 10, 16)
		if err != nil || n > MaxAddress {
			return nil, fmt.Errorf("address %q is not in 0..%d", target, MaxAddress)
		}
		return Address(n), nil
	}
	if reg, ok := strings.CutPrefix(target, "R"); ok && reg != "" && isDigits(reg) {
		n, err := strconv.Atoi(reg)
		if err != nil || n >= NumRegisters {
			return nil, fmt.Errorf("register %q is not in R0..R%d", target, NumRegisters-1)
		}
	}
	if !isSymbol(target) {
		return nil, fmt.Errorf("invalid symbol %q", target)
	}
	return Symbol(target), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// isSymbol reports whether s is a legal Hack symbol: letters, digits and
// `_ . $ :`, not starting with a digit.
func isSymbol(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '.', r == '$', r == ':':
		default:
			return false
		}
	}
	return true
}

// IsSymbol reports whether name may be used as a label or variable.
func IsSymbol(name string) bool { return isSymbol(name) }
