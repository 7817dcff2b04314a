package hack

import (
	"fmt"
	"strings"
)

// Fixed memory map of the machine.
const (
	SP   = 0
	LCL  = 1
	ARG  = 2
	THIS = 3
	THAT = 4

	NumRegisters    = 16
	VariableBase    = 16
	ScreenAddress   = 16384
	KeyboardAddress = 24576
)

// Predefined returns the address the assembler binds a predefined symbol to.
func Predefined(name string) (uint16, bool) {
	addr, ok := predefined[name]
	return addr, ok
}

// IsReserved reports whether name is a predefined symbol or has the form of
// a register name (R followed by digits), which the assembler never binds to
// a label.
func IsReserved(name string) bool {
	if _, ok := predefined[name]; ok {
		return true
	}
	reg, ok := strings.CutPrefix(name, "R")
	return ok && reg != "" && isDigits(reg)
}

var predefined = map[string]uint16{
	"SP":     SP,
	"LCL":    LCL,
	"ARG":    ARG,
	"THIS":   THIS,
	"THAT":   THAT,
	"SCREEN": ScreenAddress,
	"KBD":    KeyboardAddress,
}

func init() {
	for i := 0; i < NumRegisters; i++ {
		predefined[fmt.Sprintf("R%d", i)] = uint16(i)
	}
}

// Encode produces the 16-bit machine word for an address-load or compute
// instruction. Symbols are resolved through resolve. Labels have no encoding.
func Encode(inst Instruction, resolve func(Symbol) uint16) (uint16, error) {
	switch i := inst.(type) {
	case AddressLoad:
		switch loc := i.Loc.(type) {
		case Address:
			if loc > MaxAddress {
				return 0, fmt.Errorf("address %d does not fit in an A-instruction", loc)
			}
			return uint16(loc), nil
		case Symbol:
			return resolve(loc) & MaxAddress, nil
		default:
			return 0, fmt.Errorf("unknown location %T", i.Loc)
		}
	case Compute:
		if i.Comp >= CompCount || i.Jump >= JumpCount || i.Dest > DestAMD {
			return 0, fmt.Errorf("malformed compute instruction %v", i)
		}
		return 0b111<<13 | i.Comp.Bits()<<6 | uint16(i.Dest)<<3 | uint16(i.Jump), nil
	case Label:
		return 0, fmt.Errorf("label %q has no machine encoding", i.Name)
	default:
		return 0, fmt.Errorf("unknown instruction %T", inst)
	}
}
