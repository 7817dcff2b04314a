package hack

import (
	"fmt"
	"strings"
)

// Dest is the destination bit-mask of a compute instruction.
type Dest uint8

const (
	DestNone Dest = 0
	DestM    Dest = 1 << 0
	DestD    Dest = 1 << 1
	DestA    Dest = 1 << 2
	DestMD        = DestM | DestD
	DestAM        = DestA | DestM
	DestAD        = DestA | DestD
	DestAMD       = DestA | DestM | DestD
)

var destNames = [8]string{"", "M", "D", "MD", "A", "AM", "AD", "AMD"}

func (d Dest) String() string {
	if d > DestAMD {
		return fmt.Sprintf("Dest(%d)", uint8(d))
	}
	return destNames[d]
}

// ParseDest accepts any non-empty combination of A, D and M, each at most once.
func ParseDest(s string) (Dest, error) {
	if s == "" {
		return DestNone, fmt.Errorf("empty destination")
	}
	var d Dest
	for _, r := range s {
		var bit Dest
		switch r {
		case 'A':
			bit = DestA
		case 'D':
			bit = DestD
		case 'M':
			bit = DestM
		default:
			return DestNone, fmt.Errorf("invalid destination %q", s)
		}
		if d&bit != 0 {
			return DestNone, fmt.Errorf("repeated register in destination %q", s)
		}
		d |= bit
	}
	return d, nil
}

// Comp is one of the 28 operations the ALU can compute.
type Comp uint8

const (
	CompZero Comp = iota
	CompOne
	CompMinusOne
	CompD
	CompA
	CompM
	CompNotD
	CompNotA
	CompNotM
	CompNegD
	CompNegA
	CompNegM
	CompDPlus1
	CompAPlus1
	CompMPlus1
	CompDMinus1
	CompAMinus1
	CompMMinus1
	CompDPlusA
	CompDPlusM
	CompDMinusA
	CompDMinusM
	CompAMinusD
	CompMMinusD
	CompDAndA
	CompDAndM
	CompDOrA
	CompDOrM
	CompCount
)

type compInfo struct {
	mnemonic string
	bits     uint16 // a c1 c2 c3 c4 c5 c6
}

var compTable = [CompCount]compInfo{
	CompZero:     {"0", 0b0101010},
	CompOne:      {"1", 0b0111111},
	CompMinusOne: {"-1", 0b0111010},
	CompD:        {"D", 0b0001100},
	CompA:        {"A", 0b0110000},
	CompM:        {"M", 0b1110000},
	CompNotD:     {"!D", 0b0001101},
	CompNotA:     {"!A", 0b0110001},
	CompNotM:     {"!M", 0b1110001},
	CompNegD:     {"-D", 0b0001111},
	CompNegA:     {"-A", 0b0110011},
	CompNegM:     {"-M", 0b1110011},
	CompDPlus1:   {"D+1", 0b0011111},
	CompAPlus1:   {"A+1", 0b0110111},
	CompMPlus1:   {"M+1", 0b1110111},
	CompDMinus1:  {"D-1", 0b0001110},
	CompAMinus1:  {"A-1", 0b0110010},
	CompMMinus1:  {"M-1", 0b1110010},
	CompDPlusA:   {"D+A", 0b0000010},
	CompDPlusM:   {"D+M", 0b1000010},
	CompDMinusA:  {"D-A", 0b0010011},
	CompDMinusM:  {"D-M", 0b1010011},
	CompAMinusD:  {"A-D", 0b0000111},
	CompMMinusD:  {"M-D", 0b1000111},
	CompDAndA:    {"D&A", 0b0000000},
	CompDAndM:    {"D&M", 0b1000000},
	CompDOrA:     {"D|A", 0b0010101},
	CompDOrM:     {"D|M", 0b1010101},
}

var compByMnemonic = make(map[string]Comp, CompCount)

func init() {
	for c := Comp(0); c < CompCount; c++ {
		compByMnemonic[compTable[c].mnemonic] = c
	}
}

func (c Comp) String() string {
	if c >= CompCount {
		return fmt.Sprintf("Comp(%d)", uint8(c))
	}
	return compTable[c].mnemonic
}

// Bits returns the seven `a c1..c6` bits of the operation.
func (c Comp) Bits() uint16 { return compTable[c].bits }

// ReadsMemory reports whether the operation uses M (the a-bit).
func (c Comp) ReadsMemory() bool { return compTable[c].bits&0b1000000 != 0 }

// ParseComp looks the mnemonic up in the fixed ALU table; anything else fails.
func ParseComp(s string) (Comp, error) {
	if c, ok := compByMnemonic[s]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("unknown ALU operation %q", s)
}

// Jump is the optional branch condition of a compute instruction.
type Jump uint8

const (
	JumpNone Jump = iota
	JGT
	JEQ
	JGE
	JLT
	JNE
	JLE
	JMP
	JumpCount
)

var jumpNames = [JumpCount]string{"", "JGT", "JEQ", "JGE", "JLT", "JNE", "JLE", "JMP"}

func (j Jump) String() string {
	if j >= JumpCount {
		return fmt.Sprintf("Jump(%d)", uint8(j))
	}
	return jumpNames[j]
}

// ParseJump looks the mnemonic up in the fixed jump table.
func ParseJump(s string) (Jump, error) {
	for j := JGT; j < JumpCount; j++ {
		if jumpNames[j] == s {
			return j, nil
		}
	}
	return JumpNone, fmt.Errorf("unknown jump %q", strings.TrimSpace(s))
}
