package vm

import (
	"fmt"

	"github.com/xplshn/vmt/pkg/hack"
)

// Region is a named VM memory segment.
type Region int

const (
	Constant Region = iota
	Pointer
	Temp
	Static
	Local
	Argument
	This
	That
	RegionCount
)

var regionNames = [RegionCount]string{"constant", "pointer", "temp", "static", "local", "argument", "this", "that"}

func (r Region) String() string {
	if r < 0 || r >= RegionCount {
		return fmt.Sprintf("Region(%d)", int(r))
	}
	return regionNames[r]
}

// ParseRegion maps the lower-case segment name to its Region.
func ParseRegion(s string) (Region, bool) {
	for r := Constant; r < RegionCount; r++ {
		if regionNames[r] == s {
			return r, true
		}
	}
	return 0, false
}

// Fixed segment bases and sizes.
const (
	PointerBase = hack.THIS
	PointerSize = 2
	TempBase    = 5
	TempSize    = 8
	StaticBase  = hack.VariableBase
	StaticLimit = 240
)

// OffsetKind describes how a segment index becomes a physical address.
type OffsetKind interface {
	isOffsetKind()
}

// ConstantOffset: there is no address, the index is the value.
type ConstantOffset struct{}

// FixedOffset: address = Base + index, known at translation time.
type FixedOffset struct{ Base uint16 }

// DynamicOffset: address = RAM[Cell] + index, through a segment pointer.
type DynamicOffset struct{ Cell uint16 }

func (ConstantOffset) isOffsetKind() {}
func (FixedOffset) isOffsetKind()    {}
func (DynamicOffset) isOffsetKind()  {}

// Offset resolves a region. staticBase is the number of static cells already
// claimed by earlier units and only affects Static.
func (r Region) Offset(staticBase uint16) OffsetKind {
	switch r {
	case Constant:
		return ConstantOffset{}
	case Pointer:
		return FixedOffset{Base: PointerBase}
	case Temp:
		return FixedOffset{Base: TempBase}
	case Static:
		return FixedOffset{Base: StaticBase + staticBase}
	case Local:
		return DynamicOffset{Cell: hack.LCL}
	case Argument:
		return DynamicOffset{Cell: hack.ARG}
	case This:
		return DynamicOffset{Cell: hack.THIS}
	case That:
		return DynamicOffset{Cell: hack.THAT}
	default:
		panic(fmt.Sprintf("vm: offset of unknown region %d", int(r)))
	}
}

// Size returns the number of addressable slots of a fixed-size segment, or 0
// when the segment is unbounded from the translator's point of view.
func (r Region) Size() int {
	switch r {
	case Pointer:
		return PointerSize
	case Temp:
		return TempSize
	case Static:
		return StaticLimit
	default:
		return 0
	}
}
