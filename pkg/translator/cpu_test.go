package translator_test

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xplshn/vmt/pkg/asm"
	"github.com/xplshn/vmt/pkg/codegen"
	"github.com/xplshn/vmt/pkg/config"
	"github.com/xplshn/vmt/pkg/ir"
)

// cpu is a Hack computer without screen or keyboard, enough to run
// translated programs in tests.
type cpu struct {
	rom    []uint16
	ram    [1 << 15]int16
	a, d   int16
	pc     int
	halted bool
}

// load assembles prog from its textual form, the same path `vmt` output
// takes through a standalone assembler.
func load(prog *ir.Program, cfg *config.Config) (*cpu, error) {
	text, err := codegen.NewAsmBackend().Generate(prog, cfg)
	if err != nil {
		return nil, err
	}
	src := text.String()
	var bin bytes.Buffer
	if err := asm.Assemble(strings.NewReader(src), &bin); err != nil {
		return nil, fmt.Errorf("%w\n%s", err, src)
	}
	c := &cpu{}
	scanner := bufio.NewScanner(&bin)
	for scanner.Scan() {
		word, err := strconv.ParseUint(strings.TrimSpace(scanner.Text()), 2, 16)
		if err != nil {
			return nil, err
		}
		c.rom = append(c.rom, uint16(word))
	}
	return c, nil
}

// run executes until the program falls off the end of ROM, parks in a
// two-instruction self loop, or maxSteps is exhausted.
func (c *cpu) run(maxSteps int) error {
	for step := 0; step < maxSteps; step++ {
		if c.pc < 0 || c.pc >= len(c.rom) || c.halted {
			return nil
		}
		c.step()
	}
	if c.halted || c.pc >= len(c.rom) {
		return nil
	}
	return fmt.Errorf("still running at pc=%d after %d steps", c.pc, maxSteps)
}

func (c *cpu) step() {
	w := c.rom[c.pc]
	if w&0x8000 == 0 {
		c.a = int16(w)
		c.pc++
		return
	}

	y := c.a
	if w&0x1000 != 0 {
		y = c.ram[uint16(c.a)&0x7fff]
	}
	out := alu(c.d, y, (w>>6)&0x3f)

	addr := uint16(c.a) & 0x7fff
	target := int(uint16(c.a))
	dest := (w >> 3) & 7
	if dest&1 != 0 {
		c.ram[addr] = out
	}
	if dest&4 != 0 {
		c.a = out
	}
	if dest&2 != 0 {
		c.d = out
	}

	jump := w & 7
	taken := (jump&4 != 0 && out < 0) || (jump&2 != 0 && out == 0) || (jump&1 != 0 && out > 0)
	if !taken {
		c.pc++
		return
	}
	if target == c.pc-1 {
		c.halted = true
	}
	c.pc = target
}

// alu applies the zx nx zy ny f no control bits.
func alu(x, y int16, ctrl uint16) int16 {
	if ctrl&0x20 != 0 {
		x = 0
	}
	if ctrl&0x10 != 0 {
		x = ^x
	}
	if ctrl&0x08 != 0 {
		y = 0
	}
	if ctrl&0x04 != 0 {
		y = ^y
	}
	var out int16
	if ctrl&0x02 != 0 {
		out = x + y
	} else {
		out = x & y
	}
	if ctrl&0x01 != 0 {
		out = ^out
	}
	return out
}
