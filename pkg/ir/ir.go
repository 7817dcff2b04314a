package ir

import "github.com/xplshn/vmt/pkg/hack"

// Block is the assembly generated for one source opcode, or for a synthetic
// sequence such as the bootstrap when Line is 0.
type Block struct {
	Unit         string
	Line         int
	Source       string
	Instructions []hack.Instruction
}

type Func struct {
	Name   string
	Unit   string
	Locals uint16
	Blocks []*Block
}

// Program is the translated output of a run, in emission order.
type Program struct {
	Prologue    *Block
	Funcs       []*Func
	Blocks      []*Block
	StaticCells int
}

func (p *Program) AddBlock(b *Block) { p.Blocks = append(p.Blocks, b) }

// Instructions flattens the program in emission order.
func (p *Program) Instructions() []hack.Instruction {
	var out []hack.Instruction
	for _, b := range p.AllBlocks() {
		out = append(out, b.Instructions...)
	}
	return out
}

func (p *Program) AllBlocks() []*Block {
	blocks := make([]*Block, 0, len(p.Blocks)+1)
	if p.Prologue != nil {
		blocks = append(blocks, p.Prologue)
	}
	return append(blocks, p.Blocks...)
}

func (p *Program) FindFunc(name string) *Func {
	for _, fn := range p.Funcs {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}
