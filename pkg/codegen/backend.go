package codegen

import (
	"bytes"
	"fmt"

	"github.com/xplshn/vmt/pkg/asm"
	"github.com/xplshn/vmt/pkg/config"
	"github.com/xplshn/vmt/pkg/ir"
)

// Backend is the interface that all output backends must implement.
type Backend interface {
	// Generate serializes a translated program.
	Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error)
}

type asmBackend struct{}

// NewAsmBackend writes Hack assembly text, one instruction per line.
func NewAsmBackend() Backend { return asmBackend{} }

func (asmBackend) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	comments := cfg.IsFeatureEnabled(config.FeatSourceComments)
	for _, b := range prog.AllBlocks() {
		if comments {
			switch {
			case b.Line > 0:
				fmt.Fprintf(&buf, "// L%d: %s\n", b.Line, b.Source)
			case b.Source != "":
				fmt.Fprintf(&buf, "// %s\n", b.Source)
			}
		}
		for _, inst := range b.Instructions {
			buf.WriteString(inst.String())
			buf.WriteByte('\n')
		}
	}
	return &buf, nil
}

type hackBackend struct{}

// NewHackBackend assembles the program and writes one 16-digit binary word
// per line.
func NewHackBackend() Backend { return hackBackend{} }

func (hackBackend) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	bin, err := asm.AssembleProgram(prog.Instructions())
	if err != nil {
		return nil, fmt.Errorf("assembling translated program: %w", err)
	}
	var buf bytes.Buffer
	for _, word := range bin.Words {
		fmt.Fprintf(&buf, "%016b\n", word)
	}
	return &buf, nil
}

// SelectBackend maps a backend name to its implementation.
func SelectBackend(name string) (Backend, error) {
	switch name {
	case "", "asm":
		return NewAsmBackend(), nil
	case "hack":
		return NewHackBackend(), nil
	default:
		return nil, fmt.Errorf("unknown backend '%s' (want asm or hack)", name)
	}
}
