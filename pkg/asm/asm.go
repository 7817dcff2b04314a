// Package asm turns Hack assembly into 16-bit machine words.
//
// Labels bind to the address of the next real instruction. Any other symbol
// that is neither predefined nor a label is a variable and is allocated the
// next free RAM cell from address 16, in order of first appearance.
package asm

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/xplshn/vmt/pkg/hack"
)

// Error is an assembly failure tied to a source line.
type Error struct {
	Line int
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Program is an assembled program.
type Program struct {
	Words   []uint16
	Symbols map[string]uint16
}

type sourceInst struct {
	line int
	inst hack.Instruction
}

// Assemble reads assembly text and writes one 16-character binary word per line.
func Assemble(r io.Reader, w io.Writer) error {
	var insts []sourceInst
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		if before, _, found := strings.Cut(text, "//"); found {
			text = before
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		inst, err := hack.Parse(text)
		if err != nil {
			return &Error{Line: lineNo, Err: err}
		}
		insts = append(insts, sourceInst{line: lineNo, inst: inst})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading assembly: %w", err)
	}

	prog, err := assemble(insts)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	for _, word := range prog.Words {
		fmt.Fprintf(bw, "%016b\n", word)
	}
	return bw.Flush()
}

// AssembleProgram assembles already-parsed instructions.
func AssembleProgram(insts []hack.Instruction) (*Program, error) {
	src := make([]sourceInst, len(insts))
	for i, inst := range insts {
		src[i] = sourceInst{line: i + 1, inst: inst}
	}
	return assemble(src)
}

func assemble(insts []sourceInst) (*Program, error) {
	symbols := make(map[string]uint16)

	// First pass: bind labels.
	pc := 0
	for _, si := range insts {
		label, ok := si.inst.(hack.Label)
		if !ok {
			pc++
			continue
		}
		if _, isPredefined := hack.Predefined(label.Name); isPredefined {
			return nil, &Error{Line: si.line, Err: fmt.Errorf("label %q shadows a predefined symbol", label.Name)}
		}
		if _, dup := symbols[label.Name]; dup {
			return nil, &Error{Line: si.line, Err: fmt.Errorf("duplicate label %q", label.Name)}
		}
		if pc > hack.MaxAddress {
			return nil, &Error{Line: si.line, Err: fmt.Errorf("program too large")}
		}
		symbols[label.Name] = uint16(pc)
	}

	// Second pass: encode, allocating variables on first use.
	next := uint16(hack.VariableBase)
	resolve := func(s hack.Symbol) uint16 {
		if addr, ok := hack.Predefined(string(s)); ok {
			return addr
		}
		if addr, ok := symbols[string(s)]; ok {
			return addr
		}
		addr := next
		symbols[string(s)] = addr
		next++
		return addr
	}

	words := make([]uint16, 0, pc)
	for _, si := range insts {
		if _, ok := si.inst.(hack.Label); ok {
			continue
		}
		word, err := hack.Encode(si.inst, resolve)
		if err != nil {
			return nil, &Error{Line: si.line, Err: err}
		}
		words = append(words, word)
	}
	return &Program{Words: words, Symbols: symbols}, nil
}
