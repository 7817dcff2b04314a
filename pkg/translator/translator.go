// Package translator links parsed VM units into a single Hack program.
//
// Translation runs in two phases. Every line of every unit is checked first;
// only when no line failed to parse is code generated, and a program is only
// returned when generation produced no errors either.
package translator

import (
	"errors"

	"github.com/xplshn/vmt/pkg/codegen"
	"github.com/xplshn/vmt/pkg/config"
	"github.com/xplshn/vmt/pkg/ir"
	"github.com/xplshn/vmt/pkg/unit"
	"github.com/xplshn/vmt/pkg/util"
	"github.com/xplshn/vmt/pkg/vm"
)

type Translator struct {
	cfg    *config.Config
	diags  *util.Diagnostics
	labels *codegen.Labels
}

func New(cfg *config.Config) *Translator {
	return &Translator{
		cfg:    cfg,
		diags:  util.NewDiagnostics(cfg),
		labels: codegen.NewLabels(),
	}
}

// Diagnostics returns everything reported so far.
func (t *Translator) Diagnostics() *util.Diagnostics { return t.diags }

// Translate is a convenience wrapper for a one-shot run.
func Translate(cfg *config.Config, units []*unit.Unit) (*ir.Program, *util.Diagnostics) {
	t := New(cfg)
	prog := t.Translate(units)
	return prog, t.diags
}

// Translate checks and then translates units in order. It returns nil if any
// error was reported.
func (t *Translator) Translate(units []*unit.Unit) *ir.Program {
	t.check(units)
	if t.diags.HasErrors() {
		return nil
	}

	prog := &ir.Program{}
	ctx := codegen.NewContext(t.cfg, t.labels)

	if t.wantsBootstrap(units) {
		insts, err := ctx.Bootstrap()
		if err != nil {
			t.diags.Error(util.Position{}, "%v", err)
		} else {
			prog.Prologue = &ir.Block{Source: "bootstrap", Instructions: insts}
		}
	}

	staticBase := 0
	for _, u := range units {
		ctx.EnterUnit(u.Name, uint16(min(staticBase, vm.StaticLimit)))
		var fn *ir.Func
		for _, line := range u.Lines {
			insts, err := ctx.Generate(line.Op)
			if err != nil {
				t.diags.Error(t.linePosition(u, line), "%v", err)
				continue
			}
			block := &ir.Block{Unit: u.Name, Line: line.Number, Source: line.Text, Instructions: insts}
			if f, ok := line.Op.(vm.Function); ok {
				fn = &ir.Func{Name: f.Name, Unit: u.Name, Locals: f.Locals}
				prog.Funcs = append(prog.Funcs, fn)
			}
			if fn != nil {
				fn.Blocks = append(fn.Blocks, block)
			}
			prog.AddBlock(block)
		}
		staticBase += u.StaticCount
	}
	prog.StaticCells = staticBase

	if t.diags.HasErrors() {
		return nil
	}
	return prog
}

// check reports parse errors and the whole-program warnings. It never emits
// code.
func (t *Translator) check(units []*unit.Unit) {
	seen := make(map[uint64]*unit.Unit)
	for _, u := range units {
		if first, ok := seen[u.Hash]; ok {
			t.diags.Warn(config.WarnDuplicateUnit, util.Position{File: fileName(u)},
				"unit has the same content as %s", fileName(first))
		} else {
			seen[u.Hash] = u
		}

		for _, line := range u.Lines {
			if line.Err != nil {
				t.diags.Error(t.errorPosition(u, line), "%v", line.Err)
			}
		}
		t.checkLabels(u)
	}
}

// checkLabels warns about goto/if-goto targets never declared in the same
// scope. Such jumps only fail later, in the assembler.
func (t *Translator) checkLabels(u *unit.Unit) {
	type ref struct {
		line unit.Line
		name string
	}
	scope := u.Name
	declared := map[string]map[string]bool{}
	refs := map[string][]ref{}
	var order []string

	for _, line := range u.Lines {
		switch op := line.Op.(type) {
		case vm.Function:
			scope = op.Name
		case vm.Label:
			if declared[scope] == nil {
				declared[scope] = map[string]bool{}
			}
			declared[scope][op.Name] = true
		case vm.Goto:
			if refs[scope] == nil {
				order = append(order, scope)
			}
			refs[scope] = append(refs[scope], ref{line, op.Name})
		case vm.IfGoto:
			if refs[scope] == nil {
				order = append(order, scope)
			}
			refs[scope] = append(refs[scope], ref{line, op.Name})
		}
	}

	for _, s := range order {
		for _, r := range refs[s] {
			if !declared[s][r.name] {
				pos := t.linePosition(u, r.line)
				if i := wordOffset(r.line.Text, r.name); i >= 0 {
					pos.Column, pos.Len = r.line.Column+i, len(r.name)
				}
				t.diags.Warn(config.WarnUndefinedLabel, pos, "label '%s' is not declared in '%s'", r.name, s)
			}
		}
	}
}

func (t *Translator) wantsBootstrap(units []*unit.Unit) bool {
	if t.cfg.IsFeatureEnabled(config.FeatForceBootstrap) {
		return true
	}
	for _, u := range units {
		for _, fn := range u.Functions() {
			if fn.Name == t.cfg.EntryPoint {
				return t.cfg.IsFeatureEnabled(config.FeatBootstrap)
			}
		}
	}
	if len(units) > 1 {
		t.diags.Warn(config.WarnMissingEntry, util.Position{},
			"%d units linked but none declares '%s'; no bootstrap emitted", len(units), t.cfg.EntryPoint)
	}
	return false
}

func fileName(u *unit.Unit) string {
	if u.Path != "" {
		return u.Path
	}
	return u.Name + unit.Ext
}

func (t *Translator) linePosition(u *unit.Unit, line unit.Line) util.Position {
	return util.Position{
		File:   fileName(u),
		Line:   line.Number,
		Column: line.Column,
		Len:    len(line.Text),
		Text:   line.Raw,
	}
}

// errorPosition narrows the underline to the word a parse error names.
func (t *Translator) errorPosition(u *unit.Unit, line unit.Line) util.Position {
	pos := t.linePosition(u, line)
	var perr *vm.ParseError
	if !errors.As(line.Err, &perr) || perr.Kind == vm.ErrArgumentCount {
		return pos
	}
	if i := wordOffset(line.Text, perr.Input); i >= 0 {
		pos.Column += i
		pos.Len = len(perr.Input)
	}
	return pos
}

// wordOffset is the byte offset of the first whitespace-separated word of s
// equal to word, or -1.
func wordOffset(s, word string) int {
	for i := 0; i < len(s); {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		j := i
		for j < len(s) && s[j] != ' ' && s[j] != '\t' {
			j++
		}
		if j > i && s[i:j] == word {
			return i
		}
		i = j
	}
	return -1
}
