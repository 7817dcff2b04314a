package translator_test

import (
	"strconv"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xplshn/vmt/pkg/asm"
	"github.com/xplshn/vmt/pkg/codegen"
	"github.com/xplshn/vmt/pkg/config"
	"github.com/xplshn/vmt/pkg/translator"
	"github.com/xplshn/vmt/pkg/unit"
	"github.com/xplshn/vmt/pkg/util"
)

func source(lines ...string) string { return strings.Join(lines, "\n") + "\n" }

func parse(name string, lines ...string) *unit.Unit {
	u, err := unit.Parse(name, strings.NewReader(source(lines...)))
	Expect(err).NotTo(HaveOccurred())
	return u
}

func messages(d *util.Diagnostics, s util.Severity) []string {
	var out []string
	for _, diag := range d.List() {
		if diag.Severity == s {
			out = append(out, diag.Msg)
		}
	}
	return out
}

func errorsOf(d *util.Diagnostics) []util.Diagnostic {
	var out []util.Diagnostic
	for _, diag := range d.List() {
		if diag.Severity == util.SeverityError {
			out = append(out, diag)
		}
	}
	return out
}

func presetStack(c *cpu) { c.ram[0] = 256 }

var _ = Describe("Translator", func() {
	var cfg *config.Config

	BeforeEach(func() {
		cfg = config.NewConfig()
	})

	execute := func(units []*unit.Unit, setup func(*cpu)) *cpu {
		prog, diags := translator.Translate(cfg, units)
		Expect(diags.HasErrors()).To(BeFalse(), "%v", diags.List())
		Expect(prog).NotTo(BeNil())
		c, err := load(prog, cfg)
		Expect(err).NotTo(HaveOccurred())
		if setup != nil {
			setup(c)
		}
		Expect(c.run(1_000_000)).To(Succeed())
		return c
	}

	Context("stack arithmetic", func() {
		It("adds two constants", func() {
			c := execute([]*unit.Unit{parse("Main", "push constant 7", "push constant 8", "add")}, presetStack)
			Expect(c.ram[256]).To(Equal(int16(15)))
			Expect(c.ram[0]).To(Equal(int16(257)))
		})

		DescribeTable("binary operations",
			func(op string, x, y int, want int16) {
				c := execute([]*unit.Unit{parse("Main",
					"push constant "+strconv.Itoa(x),
					"push constant "+strconv.Itoa(y),
					op,
				)}, presetStack)
				Expect(c.ram[256]).To(Equal(want))
				Expect(c.ram[0]).To(Equal(int16(257)))
			},
			Entry("eq true", "eq", 5, 5, int16(-1)),
			Entry("eq false", "eq", 5, 6, int16(0)),
			Entry("lt true", "lt", 3, 5, int16(-1)),
			Entry("lt false", "lt", 5, 3, int16(0)),
			Entry("lt equal", "lt", 5, 5, int16(0)),
			Entry("le equal", "le", 5, 5, int16(-1)),
			Entry("le false", "le", 6, 5, int16(0)),
			Entry("gt true", "gt", 9, 2, int16(-1)),
			Entry("gt false", "gt", 2, 9, int16(0)),
			Entry("ge equal", "ge", 4, 4, int16(-1)),
			Entry("ge false", "ge", 3, 4, int16(0)),
			Entry("sub", "sub", 10, 3, int16(7)),
			Entry("sub negative", "sub", 3, 10, int16(-7)),
			Entry("and", "and", 12, 10, int16(8)),
			Entry("or", "or", 12, 10, int16(14)),
		)

		DescribeTable("unary operations",
			func(op string, x int, want int16) {
				c := execute([]*unit.Unit{parse("Main", "push constant "+strconv.Itoa(x), op)}, presetStack)
				Expect(c.ram[256]).To(Equal(want))
				Expect(c.ram[0]).To(Equal(int16(257)))
			},
			Entry("neg", "neg", 5, int16(-5)),
			Entry("not zero", "not", 0, int16(-1)),
			Entry("not", "not", 5, int16(-6)),
		)

		It("draws two fresh labels per comparison", func() {
			c := execute([]*unit.Unit{parse("Main",
				"push constant 1", "push constant 1", "eq",
				"push constant 1", "push constant 2", "eq",
				"push constant 2", "push constant 2", "eq",
			)}, presetStack)
			Expect(c.ram[256:259]).To(Equal([]int16{-1, 0, -1}))
		})
	})

	Context("memory segments", func() {
		It("moves values through local, argument, this, that and temp", func() {
			c := execute([]*unit.Unit{parse("Basic",
				"push constant 10", "pop local 0",
				"push constant 21", "pop local 2",
				"push constant 36", "pop argument 1",
				"push constant 42", "pop this 6",
				"push constant 45", "pop that 5",
				"push constant 510", "pop temp 6",
				"push local 0", "push that 5", "add",
				"push argument 1", "sub",
				"push this 6", "push this 6", "add",
				"sub",
				"push temp 6", "add",
			)}, func(c *cpu) {
				c.ram[0], c.ram[1], c.ram[2], c.ram[3], c.ram[4] = 256, 300, 400, 3000, 3010
			})
			Expect(c.ram[256]).To(Equal(int16(445)))
			Expect(c.ram[0]).To(Equal(int16(257)))
			Expect(c.ram[300]).To(Equal(int16(10)))
			Expect(c.ram[302]).To(Equal(int16(21)))
			Expect(c.ram[401]).To(Equal(int16(36)))
			Expect(c.ram[3006]).To(Equal(int16(42)))
			Expect(c.ram[3015]).To(Equal(int16(45)))
			Expect(c.ram[11]).To(Equal(int16(510)))
		})

		It("rebases this and that through the pointer segment", func() {
			c := execute([]*unit.Unit{parse("Pointer",
				"push constant 3030", "pop pointer 0",
				"push constant 3040", "pop pointer 1",
				"push constant 32", "pop this 2",
				"push constant 46", "pop that 6",
				"push pointer 0", "push pointer 1", "add",
				"push this 2", "sub",
				"push that 6", "add",
			)}, presetStack)
			Expect(c.ram[256]).To(Equal(int16(6084)))
			Expect(c.ram[3]).To(Equal(int16(3030)))
			Expect(c.ram[4]).To(Equal(int16(3040)))
			Expect(c.ram[3032]).To(Equal(int16(32)))
			Expect(c.ram[3046]).To(Equal(int16(46)))
		})

		It("gives every unit its own static cells", func() {
			a := parse("A", "push constant 11", "pop static 0", "push constant 12", "pop static 1")
			b := parse("B", "push constant 21", "pop static 0", "push constant 22", "pop static 1", "push constant 23", "pop static 2")

			prog, _ := translator.Translate(cfg, []*unit.Unit{a, b})
			Expect(prog.StaticCells).To(Equal(5))

			c := execute([]*unit.Unit{a, b}, presetStack)
			Expect(c.ram[16:21]).To(Equal([]int16{11, 12, 21, 22, 23}))
		})
	})

	Context("functions", func() {
		var units []*unit.Unit

		BeforeEach(func() {
			units = []*unit.Unit{
				parse("Main",
					"function Main.fact 0",
					"push argument 0",
					"push constant 2",
					"lt",
					"if-goto BASE",
					"push argument 0",
					"push argument 0",
					"push constant 1",
					"sub",
					"call Main.fact 1",
					"call Math.mul 2",
					"return",
					"label BASE",
					"push constant 1",
					"return",
					"",
					"// Returns 42 and clobbers THIS and THAT.",
					"function Main.answer 2",
					"push local 0",
					"push local 1",
					"add",
					"push constant 42",
					"add",
					"pop pointer 0",
					"push pointer 0",
					"push constant 7",
					"pop pointer 1",
					"return",
				),
				parse("Math",
					"function Math.mul 1",
					"push constant 0",
					"pop local 0",
					"label LOOP",
					"push argument 1",
					"push constant 0",
					"eq",
					"if-goto DONE",
					"push local 0",
					"push argument 0",
					"add",
					"pop local 0",
					"push argument 1",
					"push constant 1",
					"sub",
					"pop argument 1",
					"goto LOOP",
					"label DONE",
					"push local 0",
					"return",
				),
				parse("Sys",
					"function Sys.init 0",
					"push constant 3000",
					"pop pointer 0",
					"push constant 4000",
					"pop pointer 1",
					"push constant 5",
					"call Main.fact 1",
					"pop static 0",
					"call Main.answer 0",
					"pop static 1",
					"push pointer 0",
					"pop static 2",
					"push pointer 1",
					"pop static 3",
					"label HALT",
					"goto HALT",
				),
			}
		})

		It("boots into Sys.init and runs recursive calls", func() {
			c := execute(units, nil)
			Expect(c.halted).To(BeTrue())
			Expect(c.ram[16]).To(Equal(int16(120)))
		})

		It("returns from functions without arguments", func() {
			c := execute(units, nil)
			Expect(c.ram[17]).To(Equal(int16(42)))
		})

		It("restores the caller's frame", func() {
			c := execute(units, nil)
			Expect(c.ram[18]).To(Equal(int16(3000)))
			Expect(c.ram[19]).To(Equal(int16(4000)))
			Expect(c.ram[0]).To(Equal(int16(261)), "SP")
			Expect(c.ram[1]).To(Equal(int16(261)), "LCL")
			Expect(c.ram[2]).To(Equal(int16(256)), "ARG")
		})

		It("records every function of the program", func() {
			prog, _ := translator.Translate(cfg, units)
			Expect(prog.FindFunc("Math.mul")).NotTo(BeNil())
			Expect(prog.FindFunc("Main.answer").Locals).To(Equal(uint16(2)))
			Expect(prog.FindFunc("Main.answer").Blocks).To(HaveLen(11))
			Expect(prog.Prologue).NotTo(BeNil())
		})

		It("honours the configured stack base", func() {
			Expect(cfg.SetStackBase("1024")).To(Succeed())
			c := execute(units, nil)
			Expect(c.ram[2]).To(Equal(int16(1024)))
			Expect(c.ram[16]).To(Equal(int16(120)))
		})

		It("keeps identically named labels of different functions apart", func() {
			units = append(units, parse("Other",
				"function Other.f 0",
				"label LOOP",
				"goto LOOP",
				"function Other.g 0",
				"label LOOP",
				"goto LOOP",
			))
			prog, diags := translator.Translate(cfg, units)
			Expect(diags.HasErrors()).To(BeFalse())
			_, err := asm.AssembleProgram(prog.Instructions())
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Context("bootstrap", func() {
		It("is skipped when no unit declares the entry point", func() {
			prog, diags := translator.Translate(cfg, []*unit.Unit{parse("Main", "push constant 1")})
			Expect(prog.Prologue).To(BeNil())
			Expect(diags.List()).To(BeEmpty())
		})

		It("can be forced", func() {
			cfg.SetFeature(config.FeatForceBootstrap, true)
			prog, _ := translator.Translate(cfg, []*unit.Unit{parse("Main", "push constant 1")})
			Expect(prog.Prologue).NotTo(BeNil())
			Expect(prog.Prologue.Instructions[0].String()).To(Equal("@256"))
		})

		It("can be disabled", func() {
			cfg.SetFeature(config.FeatBootstrap, false)
			prog, _ := translator.Translate(cfg, []*unit.Unit{parse("Sys", "function Sys.init 0", "label L", "goto L")})
			Expect(prog.Prologue).To(BeNil())
		})

		It("calls a custom entry point and parks in a halt loop", func() {
			cfg.SetEntryPoint("Main.main")
			cfg.SetFeature(config.FeatHaltLoop, true)
			c := execute([]*unit.Unit{parse("Main",
				"function Main.main 0",
				"push constant 9",
				"pop static 0",
				"push constant 0",
				"return",
			)}, nil)
			Expect(c.halted).To(BeTrue())
			Expect(c.ram[16]).To(Equal(int16(9)))
			Expect(c.ram[0]).To(Equal(int16(257)))
		})
	})

	Context("output", func() {
		It("precedes every block with its source line", func() {
			prog, _ := translator.Translate(cfg, []*unit.Unit{parse("Main", "// header", "push constant 7  // seven", "", "neg")})
			buf, err := codegen.NewAsmBackend().Generate(prog, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(buf.String()).To(HavePrefix("// L2: push constant 7\n@7\nD=A\n"))
			Expect(buf.String()).To(ContainSubstring("\n// L4: neg\n"))
		})
	})

	Context("errors", func() {
		It("collects parse errors from every unit and produces nothing", func() {
			bad := parse("Bad", "push constant 1", "push heap 1", "mul")
			worse := parse("Worse", "pop local")
			prog, diags := translator.Translate(cfg, []*unit.Unit{bad, worse})
			Expect(prog).To(BeNil())

			list := diags.List()
			Expect(list).To(HaveLen(3))
			Expect(list[0].Pos).To(Equal(util.Position{File: "Bad.vm", Line: 2, Column: 6, Len: 4, Text: "push heap 1"}))
			Expect(list[1].Pos.Line).To(Equal(3))
			Expect(list[1].Msg).To(ContainSubstring("mul"))
			Expect(list[2].Pos.File).To(Equal("Worse.vm"))
			Expect(diags.Err()).To(MatchError("3 errors"))
		})

		It("reports generation errors per opcode", func() {
			prog, diags := translator.Translate(cfg, []*unit.Unit{parse("Main",
				"push constant 1",
				"pop constant 0",
				"push temp 9",
				"push constant 2",
			)})
			Expect(prog).To(BeNil())
			Expect(diags.List()).To(HaveLen(2))
			Expect(diags.List()[0].Msg).To(ContainSubstring(codegen.ErrPopConstant.Error()))
			Expect(diags.List()[1].Pos.Line).To(Equal(3))
		})

		It("does not generate code when any unit failed to parse", func() {
			prog, diags := translator.Translate(cfg, []*unit.Unit{
				parse("A", "push nowhere 0"),
				parse("B", "pop constant 0"),
			})
			Expect(prog).To(BeNil())
			Expect(diags.List()).To(HaveLen(1))
			Expect(diags.List()[0].Pos.File).To(Equal("A.vm"))
		})

		It("rejects labels that a unit name cannot prefix", func() {
			prog, diags := translator.Translate(cfg, []*unit.Unit{parse("my-prog",
				"label LOOP",
				"push constant 1",
				"if-goto LOOP",
				"call Foo.bar 0",
			)})
			Expect(prog).To(BeNil())
			errs := errorsOf(diags)
			Expect(errs).To(HaveLen(3))
			for _, e := range errs {
				Expect(e.Msg).To(ContainSubstring(codegen.ErrInvalidSymbol.Error()))
			}
			Expect(errs[0].Pos.Line).To(Equal(1))
			Expect(errs[2].Pos.Line).To(Equal(4))
		})

		It("emits assembler-ready text for a unit with a hyphenated name", func() {
			prog, diags := translator.Translate(cfg, []*unit.Unit{parse("my-prog",
				"push constant 1",
				"function my-prog.f 0",
				"label LOOP",
				"goto LOOP",
			)})
			Expect(diags.HasErrors()).To(BeTrue())
			Expect(prog).To(BeNil())

			prog, diags = translator.Translate(cfg, []*unit.Unit{parse("my-prog",
				"push constant 1",
				"function Prog.f 0",
				"label LOOP",
				"call Prog.f 0",
				"goto LOOP",
			)})
			Expect(diags.HasErrors()).To(BeFalse(), "%v", diags.List())
			text, err := codegen.NewAsmBackend().Generate(prog, cfg)
			Expect(err).NotTo(HaveOccurred())
			var bin strings.Builder
			Expect(asm.Assemble(strings.NewReader(text.String()), &bin)).To(Succeed())
		})

		It("rejects functions that the assembler cannot bind", func() {
			prog, diags := translator.Translate(cfg, []*unit.Unit{
				parse("A", "function Shared.f 0", "push constant 0", "return"),
				parse("B", "function Shared.f 0", "push constant 1", "return"),
				parse("C", "function SP 0", "call R16 0"),
			})
			Expect(prog).To(BeNil())
			errs := errorsOf(diags)
			Expect(errs).To(HaveLen(3))
			Expect(errs[0].Pos.File).To(Equal("B.vm"))
			Expect(errs[0].Msg).To(ContainSubstring(codegen.ErrDuplicateFunction.Error()))
			Expect(errs[1].Msg).To(ContainSubstring(codegen.ErrInvalidSymbol.Error()))
			Expect(errs[2].Msg).To(ContainSubstring("R16"))
		})

		It("overflowing the static segment is an error", func() {
			prog, diags := translator.Translate(cfg, []*unit.Unit{
				parse("A", "push static 199"),
				parse("B", "push static 39"),
				parse("C", "push static 0"),
			})
			Expect(prog).To(BeNil())
			errs := errorsOf(diags)
			Expect(errs).To(HaveLen(1))
			Expect(errs[0].Pos.File).To(Equal("C.vm"))
			Expect(errs[0].Msg).To(ContainSubstring(codegen.ErrIndexOutOfRange.Error()))
		})
	})

	Context("warnings", func() {
		It("flags jumps to undeclared labels", func() {
			prog, diags := translator.Translate(cfg, []*unit.Unit{parse("Main",
				"function Main.f 0",
				"label THERE",
				"function Main.g 0",
				"goto NOWHERE",
				"if-goto THERE",
				"label LATER",
				"goto LATER",
			)})
			Expect(prog).NotTo(BeNil())
			Expect(messages(diags, util.SeverityWarning)).To(Equal([]string{
				"label 'NOWHERE' is not declared in 'Main.g'",
				"label 'THERE' is not declared in 'Main.g'",
			}))
			Expect(diags.List()[0].Pos.Column).To(Equal(6))
			Expect(diags.List()[0].Pos.Len).To(Equal(7))
			Expect(diags.List()[0].Flag).To(Equal("-Wundefined-label"))
		})

		It("flags duplicate units", func() {
			a := parse("A", "push constant 1")
			b := parse("B", "push constant 1")
			_, diags := translator.Translate(cfg, []*unit.Unit{a, b})
			Expect(messages(diags, util.SeverityWarning)).To(ContainElement("unit has the same content as A.vm"))
		})

		It("flags several units without an entry point", func() {
			_, diags := translator.Translate(cfg, []*unit.Unit{parse("A", "push constant 1"), parse("B", "push constant 2")})
			Expect(messages(diags, util.SeverityWarning)).To(ConsistOf(ContainSubstring("none declares 'Sys.init'")))
		})

		It("stays quiet when warnings are disabled", func() {
			cfg.ProcessFlags(func(fn func(string)) { fn("Wno-all") })
			a := parse("A", "goto X")
			_, diags := translator.Translate(cfg, []*unit.Unit{a, a})
			Expect(diags.List()).To(BeEmpty())
		})
	})
})
