package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tebeka/atexit"
	"github.com/xplshn/vmt/pkg/cli"
	"github.com/xplshn/vmt/pkg/codegen"
	"github.com/xplshn/vmt/pkg/config"
	"github.com/xplshn/vmt/pkg/translator"
	"github.com/xplshn/vmt/pkg/unit"
	"github.com/xplshn/vmt/pkg/util"
)

var version = "dev"

func main() {
	app := cli.NewApp("vmt")
	app.Synopsis = "[options] <input.vm|dir> ..."
	app.Description = "Translates Hack VM code into Hack assembly. Several files or directories are linked into one program: labels are kept apart, every unit gets its own static cells, and a bootstrap calling the entry point is emitted when some unit declares it."
	app.Version = version
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/vmt>"

	var (
		outFile   string
		target    string
		entry     string
		stackBase string
		wFlags    []string
		fFlags    []string
		assemble  bool
	)

	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "", "Place the output into <file>. Defaults to the input name with a .asm or .hack extension.", "file")
	fs.String(&target, "target", "t", "asm", "Output format: asm (Hack assembly) or hack (binary words).", "asm|hack")
	fs.Bool(&assemble, "assemble", "a", false, "Also assemble the output into a .hack file next to it.")
	fs.String(&entry, "entry", "e", config.DefaultEntryPoint, "Function the bootstrap calls.", "function")
	fs.String(&stackBase, "stack-base", "", "256", "Initial stack pointer written by the bootstrap.", "address")
	fs.Bool(&verbose, "verbose", "v", false, "Report progress on stdout.")
	fs.Special(&wFlags, "W", "Enable or disable a warning (-Wall, -Wno-all)", "warning")
	fs.Special(&fFlags, "F", "Enable or disable a feature", "feature")

	cfg := config.NewConfig()
	warningFlags, featureFlags := cfg.SetupFlagGroups(fs)

	app.Action = func(inputs []string) error {
		if len(inputs) == 0 {
			util.Fatal("no input files specified")
		}

		for _, w := range wFlags {
			if name := strings.TrimPrefix(w, "no-"); name != "all" {
				if _, ok := cfg.WarningMap[name]; !ok {
					util.Info("ignoring unknown warning flag '-W%s'", w)
				}
			}
		}
		for _, f := range fFlags {
			if _, ok := cfg.FeatureMap[strings.TrimPrefix(f, "no-")]; !ok {
				util.Info("ignoring unknown feature flag '-F%s'", f)
			}
		}
		cfg.ProcessFlags(func(fn func(string)) {
			for _, w := range wFlags {
				fn("W" + w)
			}
			for _, f := range fFlags {
				fn("F" + f)
			}
		})
		cfg.ApplyFlagGroups(warningFlags, featureFlags)

		if !cfg.SetEntryPoint(entry) {
			util.Info("no entry point specified, defaulting to '%s'", config.DefaultEntryPoint)
		}
		if err := cfg.SetStackBase(stackBase); err != nil {
			util.Fatal("%v", err)
		}
		cfg.Verbose = verbose

		backend, err := codegen.SelectBackend(target)
		if err != nil {
			util.Fatal("%v", err)
		}
		if outFile == "" {
			outFile = defaultOutput(inputs, "."+target)
		}

		progress("Loading units from %d input(s)...", len(inputs))
		units, err := unit.LoadAll(inputs)
		if err != nil {
			util.Fatal("%v", err)
		}
		for _, u := range units {
			progress("  %s: %d line(s), %d static cell(s)", u.Path, len(u.Lines), u.StaticCount)
		}

		progress("Translating %d unit(s)...", len(units))
		tr := translator.New(cfg)
		prog := tr.Translate(units)
		diags := tr.Diagnostics()
		diags.Print(os.Stderr, util.UseColor(os.Stderr))
		if err := diags.Err(); err != nil {
			util.Fatal("%v; no output written", err)
		}
		if prog.Prologue != nil {
			progress("Emitting bootstrap for '%s' with SP=%d", cfg.EntryPoint, cfg.StackBase)
		}
		progress("Translated %d function(s) using %d static cell(s)", len(prog.Funcs), prog.StaticCells)

		progress("Generating '%s' output...", target)
		out, err := backend.Generate(prog, cfg)
		if err != nil {
			util.Fatal("%v", err)
		}
		if err := writeFile(outFile, out.Bytes()); err != nil {
			util.Fatal("%v", err)
		}
		progress("Wrote %s", outFile)

		if assemble && target != "hack" {
			hackFile := strings.TrimSuffix(outFile, filepath.Ext(outFile)) + ".hack"
			bin, err := codegen.NewHackBackend().Generate(prog, cfg)
			if err != nil {
				util.Fatal("%v", err)
			}
			if err := writeFile(hackFile, bin.Bytes()); err != nil {
				util.Fatal("%v", err)
			}
			progress("Wrote %s", hackFile)
		}
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

var verbose bool

func progress(format string, args ...any) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}

// defaultOutput names the output after the single input file or directory.
func defaultOutput(inputs []string, ext string) string {
	if len(inputs) != 1 {
		return "out" + ext
	}
	in := filepath.Clean(inputs[0])
	if info, err := os.Stat(in); err == nil && info.IsDir() {
		return filepath.Join(in, filepath.Base(in)+ext)
	}
	return strings.TrimSuffix(in, filepath.Ext(in)) + ext
}

// writeFile writes through a temporary file in the destination directory so
// that a failed run never leaves a truncated output behind.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vmt-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("failed to create temp file for '%s': %w", path, err)
	}
	atexit.Register(func() { os.Remove(tmp.Name()) })

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set mode of '%s': %w", tmp.Name(), err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write '%s': %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write '%s': %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}
