// Package unit loads VM source files.
package unit

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/xplshn/vmt/pkg/vm"
)

// Ext is the file extension of VM source units.
const Ext = ".vm"

// Line is one non-blank source line. Text is the trimmed, comment-free
// instruction and Column its 1-based position within Raw. Exactly one of Op
// and Err is set.
type Line struct {
	Number int
	Raw    string
	Text   string
	Column int
	Op     vm.OpCode
	Err    error
}

// Unit is one parsed source file.
type Unit struct {
	Name        string
	Path        string
	Lines       []Line
	StaticCount int
	Hash        uint64
}

// Parse reads VM source from r. Comments and blank lines are dropped; every
// other line is kept with its parse result, so a unit with errors is still
// returned whole.
func Parse(name string, r io.Reader) (*Unit, error) {
	u := &Unit{Name: name}
	digest := xxhash.New()
	scanner := bufio.NewScanner(r)
	number := 0
	for scanner.Scan() {
		number++
		raw := scanner.Text()
		digest.WriteString(raw)
		digest.WriteString("\n")

		text := raw
		if before, _, found := strings.Cut(text, "//"); found {
			text = before
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		line := Line{
			Number: number,
			Raw:    raw,
			Text:   trimmed,
			Column: strings.Index(text, trimmed) + 1,
		}
		line.Op, line.Err = vm.ParseOpCode(trimmed)
		u.Lines = append(u.Lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	u.Hash = digest.Sum64()
	u.StaticCount = staticCount(u.Lines)
	return u, nil
}

// staticCount is one past the highest static index referenced.
func staticCount(lines []Line) int {
	count := 0
	for _, l := range lines {
		var region vm.Region
		var index uint16
		switch op := l.Op.(type) {
		case vm.Push:
			region, index = op.Region, op.Index
		case vm.Pop:
			region, index = op.Region, op.Index
		default:
			continue
		}
		if region == vm.Static && int(index)+1 > count {
			count = int(index) + 1
		}
	}
	return count
}

// Load parses the file at path. The unit is named after the file's base name
// without its extension.
func Load(path string) (*Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	u, err := Parse(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), f)
	if err != nil {
		return nil, err
	}
	u.Path = path
	return u, nil
}

// Expand turns the command-line inputs into source file paths. Files are
// kept in the given order; a directory contributes its *.vm entries sorted
// by name.
func Expand(inputs []string) ([]string, error) {
	var paths []string
	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, input)
			continue
		}
		entries, err := os.ReadDir(input)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == Ext {
				found = append(found, filepath.Join(input, e.Name()))
			}
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("%s: no %s files in directory", input, Ext)
		}
		sort.Strings(found)
		paths = append(paths, found...)
	}
	return paths, nil
}

// LoadAll expands inputs and loads every resulting file.
func LoadAll(inputs []string) ([]*Unit, error) {
	paths, err := Expand(inputs)
	if err != nil {
		return nil, err
	}
	units := make([]*Unit, 0, len(paths))
	for _, p := range paths {
		u, err := Load(p)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

// Errors returns the lines that failed to parse.
func (u *Unit) Errors() []Line {
	var bad []Line
	for _, l := range u.Lines {
		if l.Err != nil {
			bad = append(bad, l)
		}
	}
	return bad
}

// Functions lists the functions the unit declares, in order.
func (u *Unit) Functions() []vm.Function {
	var fns []vm.Function
	for _, l := range u.Lines {
		if fn, ok := l.Op.(vm.Function); ok {
			fns = append(fns, fn)
		}
	}
	return fns
}
