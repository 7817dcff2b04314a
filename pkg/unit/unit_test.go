package unit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/vmt/pkg/vm"
)

const source = `// Computes something
function Main.main 1

    push static 3   // keep
	pop static 0
push heap 2
  add
`

func TestParse(t *testing.T) {
	u, err := Parse("Main", strings.NewReader(source))
	if err != nil {
		t.Fatal(err)
	}
	if u.Name != "Main" {
		t.Errorf("Name = %q", u.Name)
	}

	type row struct {
		Number int
		Text   string
		Column int
	}
	var got []row
	for _, l := range u.Lines {
		got = append(got, row{l.Number, l.Text, l.Column})
	}
	want := []row{
		{2, "function Main.main 1", 1},
		{4, "push static 3", 5},
		{5, "pop static 0", 2},
		{6, "push heap 2", 1},
		{7, "add", 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lines (-want +got):\n%s", diff)
	}

	if u.Lines[1].Op != (vm.Push{Region: vm.Static, Index: 3}) || u.Lines[1].Err != nil {
		t.Errorf("line 4 = %v, %v", u.Lines[1].Op, u.Lines[1].Err)
	}
	bad := u.Errors()
	if len(bad) != 1 || bad[0].Number != 6 || !errors.Is(bad[0].Err, &vm.ParseError{Kind: vm.ErrRegion}) {
		t.Errorf("Errors() = %+v", bad)
	}
	if u.StaticCount != 4 {
		t.Errorf("StaticCount = %d, want 4", u.StaticCount)
	}
	if diff := cmp.Diff([]vm.Function{{Name: "Main.main", Locals: 1}}, u.Functions()); diff != "" {
		t.Errorf("Functions (-want +got):\n%s", diff)
	}
}

func TestStaticCountIgnoresOtherSegments(t *testing.T) {
	u, err := Parse("A", strings.NewReader("push constant 9\npush local 7\npop temp 6\n"))
	if err != nil {
		t.Fatal(err)
	}
	if u.StaticCount != 0 {
		t.Errorf("StaticCount = %d, want 0", u.StaticCount)
	}
}

func TestHash(t *testing.T) {
	a, _ := Parse("A", strings.NewReader("push constant 1\n"))
	b, _ := Parse("B", strings.NewReader("push constant 1\n"))
	c, _ := Parse("C", strings.NewReader("push constant 2\n"))
	if a.Hash != b.Hash {
		t.Errorf("identical sources hash differently: %x %x", a.Hash, b.Hash)
	}
	if a.Hash == c.Hash {
		t.Errorf("different sources share hash %x", a.Hash)
	}
}

func TestExpandAndLoadAll(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"Sys.vm":    "function Sys.init 0\n",
		"Main.vm":   "function Main.main 0\n",
		"notes.txt": "not vm\n",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	extra := filepath.Join(t.TempDir(), "Extra.vm")
	if err := os.WriteFile(extra, []byte("push constant 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	paths, err := Expand([]string{extra, dir})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{extra, filepath.Join(dir, "Main.vm"), filepath.Join(dir, "Sys.vm")}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("Expand (-want +got):\n%s", diff)
	}

	units, err := LoadAll([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, u := range units {
		names = append(names, u.Name)
	}
	if diff := cmp.Diff([]string{"Main", "Sys"}, names); diff != "" {
		t.Errorf("unit names (-want +got):\n%s", diff)
	}
	if units[1].Path != filepath.Join(dir, "Sys.vm") {
		t.Errorf("Path = %q", units[1].Path)
	}

	if _, err := Expand([]string{t.TempDir()}); err == nil {
		t.Error("Expand of a directory without .vm files succeeded")
	}
	if _, err := Load(filepath.Join(dir, "Missing.vm")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load of a missing file = %v", err)
	}
}
