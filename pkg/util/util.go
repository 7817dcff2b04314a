package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tebeka/atexit"
	"github.com/xplshn/vmt/pkg/config"
	"golang.org/x/term"
)

// Program prefixes messages that have no source position.
var Program = "vmt"

const (
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorReset  = "\033[0m"
)

type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Position locates a diagnostic. Text is the source line it refers to; Column
// and Len select the span underlined beneath it.
type Position struct {
	File   string
	Line   int
	Column int
	Len    int
	Text   string
}

type Diagnostic struct {
	Severity Severity
	Pos      Position
	Msg      string
	Flag     string // -W flag that controls a warning
}

// Diagnostics collects errors and warnings so a run can report everything it
// found before deciding whether to produce output.
type Diagnostics struct {
	cfg  *config.Config
	list []Diagnostic
}

func NewDiagnostics(cfg *config.Config) *Diagnostics { return &Diagnostics{cfg: cfg} }

func (d *Diagnostics) Error(pos Position, format string, args ...any) {
	d.list = append(d.list, Diagnostic{Severity: SeverityError, Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

// Warn records a warning unless wt is disabled.
func (d *Diagnostics) Warn(wt config.Warning, pos Position, format string, args ...any) {
	if d.cfg != nil && !d.cfg.IsWarningEnabled(wt) {
		return
	}
	flag := ""
	if d.cfg != nil {
		flag = "-W" + d.cfg.Warnings[wt].Name
	}
	d.list = append(d.list, Diagnostic{Severity: SeverityWarning, Pos: pos, Msg: fmt.Sprintf(format, args...), Flag: flag})
}

func (d *Diagnostics) List() []Diagnostic { return d.list }

func (d *Diagnostics) Count(s Severity) int {
	n := 0
	for _, diag := range d.list {
		if diag.Severity == s {
			n++
		}
	}
	return n
}

func (d *Diagnostics) HasErrors() bool { return d.Count(SeverityError) > 0 }

// Err summarizes the collected errors, or returns nil when there are none.
func (d *Diagnostics) Err() error {
	switch n := d.Count(SeverityError); n {
	case 0:
		return nil
	case 1:
		return errors.New("1 error")
	default:
		return fmt.Errorf("%d errors", n)
	}
}

// Print writes every diagnostic in the order it was recorded.
func (d *Diagnostics) Print(w io.Writer, color bool) {
	for _, diag := range d.list {
		printDiagnostic(w, diag, color)
	}
}

func printDiagnostic(w io.Writer, diag Diagnostic, color bool) {
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return code + s + colorReset
	}

	label := paint(colorRed, "error:")
	if diag.Severity == SeverityWarning {
		label = paint(colorYellow, "warning:")
	}

	pos := diag.Pos
	switch {
	case pos.File != "" && pos.Line > 0:
		fmt.Fprintf(w, "%s:%d:%d: %s %s", pos.File, pos.Line, max(pos.Column, 1), label, diag.Msg)
	case pos.File != "":
		fmt.Fprintf(w, "%s: %s %s", pos.File, label, diag.Msg)
	default:
		fmt.Fprintf(w, "%s: %s %s", Program, label, diag.Msg)
	}
	if diag.Flag != "" {
		fmt.Fprintf(w, " [%s]", diag.Flag)
	}
	fmt.Fprintln(w)
	printErrorLine(w, pos, paint)
}

// printErrorLine prints the source line and a caret under the offending span.
func printErrorLine(w io.Writer, pos Position, paint func(code, s string) string) {
	if pos.Text == "" || pos.Line == 0 {
		return
	}
	text := strings.TrimRight(pos.Text, "\r\n")
	fmt.Fprintf(w, "  %s\n", text)

	// Keep tabs so the caret lines up under tab-indented source.
	var pad strings.Builder
	for i := 0; i < max(pos.Column, 1)-1; i++ {
		if i < len(text) && text[i] == '\t' {
			pad.WriteByte('\t')
		} else {
			pad.WriteByte(' ')
		}
	}
	marker := "^"
	if pos.Len > 1 {
		marker += strings.Repeat("~", pos.Len-1)
	}
	fmt.Fprintf(w, "  %s%s\n", pad.String(), paint(colorGreen, marker))
}

// UseColor reports whether f is a terminal that should receive colour codes.
func UseColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func Info(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s: info: %s\n", Program, fmt.Sprintf(format, args...))
}

// Fatal prints an error and exits, running any atexit handlers first.
func Fatal(format string, args ...any) {
	label := "error:"
	if UseColor(os.Stderr) {
		label = colorRed + label + colorReset
	}
	fmt.Fprintf(os.Stderr, "%s: %s %s\n", Program, label, fmt.Sprintf(format, args...))
	atexit.Exit(1)
}
