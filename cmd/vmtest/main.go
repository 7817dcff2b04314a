// vmtest translates every fixture and compares the result against the golden
// file recorded next to it.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/vmt/pkg/codegen"
	"github.com/xplshn/vmt/pkg/config"
	"github.com/xplshn/vmt/pkg/translator"
	"github.com/xplshn/vmt/pkg/unit"
	"github.com/xplshn/vmt/pkg/util"
)

// Golden is the recorded outcome of translating one fixture.
type Golden struct {
	Hash        string   `json:"hash"`
	Assembly    string   `json:"assembly,omitempty"`
	Binary      string   `json:"binary,omitempty"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

type FileTestResult struct {
	File     string        `json:"file"`
	Status   string        `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message  string        `json:"message,omitempty"`
	Diff     string        `json:"diff,omitempty"`
	Duration time.Duration `json:"duration"`
}

type TestSuiteResults map[string]*FileTestResult

var (
	generateGolden = flag.Bool("generate-golden", false, "Write golden files for the selected fixtures instead of testing them.")
	testFiles      = flag.String("test-files", "tests/*.vm tests/*/", "Glob pattern(s) for fixtures, .vm files or program directories (space-separated).")
	skipFiles      = flag.String("skip-files", "", "Fixtures to skip (space-separated).")
	outputJSON     = flag.String("output", ".test_results.json", "Output file for the JSON test report.")
	jobs           = flag.Int("j", 4, "Number of parallel test jobs.")
	verbose        = flag.Bool("v", false, "Enable verbose logging.")
	jsonDir        = flag.String("dir", "", "Directory to store/read golden JSON files (defaults to the fixture's directory).")
	warnFlags      = flag.String("W", "", "Warning flags applied to every translation, e.g. 'no-all' (space-separated).")
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

func main() {
	flag.Parse()
	log.SetFlags(0)

	fixtures, err := expandGlobPatterns(*testFiles)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
	}
	if len(fixtures) == 0 {
		log.Println("No fixtures found matching the pattern(s).")
		return
	}

	if *generateGolden {
		for _, fixture := range fixtures {
			handleGenerateGolden(fixture)
		}
		return
	}

	results := runSuite(fixtures)
	printSummary(results)
	if hasFailures(writeJSONReport(results)) {
		os.Exit(1)
	}
}

func newConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.ProcessFlags(func(fn func(string)) {
		for _, w := range strings.Fields(*warnFlags) {
			fn("W" + w)
		}
	})
	return cfg
}

func getJSONPath(fixture string) string {
	jsonFileName := "." + filepath.Base(filepath.Clean(fixture)) + ".json"
	if *jsonDir != "" {
		return filepath.Join(*jsonDir, jsonFileName)
	}
	return filepath.Join(filepath.Dir(filepath.Clean(fixture)), jsonFileName)
}

// hashFixture computes the xxhash over the fixture's source files in the
// order they are translated.
func hashFixture(fixture string) (string, error) {
	paths, err := unit.Expand([]string{fixture})
	if err != nil {
		return "", err
	}
	h := xxhash.New()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", err
		}
		h.WriteString(filepath.Base(p))
		h.Write([]byte{0})
		h.Write(data)
	}
	return fmt.Sprintf("%x", h.Sum64()), nil
}

// translate runs the fixture through the translator and records everything
// a golden file compares.
func translate(fixture, hash string) (*Golden, error) {
	units, err := unit.LoadAll([]string{fixture})
	if err != nil {
		return nil, err
	}
	cfg := newConfig()
	prog, diags := translator.Translate(cfg, units)

	g := &Golden{Hash: hash}
	for _, d := range diags.List() {
		g.Diagnostics = append(g.Diagnostics, formatDiagnostic(d))
	}
	if prog == nil {
		return g, nil
	}

	text, err := codegen.NewAsmBackend().Generate(prog, cfg)
	if err != nil {
		return nil, err
	}
	g.Assembly = text.String()
	bin, err := codegen.NewHackBackend().Generate(prog, cfg)
	if err != nil {
		return nil, err
	}
	g.Binary = bin.String()
	return g, nil
}

// formatDiagnostic renders d on one line without colour or source excerpt.
// Paths are reduced to their base name so goldens do not depend on where the
// runner was started.
func formatDiagnostic(d util.Diagnostic) string {
	var buf bytes.Buffer
	if d.Pos.File != "" {
		fmt.Fprintf(&buf, "%s:%d:%d: ", filepath.Base(d.Pos.File), d.Pos.Line, d.Pos.Column)
	} else {
		buf.WriteString(util.Program + ": ")
	}
	fmt.Fprintf(&buf, "%s: %s", d.Severity, d.Msg)
	if d.Flag != "" {
		fmt.Fprintf(&buf, " [%s]", d.Flag)
	}
	return buf.String()
}

func handleGenerateGolden(fixture string) {
	hash, err := hashFixture(fixture)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Could not hash fixture %s: %v\n", cRed, cNone, fixture, err)
	}
	golden, err := translate(fixture, hash)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Could not generate golden file for %s: %v\n", cRed, cNone, fixture, err)
	}
	jsonData, err := json.MarshalIndent(golden, "", "  ")
	if err != nil {
		log.Fatalf("%s[ERROR]%s Failed to marshal golden data to JSON: %v\n", cRed, cNone, err)
	}

	goldenFile := getJSONPath(fixture)
	if *jsonDir != "" {
		if err := os.MkdirAll(*jsonDir, 0755); err != nil {
			log.Fatalf("%s[ERROR]%s Failed to create directory %s: %v\n", cRed, cNone, *jsonDir, err)
		}
	}
	if err := os.WriteFile(goldenFile, jsonData, 0644); err != nil {
		log.Fatalf("%s[ERROR]%s Failed to write golden file %s: %v\n", cRed, cNone, goldenFile, err)
	}
	log.Printf("%s[SUCCESS]%s Golden file created at %s\n", cGreen, cNone, goldenFile)
}

func runSuite(fixtures []string) []*FileTestResult {
	skipList := make(map[string]bool)
	for _, f := range strings.Fields(*skipFiles) {
		skipList[filepath.Clean(f)] = true
	}

	type task struct{ fixture, hash string }
	tasks := make(chan task, len(fixtures))
	resultsChan := make(chan *FileTestResult, len(fixtures))
	var wg sync.WaitGroup

	for i := 0; i < max(*jobs, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				resultsChan <- testFixture(t.fixture, t.hash)
			}
		}()
	}

	// Feed the tasks channel, skipping fixtures with identical content
	seenHashes := make(map[string]string)
	for _, fixture := range fixtures {
		if skipList[filepath.Clean(fixture)] {
			resultsChan <- &FileTestResult{File: fixture, Status: "SKIP", Message: "Explicitly skipped"}
			continue
		}
		hash, err := hashFixture(fixture)
		if err != nil {
			resultsChan <- &FileTestResult{File: fixture, Status: "ERROR", Message: fmt.Sprintf("Failed to read fixture for hashing: %v", err)}
			continue
		}
		if original, seen := seenHashes[hash]; seen {
			resultsChan <- &FileTestResult{File: fixture, Status: "SKIP", Message: fmt.Sprintf("Content is identical to %s", original)}
			continue
		}
		seenHashes[hash] = fixture
		tasks <- task{fixture, hash}
	}
	close(tasks)

	wg.Wait()
	close(resultsChan)

	var results []*FileTestResult
	for r := range resultsChan {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].File < results[j].File })
	return results
}

func testFixture(fixture, hash string) *FileTestResult {
	goldenFile := getJSONPath(fixture)
	goldenData, err := os.ReadFile(goldenFile)
	if err != nil {
		return &FileTestResult{File: fixture, Status: "SKIP", Message: "Cannot test without a corresponding .json golden file"}
	}
	var want Golden
	if err := json.Unmarshal(goldenData, &want); err != nil {
		return &FileTestResult{File: fixture, Status: "ERROR", Message: fmt.Sprintf("Could not parse golden file %s: %v", goldenFile, err)}
	}

	start := time.Now()
	got, err := translate(fixture, hash)
	elapsed := time.Since(start)
	if err != nil {
		return &FileTestResult{File: fixture, Status: "ERROR", Message: err.Error(), Duration: elapsed}
	}

	if *verbose && want.Hash != hash {
		log.Printf("[%s] source changed since the golden file was generated (%s -> %s)", fixture, want.Hash, hash)
	}
	got.Hash = want.Hash

	if diff := cmp.Diff(want, *got); diff != "" {
		return &FileTestResult{File: fixture, Status: "FAIL", Message: "Output differs from golden file", Diff: diff, Duration: elapsed}
	}
	msg := "Matches golden file"
	if len(got.Diagnostics) > 0 {
		msg = fmt.Sprintf("Matches golden file (%d diagnostic(s))", len(got.Diagnostics))
	}
	return &FileTestResult{File: fixture, Status: "PASS", Message: msg, Duration: elapsed}
}

func printSummary(results []*FileTestResult) {
	var passed, failed, skipped, errored int
	var total time.Duration
	for _, result := range results {
		total += result.Duration
		if *verbose || result.Status != "PASS" {
			fmt.Println("----------------------------------------------------------------------")
			fmt.Printf("Testing %s%s%s...\n", cCyan, result.File, cNone)
		}
		switch result.Status {
		case "PASS":
			passed++
			if *verbose {
				fmt.Printf("  [%sPASS%s] %s (%s)\n", cGreen, cNone, result.Message, result.Duration)
			}
		case "FAIL":
			failed++
			fmt.Printf("  [%sFAIL%s] %s\n", cRed, cNone, result.Message)
			fmt.Println(formatDiff(result.Diff))
		case "SKIP":
			skipped++
			fmt.Printf("  [%sSKIP%s] %s\n", cYellow, cNone, result.Message)
		case "ERROR":
			errored++
			fmt.Printf("  [%sERROR%s] %s\n", cRed, cNone, result.Message)
		}
	}

	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%sTest Summary:%s %s%d Passed%s, %s%d Failed%s, %s%d Skipped%s, %s%d Errored%s, %d Total (%s)\n",
		cBold, cNone, cGreen, passed, cNone, cRed, failed, cNone, cYellow, skipped, cNone, cRed, errored, cNone, len(results), total)
}

func formatDiff(diff string) string {
	var sb strings.Builder
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "-"):
			sb.WriteString("    " + cRed + line + cNone + "\n")
		case strings.HasPrefix(trimmed, "+"):
			sb.WriteString("    " + cGreen + line + cNone + "\n")
		default:
			sb.WriteString("    " + line + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func writeJSONReport(results []*FileTestResult) TestSuiteResults {
	resultsMap := make(TestSuiteResults, len(results))
	for _, r := range results {
		resultsMap[r.File] = r
	}

	jsonData, err := json.MarshalIndent(resultsMap, "", "  ")
	if err != nil {
		log.Printf("%s[ERROR]%s Failed to marshal results to JSON: %v\n", cRed, cNone, err)
		return resultsMap
	}

	outputFile := *outputJSON
	if *jsonDir != "" {
		if err := os.MkdirAll(*jsonDir, 0755); err != nil {
			log.Printf("%s[ERROR]%s Failed to create dir %s: %v\n", cRed, cNone, *jsonDir, err)
		}
		outputFile = filepath.Join(*jsonDir, *outputJSON)
	}
	if err := os.WriteFile(outputFile, jsonData, 0644); err != nil {
		log.Printf("%s[ERROR]%s Failed to write JSON report to %s: %v\n", cRed, cNone, outputFile, err)
	}
	return resultsMap
}

func hasFailures(results TestSuiteResults) bool {
	for _, r := range results {
		if r.Status == "FAIL" || r.Status == "ERROR" {
			return true
		}
	}
	return false
}

// expandGlobPatterns resolves every pattern, dropping duplicates. Directories
// are kept only when they hold .vm files.
func expandGlobPatterns(patterns string) ([]string, error) {
	seen := make(map[string]bool)
	var fixtures []string
	for _, pattern := range strings.Fields(patterns) {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			m = filepath.Clean(m)
			if seen[m] {
				continue
			}
			info, err := os.Stat(m)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if vms, _ := filepath.Glob(filepath.Join(m, "*"+unit.Ext)); len(vms) == 0 {
					continue
				}
			} else if filepath.Ext(m) != unit.Ext {
				continue
			}
			seen[m] = true
			fixtures = append(fixtures, m)
		}
	}
	sort.Strings(fixtures)
	return fixtures, nil
}
