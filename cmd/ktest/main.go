// ktest runs .ks programs through both execution engines and compares what
// they print, with each other and with the golden file recorded next to the
// program.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/kaleido/pkg/config"
	"github.com/xplshn/kaleido/pkg/jit"
	"github.com/xplshn/kaleido/pkg/session"
	"github.com/xplshn/kaleido/pkg/util"
)

type Execution struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

type Golden struct {
	Hash   string    `json:"hash"`
	Result Execution `json:"result"`
}

type FileTestResult struct {
	File    string     `json:"file"`
	Status  string     `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message string     `json:"message,omitempty"`
	Diff    string     `json:"diff,omitempty"`
	Interp  *Execution `json:"interp,omitempty"`
	Native  *Execution `json:"native,omitempty"`
}

type TestSuiteResults map[string]*FileTestResult

var (
	testFiles  = flag.String("test-files", "tests/*.ks", "Glob pattern(s) for files to test (space-separated).")
	skipFiles  = flag.String("skip-files", "", "Files to skip (space-separated).")
	outputJSON = flag.String("output", ".test_results.json", "Output file for the JSON test report.")
	timeout    = flag.Duration("timeout", 10*time.Second, "Timeout for each program.")
	jobs       = flag.Int("j", 4, "Number of parallel test jobs.")
	update     = flag.Bool("update", false, "Rewrite golden files from the interpreter's output.")
	noNative   = flag.Bool("no-native", false, "Only run the interpreter.")
	cc         = flag.String("cc", "cc", "C compiler used by the native engine.")
	verbose    = flag.Bool("v", false, "Enable verbose logging.")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	files, err := expandGlobPatterns(*testFiles)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
	}
	if len(files) == 0 {
		log.Println("No test files found matching the pattern(s).")
		return
	}

	native := !*noNative
	if _, err := exec.LookPath(*cc); native && err != nil {
		log.Printf("%s[WARN]%s C compiler '%s' not found. Only the interpreter will run.\n", cYellow, cNone, *cc)
		native = false
	}

	skipList := make(map[string]bool)
	for _, f := range strings.Fields(*skipFiles) {
		skipList[f] = true
	}

	tasks := make(chan string, len(files))
	resultsChan := make(chan *FileTestResult, len(files))
	var wg sync.WaitGroup
	for i := 0; i < *jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range tasks {
				resultsChan <- testFile(ctx, file, native)
			}
		}()
	}
	for _, file := range files {
		if skipList[file] || skipList[filepath.Base(file)] {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", Message: "Explicitly skipped"}
			continue
		}
		tasks <- file
	}
	close(tasks)
	wg.Wait()
	close(resultsChan)

	var allResults []*FileTestResult
	for result := range resultsChan {
		allResults = append(allResults, result)
	}
	sort.Slice(allResults, func(i, j int) bool { return allResults[i].File < allResults[j].File })

	printSummary(allResults)
	if hasFailures(writeJSONReport(allResults)) {
		os.Exit(1)
	}
}

func getJSONPath(sourceFile string) string {
	return filepath.Join(filepath.Dir(sourceFile), "."+filepath.Base(sourceFile)+".json")
}

func hashContent(content []byte) string {
	return fmt.Sprintf("%x", xxhash.Sum64(content))
}

func testFile(ctx context.Context, file string, native bool) *FileTestResult {
	content, err := os.ReadFile(file)
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not read file: %v", err)}
	}
	hash := hashContent(content)

	interpResult := execute(ctx, file, content, config.BackendInterp)
	result := &FileTestResult{File: file, Status: "PASS", Interp: &interpResult}
	var diffs strings.Builder

	if native {
		nativeResult := execute(ctx, file, content, config.BackendNative)
		result.Native = &nativeResult
		compareExecutions(&diffs, "native", interpResult, nativeResult, false)
	}

	goldenFile := getJSONPath(file)
	if *update {
		if err := writeGolden(goldenFile, Golden{Hash: hash, Result: interpResult}); err != nil {
			return &FileTestResult{File: file, Status: "ERROR", Message: err.Error()}
		}
		result.Message = "Golden file updated"
	} else if golden, err := readGolden(goldenFile); err == nil {
		if golden.Hash != hash {
			result.Message = "Golden file is stale, run with --update"
		}
		compareExecutions(&diffs, "golden", golden.Result, interpResult, true)
	} else if !os.IsNotExist(err) {
		return &FileTestResult{File: file, Status: "ERROR", Message: err.Error()}
	} else {
		result.Message = "No golden file"
	}

	if diffs.Len() > 0 {
		result.Status = "FAIL"
		result.Diff = diffs.String()
	}
	if result.Message == "" {
		result.Message = "All engines agree"
	}
	return result
}

// compareExecutions writes a description of every mismatch between want and
// got. Diagnostic text only has to match when withStderr is set, since engine
// failures are worded differently by each engine.
func compareExecutions(diffs *strings.Builder, label string, want, got Execution, withStderr bool) {
	if want.TimedOut != got.TimedOut {
		fmt.Fprintf(diffs, "%s timeout mismatch: want %v, got %v\n", label, want.TimedOut, got.TimedOut)
	}
	if want.Errors != got.Errors {
		fmt.Fprintf(diffs, "%s error count mismatch: want %d, got %d\n", label, want.Errors, got.Errors)
	}
	if want.Stdout != got.Stdout {
		fmt.Fprintf(diffs, "%s STDOUT mismatch:\n%s", label, cmp.Diff(want.Stdout, got.Stdout))
	}
	if withStderr && want.Stderr != got.Stderr {
		fmt.Fprintf(diffs, "%s STDERR mismatch:\n%s", label, cmp.Diff(want.Stderr, got.Stderr))
	}
}

// execute runs content through a fresh session on the given engine.
func execute(ctx context.Context, file string, content []byte, backend string) Execution {
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	cfg := config.NewConfig()
	cfg.CC = *cc
	cfg.SetBackend(backend)
	cfg.SetTarget(runtime.GOOS, runtime.GOARCH, "")

	var stdout, stderr bytes.Buffer
	var logOut io.Writer = io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	logger, _ := util.NewLogger(util.LogConfig{Level: "debug"}, logOut)

	var engine jit.Engine
	if backend == config.BackendNative {
		n, err := jit.NewNative(cfg, &stdout, logger.With("file", filepath.Base(file)))
		if err != nil {
			return Execution{Stderr: err.Error(), Errors: 1}
		}
		engine = n
	} else {
		engine = jit.NewInterp(&stdout)
	}

	rep := util.NewReporter(cfg, &stderr)
	s := session.New(cfg, engine,
		session.WithReporter(rep),
		session.WithSource(filepath.Base(file), string(content)),
		session.WithOutput(&stdout),
		session.WithLogger(logger),
	)
	defer s.Close()

	start := time.Now()
	err := s.Run(ctx)
	return Execution{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Errors:   rep.Errors,
		Duration: time.Since(start),
		TimedOut: err != nil && ctx.Err() == context.DeadlineExceeded,
	}
}

func readGolden(path string) (*Golden, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var g Golden
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("could not parse golden file %s: %w", path, err)
	}
	return &g, nil
}

func writeGolden(path string, g Golden) error {
	g.Result.Duration = 0
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal golden data: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write golden file %s: %w", path, err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%6dµs", d.Microseconds())
	}
	return fmt.Sprintf("%6dms", d.Milliseconds())
}

func printSummary(results []*FileTestResult) {
	var passed, failed, skipped, errored int
	for _, result := range results {
		fmt.Println("----------------------------------------------------------------------")
		fmt.Printf("Testing %s%s%s...\n", cCyan, result.File, cNone)

		switch result.Status {
		case "PASS":
			passed++
			fmt.Printf("  [%sPASS%s] %s\n", cGreen, cNone, result.Message)
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

		if *verbose && result.Interp != nil {
			line := fmt.Sprintf("  [interp: %s", formatDuration(result.Interp.Duration))
			if result.Native != nil {
				line += fmt.Sprintf(" | native: %s", formatDuration(result.Native.Duration))
			}
			fmt.Println(line + "]")
		}
	}

	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%sTest Summary:%s %s%d Passed%s, %s%d Failed%s, %s%d Skipped%s, %s%d Errored%s, %d Total\n",
		cBold, cNone, cGreen, passed, cNone, cRed, failed, cNone, cYellow, skipped, cNone, cRed, errored, cNone, len(results))
}

func formatDiff(diff string) string {
	if diff == "" {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("    --- Diff ---\n")
	for _, line := range strings.Split(diff, "\n") {
		trimmedLine := strings.TrimSpace(line)
		if strings.HasPrefix(trimmedLine, "-") {
			builder.WriteString(cRed)
		} else if strings.HasPrefix(trimmedLine, "+") {
			builder.WriteString(cGreen)
		}
		builder.WriteString("    " + line + cNone + "\n")
	}
	return builder.String()
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
	if err := os.WriteFile(*outputJSON, jsonData, 0644); err != nil {
		log.Printf("%s[ERROR]%s Failed to write JSON report to %s: %v\n", cRed, cNone, *outputJSON, err)
	} else {
		fmt.Printf("Full test report saved to %s\n", *outputJSON)
	}
	return resultsMap
}

func hasFailures(results TestSuiteResults) bool {
	for _, result := range results {
		if result.Status == "FAIL" || result.Status == "ERROR" {
			return true
		}
	}
	return false
}

func expandGlobPatterns(patterns string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]bool)
	for _, pattern := range strings.Fields(patterns) {
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", pattern, err)
		}
		for _, file := range files {
			if info, err := os.Stat(file); err == nil && info.Mode().IsRegular() && !seen[file] {
				allFiles = append(allFiles, file)
				seen[file] = true
			}
		}
	}
	return allFiles, nil
}
