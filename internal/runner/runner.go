// Package runner executes named tests through the host test runner.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"simharness/internal/mcperr"
)

// Timeout bounds for a single test run.
const (
	DefaultTimeout = 300 * time.Second
	MaxTimeout     = 3600 * time.Second
)

// testNamePattern is the full identifier grammar. Dot-dot sequences
// and leading slashes are checked separately so the messages can name
// the exact problem.
var testNamePattern = regexp.MustCompile(`^[A-Za-z0-9_:./-]{1,256}$`)

// ValidateTestName rejects identifiers that could escape into the
// filesystem or confuse the host runner.
func ValidateTestName(name string) *mcperr.Error {
	if name == "" {
		return mcperr.New(mcperr.ValidationError, "Invalid test name: must not be empty")
	}
	if len(name) > 256 {
		return mcperr.Newf(mcperr.ValidationError, "Invalid test name: exceeds 256 characters (%d)", len(name))
	}
	if !testNamePattern.MatchString(name) {
		return mcperr.Newf(mcperr.ValidationError,
			"Invalid test name %q: contains characters outside [A-Za-z0-9_:./-]", name)
	}
	if strings.Contains(name, "..") {
		return mcperr.Newf(mcperr.ValidationError, "Invalid test name %q: must not contain '..'", name)
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return mcperr.Newf(mcperr.ValidationError, "Invalid test name %q: must not start with a path separator", name)
	}
	return nil
}

// ClampTimeout applies the default and the hard ceiling. Zero or
// negative means "use the default".
func ClampTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return DefaultTimeout
	}
	if requested > MaxTimeout {
		return MaxTimeout
	}
	return requested
}

// Result is the outcome of one test run.
type Result struct {
	TestName string `json:"test_name"`
	Passed   bool   `json:"passed"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
	Duration string `json:"duration"`
}

// Runner shells out to xcodebuild for test execution.
type Runner struct {
	projectPath string
	scheme      string
	log         *slog.Logger

	execute func(ctx context.Context, name string, args ...string) (string, int, error)
}

// NewRunner creates a runner for the given project and scheme. Both
// may be empty; xcodebuild then resolves from the working directory.
func NewRunner(projectPath, scheme string, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		projectPath: projectPath,
		scheme:      scheme,
		log:         log,
		execute:     runWithExit,
	}
}

func runWithExit(ctx context.Context, name string, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	err := cmd.Run()

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		err = nil
	}
	return combined.String(), exitCode, err
}

// Run validates the identifier, clamps the timeout, and executes the
// named test on deviceID.
func (r *Runner) Run(ctx context.Context, deviceID, testName string, timeout time.Duration) (*Result, *mcperr.Error) {
	if merr := ValidateTestName(testName); merr != nil {
		return nil, merr
	}
	timeout = ClampTimeout(timeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"test", "-only-testing:" + testName,
		"-destination", fmt.Sprintf("platform=iOS Simulator,id=%s", deviceID)}
	if r.projectPath != "" {
		args = append(args, "-project", r.projectPath)
	}
	if r.scheme != "" {
		args = append(args, "-scheme", r.scheme)
	}

	r.log.Info("running test", "test", testName, "device", deviceID, "timeout", timeout)
	start := time.Now()
	output, exitCode, err := r.execute(ctx, "xcodebuild", args...)
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, mcperr.Newf(mcperr.TimeoutError, "test %s exceeded its %s timeout", testName, timeout).
			With("test_name", testName).
			Retryable(true)
	}
	if err != nil {
		return nil, mcperr.Newf(mcperr.ToolExecutionFailed, "failed to launch xcodebuild: %v", err)
	}

	return &Result{
		TestName: testName,
		Passed:   exitCode == 0,
		ExitCode: exitCode,
		Output:   tail(output, 4000),
		Duration: elapsed.Round(time.Millisecond).String(),
	}, nil
}

// tail keeps the last n bytes of test output, where failures show up.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}
