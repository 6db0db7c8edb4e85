package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simharness/internal/mcperr"
)

func TestValidateTestName(t *testing.T) {
	valid := []string{
		"MyAppTests/LoginTests/testValidLogin",
		"MyAppTests.LoginTests:testValidLogin",
		"suite_name-2",
		strings.Repeat("a", 256),
	}
	for _, name := range valid {
		assert.Nil(t, ValidateTestName(name), "expected %q to validate", name)
	}

	invalid := map[string]string{
		"":                          "empty",
		strings.Repeat("a", 257):    "256",
		"tests/../../etc/passwd":    "..",
		"/absolute/path":            "separator",
		`\windows\path`:             "characters",
		"test name with spaces":     "characters",
		"suite;rm -rf":              "characters",
		"emojié":               "characters",
	}
	for name, wantFragment := range invalid {
		merr := ValidateTestName(name)
		require.NotNil(t, merr, "expected %q to fail", name)
		assert.Equal(t, mcperr.ValidationError, merr.Code)
		assert.Contains(t, merr.Message, "Invalid test name")
		assert.Contains(t, merr.Message, wantFragment)
	}
}

func TestValidateTestNameRejectsShellMetacharacters(t *testing.T) {
	merr := ValidateTestName("test; rm -rf /")
	require.NotNil(t, merr)
	assert.Equal(t, mcperr.ValidationError, merr.Code)
	assert.Contains(t, merr.Message, "Invalid test name")
}

func TestClampTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, ClampTimeout(0))
	assert.Equal(t, DefaultTimeout, ClampTimeout(-time.Second))
	assert.Equal(t, 10*time.Second, ClampTimeout(10*time.Second))
	assert.Equal(t, MaxTimeout, ClampTimeout(5000*time.Second))
}

func TestRunInvokesOnlyTesting(t *testing.T) {
	var gotArgs []string
	r := NewRunner("/proj/App.xcodeproj", "App", nil)
	r.execute = func(_ context.Context, name string, args ...string) (string, int, error) {
		gotArgs = append([]string{name}, args...)
		return "Test Suite 'All tests' passed", 0, nil
	}

	result, merr := r.Run(context.Background(), "AAA-111", "AppTests/testLogin", 0)
	require.Nil(t, merr)
	assert.True(t, result.Passed)
	assert.Zero(t, result.ExitCode)

	joined := strings.Join(gotArgs, " ")
	assert.Contains(t, joined, "xcodebuild test")
	assert.Contains(t, joined, "-only-testing:AppTests/testLogin")
	assert.Contains(t, joined, "id=AAA-111")
	assert.Contains(t, joined, "-project /proj/App.xcodeproj")
	assert.Contains(t, joined, "-scheme App")
}

func TestRunSurfacesFailureExitCode(t *testing.T) {
	r := NewRunner("", "", nil)
	r.execute = func(context.Context, string, ...string) (string, int, error) {
		return "Test Suite 'AppTests' failed", 65, nil
	}

	result, merr := r.Run(context.Background(), "AAA-111", "AppTests/testBroken", 0)
	require.Nil(t, merr)
	assert.False(t, result.Passed)
	assert.Equal(t, 65, result.ExitCode)
	assert.Contains(t, result.Output, "failed")
}

func TestRunRejectsBadNameBeforeExecuting(t *testing.T) {
	executed := false
	r := NewRunner("", "", nil)
	r.execute = func(context.Context, string, ...string) (string, int, error) {
		executed = true
		return "", 0, nil
	}

	_, merr := r.Run(context.Background(), "AAA-111", "../escape", 0)
	require.NotNil(t, merr)
	assert.Equal(t, mcperr.ValidationError, merr.Code)
	assert.False(t, executed)
}

func TestRunTimesOut(t *testing.T) {
	r := NewRunner("", "", nil)
	r.execute = func(ctx context.Context, _ string, _ ...string) (string, int, error) {
		<-ctx.Done()
		return "", -1, ctx.Err()
	}

	_, merr := r.Run(context.Background(), "AAA-111", "AppTests/testSlow", time.Millisecond)
	require.NotNil(t, merr)
	assert.Equal(t, mcperr.TimeoutError, merr.Code)
}

func TestTailKeepsEnd(t *testing.T) {
	long := strings.Repeat("x", 5000) + "FAILURE LINE"
	out := tail(long, 100)
	assert.Contains(t, out, "FAILURE LINE")
	assert.LessOrEqual(t, len(out), 110)
}
