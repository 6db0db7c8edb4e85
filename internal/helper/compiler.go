// Package helper builds, caches, and locates the on-simulator
// automation helper.
package helper

import (
	"bytes"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

//go:embed templates/helper_main.swift
var helperSource string

//go:embed templates/Info.plist
var infoPlist string

// socketPathToken is the single placeholder in the embedded source.
const socketPathToken = "{{SOCKET_PATH}}"

// executableName is the helper binary inside the bundle.
const executableName = "AutomationHelper"

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, string, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.String(), err
}

// strategy is one compiler invocation recipe. Strategies are tried in
// order until one produces a binary.
type strategy struct {
	name      string
	target    string
	useXCTest bool
}

var strategies = []strategy{
	{name: "x86_64-xctest", target: "x86_64-apple-ios17.0-simulator", useXCTest: true},
	{name: "arm64-xctest", target: "arm64-apple-ios17.0-simulator", useXCTest: true},
	{name: "x86_64-minimal", target: "x86_64-apple-ios15.0-simulator", useXCTest: false},
}

// BuildResult describes a compiled helper bundle.
type BuildResult struct {
	BundlePath string `json:"bundle_path"`
	BinaryPath string `json:"binary_path"`
	Strategy   string `json:"strategy"`
	Cached     bool   `json:"cached"`
}

// Compiler turns the embedded template into a signed helper bundle.
// Output is cached by source checksum so repeated server starts skip
// the toolchain entirely.
type Compiler struct {
	workDir string
	log     *slog.Logger
	run     runFunc
}

// NewCompiler creates a compiler caching under workDir.
func NewCompiler(workDir string, log *slog.Logger) *Compiler {
	if log == nil {
		log = slog.Default()
	}
	return &Compiler{workDir: workDir, log: log, run: execRun}
}

// renderSource substitutes the socket path into the template.
func renderSource(socketPath string) string {
	return strings.ReplaceAll(helperSource, socketPathToken, socketPath)
}

// sourceChecksum keys the build cache.
func sourceChecksum(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])[:16]
}

// Build compiles the helper for socketPath, reusing the cache when the
// rendered source is unchanged.
func (c *Compiler) Build(ctx context.Context, socketPath string) (*BuildResult, error) {
	source := renderSource(socketPath)
	checksum := sourceChecksum(source)

	bundleDir := filepath.Join(c.workDir, "cache", checksum, executableName+".bundle")
	binaryPath := filepath.Join(bundleDir, executableName)
	if info, err := os.Stat(binaryPath); err == nil && info.Mode()&0o111 != 0 {
		c.log.Debug("helper cache hit", "checksum", checksum)
		return &BuildResult{BundlePath: bundleDir, BinaryPath: binaryPath, Strategy: "cached", Cached: true}, nil
	}

	scratch, err := os.MkdirTemp("", "helper-build-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	sourcePath := filepath.Join(scratch, "main.swift")
	if err := os.WriteFile(sourcePath, []byte(source), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write helper source: %w", err)
	}

	sdkPath, err := c.sdkPath(ctx)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bundle dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(bundleDir, "Info.plist"), []byte(infoPlist), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write Info.plist: %w", err)
	}

	var lastErr error
	for _, s := range strategies {
		args := []string{"-target", s.target, "-sdk", sdkPath, "-o", binaryPath, sourcePath}
		if s.useXCTest {
			frameworks := filepath.Join(sdkPath, "..", "..", "Library", "Frameworks")
			args = append([]string{"-F", frameworks, "-framework", "XCTest"}, args...)
		}

		_, stderr, err := c.run(ctx, "swiftc", args...)
		if err != nil {
			lastErr = fmt.Errorf("strategy %s: %s", s.name, strings.TrimSpace(stderr))
			c.log.Debug("compile strategy failed", "strategy", s.name, "error", lastErr)
			continue
		}

		if err := c.sign(ctx, bundleDir); err != nil {
			return nil, err
		}
		c.log.Info("helper compiled", "strategy", s.name, "checksum", checksum)
		return &BuildResult{BundlePath: bundleDir, BinaryPath: binaryPath, Strategy: s.name}, nil
	}

	return nil, fmt.Errorf("all compile strategies failed: %w", lastErr)
}

func (c *Compiler) sdkPath(ctx context.Context) (string, error) {
	out, stderr, err := c.run(ctx, "xcrun", "--sdk", "iphonesimulator", "--show-sdk-path")
	if err != nil {
		return "", fmt.Errorf("could not locate simulator SDK: %s", strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *Compiler) sign(ctx context.Context, bundleDir string) error {
	_, stderr, err := c.run(ctx, "codesign", "--force", "--sign", "-", bundleDir)
	if err != nil {
		return fmt.Errorf("codesign failed: %s", strings.TrimSpace(stderr))
	}
	return nil
}
