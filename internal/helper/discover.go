package helper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// systemHelperName is the executable we look for on PATH.
const systemHelperName = "sim-automation-helper"

// Discovery locates a helper binary: a system install on PATH, then a
// previously built copy in the workspace cache, then a fresh build
// from the embedded template. Non-executable candidates are rejected.
type Discovery struct {
	workspaceDir string
	preferSystem bool
	socketPath   string
	compiler     *Compiler
	log          *slog.Logger

	lookPath func(string) (string, error)
}

// NewDiscovery creates a discovery rooted at workspaceDir. socketPath
// is baked into any freshly built helper.
func NewDiscovery(workspaceDir, socketPath string, preferSystem bool, log *slog.Logger) *Discovery {
	if log == nil {
		log = slog.Default()
	}
	return &Discovery{
		workspaceDir: workspaceDir,
		preferSystem: preferSystem,
		socketPath:   socketPath,
		compiler:     NewCompiler(workspaceDir, log),
		log:          log,
		lookPath:     exec.LookPath,
	}
}

// Locate implements bridge.Locator.
func (d *Discovery) Locate(ctx context.Context) (string, error) {
	if path, ok := d.systemHelper(); ok {
		d.log.Info("using system helper", "path", path)
		return path, nil
	}
	if d.preferSystem {
		return "", fmt.Errorf("HELPER_PREFER_SYSTEM is set but no %s was found on PATH", systemHelperName)
	}

	if path, ok := d.cachedHelper(); ok {
		d.log.Info("using cached helper", "path", path)
		return path, nil
	}

	d.log.Info("building helper from embedded template")
	result, err := d.compiler.Build(ctx, d.socketPath)
	if err != nil {
		return "", fmt.Errorf("no system or cached helper, and build failed: %w", err)
	}
	return result.BinaryPath, nil
}

func (d *Discovery) systemHelper() (string, bool) {
	path, err := d.lookPath(systemHelperName)
	if err != nil {
		return "", false
	}
	if !isExecutable(path) {
		d.log.Warn("ignoring non-executable helper on PATH", "path", path)
		return "", false
	}
	return path, true
}

// cachedHelper scans the build cache for any previously compiled
// binary.
func (d *Discovery) cachedHelper() (string, bool) {
	cacheRoot := filepath.Join(d.workspaceDir, "cache")
	entries, err := os.ReadDir(cacheRoot)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(cacheRoot, e.Name(), executableName+".bundle", executableName)
		if isExecutable(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
