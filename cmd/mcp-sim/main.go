// Command mcp-sim is an MCP server for AI-driven iOS simulator test
// orchestration.
//
// Tools:
// - device_management: list, boot, shutdown, create, delete, health
// - ui_interaction: tap, swipe, type, scroll, long-press via the automation helper
// - screen_capture: screenshots as base64 or files
// - snapshot / query_state / mutate_state: test-session state with branchable snapshots
// - run_test: named test execution through xcodebuild
//
// Usage:
//
//	./mcp-sim            # Start MCP server (stdio)
//	./mcp-sim --check    # Check prerequisites
//	./mcp-sim --help     # Show help
//
// The server speaks line-delimited JSON-RPC on stdin/stdout; all
// logging goes to stderr.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"simharness/internal/bridge"
	"simharness/internal/config"
	"simharness/internal/device"
	"simharness/internal/helper"
	"simharness/internal/jsonrpc"
	"simharness/internal/logging"
	"simharness/internal/runner"
	"simharness/internal/state"
	"simharness/internal/tools"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--check", "-c":
			checkPrerequisites()
			return
		case "--help", "-h":
			printHelp()
			return
		case "--config":
			if len(os.Args) > 2 {
				configPath = os.Args[2]
			}
		}
	}

	if err := run(configPath); err != nil {
		if errors.Is(err, jsonrpc.ErrIO) {
			fmt.Fprintf(os.Stderr, "I/O error on primary channel: %v\n", err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(&logging.Config{
		Level:     logging.ParseLevel(cfg.Log.Level),
		Format:    logging.ParseFormat(cfg.Log.Format),
		Component: "mcp-sim",
	})

	devices := device.NewRegistry(log)
	boot := device.NewBootMonitor(devices, log)

	ports := bridge.NewPortAllocator(cfg.Helper.PortBase, cfg.Helper.PortRange, log)
	discovery := helper.NewDiscovery(cfg.Helper.WorkspaceDir, bridge.SocketPath("shared"),
		cfg.Helper.PreferSystem, log)
	supCfg := bridge.SupervisorConfig{
		ConnectTimeout: time.Duration(cfg.Bridge.ConnectTimeout) * time.Second,
		PingInterval:   time.Duration(cfg.Bridge.PingInterval) * time.Second,
		MaxFailures:    int64(cfg.Bridge.MaxFailures),
		SpawnAttempts:  3,
	}
	bridges := bridge.NewManager(ports, discovery, supCfg, log)
	defer bridges.StopAll()

	registry := tools.NewRegistry(tools.Deps{
		Devices:   devices,
		Boot:      boot,
		Bridges:   tools.BridgeManager(bridges),
		Store:     state.NewStore(),
		Snapshots: state.NewSnapshots(),
		Runner:    runner.NewRunner("", "", log),
		Log:       log,
	})

	// An initial refresh picks up an already-booted simulator as the
	// active device. Failure is tolerable; the host may have no Xcode
	// until the first device_management call reports it properly.
	ctx := context.Background()
	if _, err := devices.Refresh(ctx); err != nil {
		log.Warn("initial device refresh failed", "error", err)
	}

	log.Info("server starting", "port_base", cfg.Helper.PortBase)
	srv := jsonrpc.NewServer(registry, log)
	return srv.Serve(ctx, os.Stdin, os.Stdout)
}

func printHelp() {
	fmt.Println(`MCP Simulator Server - AI-driven iOS test orchestration via MCP

USAGE:
    mcp-sim                  Start MCP server (communicates via stdio)
    mcp-sim --config PATH    Start with an explicit config file
    mcp-sim --check          Check if prerequisites are installed
    mcp-sim --help           Show this help

ENVIRONMENT:
    MCP_SERVER_LOG           Log verbosity (debug, info, warn, error)
    HELPER_PORT_BASE         First helper port (default 10882)
    HELPER_PREFER_SYSTEM     Require a system-installed automation helper

PREREQUISITES:
    1. Xcode & Command Line Tools
       xcode-select --install

    2. iOS Simulator (boot one before using UI tools)
       xcrun simctl boot "iPhone 15"
       open -a Simulator

TOOLS:
    Devices:  device_management
    UI:       ui_interaction, screen_capture
    State:    snapshot, query_state, mutate_state
    Tests:    run_test`)
}

func checkPrerequisites() {
	fmt.Println("Checking MCP Simulator Server prerequisites...")
	fmt.Println()

	allGood := true

	fmt.Print("✓ Xcode Command Line Tools: ")
	if _, err := exec.LookPath("xcodebuild"); err != nil {
		fmt.Println("NOT FOUND")
		fmt.Println("  → Install: xcode-select --install")
		allGood = false
	} else {
		out, _ := exec.Command("xcodebuild", "-version").Output()
		fmt.Println(strings.Split(string(out), "\n")[0])
	}

	fmt.Print("✓ Simulator (simctl): ")
	if _, err := exec.LookPath("xcrun"); err != nil {
		fmt.Println("NOT FOUND")
		allGood = false
	} else {
		fmt.Println("OK")
	}

	fmt.Print("✓ Booted Simulator: ")
	out, _ := exec.Command("xcrun", "simctl", "list", "devices", "-j").Output()
	if strings.Contains(string(out), `"state" : "Booted"`) {
		fmt.Println("YES")
	} else {
		fmt.Println("NONE")
		fmt.Println("  → Boot one: xcrun simctl boot \"iPhone 15\" && open -a Simulator")
		allGood = false
	}

	fmt.Print("✓ Swift compiler (for the embedded helper): ")
	if _, err := exec.LookPath("swiftc"); err != nil {
		fmt.Println("NOT FOUND")
		fmt.Println("  → Ships with Xcode; install Xcode first")
		allGood = false
	} else {
		fmt.Println("OK")
	}

	fmt.Println()
	if allGood {
		fmt.Println("✅ All prerequisites met! MCP Simulator Server is ready to use.")
	} else {
		fmt.Println("❌ Some prerequisites are missing. Install them and run --check again.")
		os.Exit(1)
	}
}
