package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cregis-dev/apex/internal/harness"
)

// runRunCommand executes a full harness plan against a gateway binary.
// Exit code 0 means every check passed; anything else prints the captured
// diagnostics and exits non-zero.
func runRunCommand(args []string) {
	var (
		planFlag    string
		gatewayFlag string
		mockFlag    string
		vkeyFlag    string
		resultsFlag string
		failFast    bool
		debugFlag   bool
	)

	i := 0
	for i < len(args) {
		switch args[i] {
		case "-h", "--help":
			printRunHelp()
			return
		case "--plan":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --plan requires a value")
				os.Exit(1)
			}
			planFlag = args[i+1]
			i += 2
		case "--gateway":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --gateway requires a value")
				os.Exit(1)
			}
			gatewayFlag = args[i+1]
			i += 2
		case "--mock-bin":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --mock-bin requires a value")
				os.Exit(1)
			}
			mockFlag = args[i+1]
			i += 2
		case "--vkey":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --vkey requires a value")
				os.Exit(1)
			}
			vkeyFlag = args[i+1]
			i += 2
		case "--results":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --results requires a value")
				os.Exit(1)
			}
			resultsFlag = args[i+1]
			i += 2
		case "--fail-fast":
			failFast = true
			i++
		case "-d", "--debug":
			debugFlag = true
			i++
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown option: %s\n", args[i])
			os.Exit(1)
		}
	}

	setupLogging(debugFlag, os.Stderr)

	if planFlag == "" || gatewayFlag == "" {
		fmt.Fprintln(os.Stderr, "Error: --plan and --gateway are required")
		os.Exit(1)
	}

	plan, err := harness.LoadPlan(planFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Environment overrides are resolved here, at the edge; the core only
	// ever sees explicit values.
	if vkeyFlag == "" {
		vkeyFlag = os.Getenv("APEX_VKEY")
	}
	if override := os.Getenv("APEX_CONFIG"); override != "" {
		plan.Scenario.ConfigPath = override
	}

	mockBin := mockFlag
	if mockBin == "" {
		// The harness doubles as its own mock backend binary.
		self, err := os.Executable()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot locate own binary for mock backends: %v\n", err)
			os.Exit(1)
		}
		mockBin = self
	}

	// Interrupts cancel the run; deferred teardown inside Run stops every
	// managed process before we exit.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = harness.Run(ctx, harness.Options{
		Plan:         plan,
		Name:         planFlag,
		GatewayBin:   gatewayFlag,
		MockBin:      mockBin,
		VKeyOverride: vkeyFlag,
		ResultsPath:  resultsFlag,
		FailFast:     failFast,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nFAIL: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("PASS: all checks passed")
}

func printRunHelp() {
	fmt.Println("Run a harness plan against a gateway binary")
	fmt.Println()
	fmt.Println("Usage: apex-harness run --plan FILE --gateway BIN [OPTIONS]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --plan FILE      Harness plan (scenario + checks, YAML)")
	fmt.Println("  --gateway BIN    Path to the gateway binary under test")
	fmt.Println("  --mock-bin BIN   Mock backend binary (default: this binary)")
	fmt.Println("  --vkey KEY       Credential override (or APEX_VKEY)")
	fmt.Println("  --results PATH   Record trials to a SQLite file")
	fmt.Println("  --fail-fast      Stop at the first failed check")
	fmt.Println("  -d, --debug      Enable debug logging")
}
