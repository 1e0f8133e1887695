// Command apex-harness drives conformance and load-balancing scenarios
// against an Apex gateway binary. Subcommands:
//
//	mock   run one identifiable mock backend (used by the harness itself)
//	synth  synthesize a gateway config from a scenario file and exit
//	run    execute a full harness plan against a gateway binary
package main

import (
	"fmt"
	"os"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	loadEnvFiles()

	switch args[0] {
	case "mock":
		runMockCommand(args[1:])
	case "synth":
		runSynthCommand(args[1:])
	case "run":
		runRunCommand(args[1:])
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Apex Gateway Conformance Harness")
	fmt.Println()
	fmt.Println("Usage: apex-harness COMMAND [OPTIONS]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  mock     Run an identifiable mock backend (--port, --id)")
	fmt.Println("  synth    Synthesize a gateway config (--scenario, --out)")
	fmt.Println("  run      Run a harness plan (--plan, --gateway, ...)")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  APEX_VKEY    Override the verification credential")
	fmt.Println("  APEX_CONFIG  Override the synthesized config path")
}
