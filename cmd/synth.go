package main

import (
	"fmt"
	"os"

	"github.com/cregis-dev/apex/internal/scenario"
)

// runSynthCommand synthesizes a gateway config from a scenario file. With
// --out it writes to that path, otherwise to the scenario's config_path,
// otherwise to stdout.
func runSynthCommand(args []string) {
	var (
		scenarioFlag string
		outFlag      string
	)

	i := 0
	for i < len(args) {
		switch args[i] {
		case "-h", "--help":
			fmt.Println("Usage: apex-harness synth --scenario FILE [--out PATH]")
			return
		case "-s", "--scenario":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --scenario requires a value")
				os.Exit(1)
			}
			scenarioFlag = args[i+1]
			i += 2
		case "-o", "--out":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --out requires a value")
				os.Exit(1)
			}
			outFlag = args[i+1]
			i += 2
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown option: %s\n", args[i])
			os.Exit(1)
		}
	}

	if scenarioFlag == "" {
		fmt.Fprintln(os.Stderr, "Error: --scenario is required")
		os.Exit(1)
	}

	s, err := scenario.LoadScenario(scenarioFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := scenario.Synthesize(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	target := outFlag
	if target == "" {
		target = s.ConfigPath
	}
	if target == "" {
		data, err := scenario.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(data)
		return
	}
	if err := scenario.WriteFile(cfg, target); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", target)
}
