package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/cregis-dev/apex/internal/backend"
)

// runMockCommand runs a single identifiable mock backend until the process
// receives SIGINT or SIGTERM.
func runMockCommand(args []string) {
	var (
		portFlag string
		idFlag   string
	)

	i := 0
	for i < len(args) {
		switch args[i] {
		case "-h", "--help":
			fmt.Println("Usage: apex-harness mock --port PORT --id IDENTITY")
			return
		case "-p", "--port":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --port requires a value")
				os.Exit(1)
			}
			portFlag = args[i+1]
			i += 2
		case "--id":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --id requires a value")
				os.Exit(1)
			}
			idFlag = args[i+1]
			i += 2
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown option: %s\n", args[i])
			os.Exit(1)
		}
	}

	port, err := strconv.Atoi(portFlag)
	if err != nil || port <= 0 || port > 65535 {
		fmt.Fprintf(os.Stderr, "Error: invalid port '%s'\n", portFlag)
		os.Exit(1)
	}
	if idFlag == "" {
		fmt.Fprintln(os.Stderr, "Error: --id is required")
		os.Exit(1)
	}

	// The backend is identified through its responses only; request logging
	// stays off so its stdout never pollutes failure reports.
	silenceLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := backend.New(port, idFlag)
	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
