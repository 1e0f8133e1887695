package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cregis-dev/apex/internal/backend"
	"github.com/cregis-dev/apex/internal/orchestrator"
	"github.com/cregis-dev/apex/internal/results"
	"github.com/cregis-dev/apex/internal/scenario"
)

// childRoleEnv makes the test binary double as the executables a run
// launches, so Run can be exercised end to end without building anything.
const childRoleEnv = "APEX_HARNESS_CHILD"

// gatewayModeEnv switches the stand-in gateway into a failure mode.
const gatewayModeEnv = "APEX_HARNESS_GATEWAY"

func TestMain(m *testing.M) {
	if os.Getenv(childRoleEnv) == "1" {
		runChildProcess(os.Args[1:])
		return
	}
	os.Exit(m.Run())
}

// runChildProcess dispatches on the argument surface Run uses: the mock
// subcommand for backends, "gateway start <config>" for the gateway. The
// gateway stand-in is a reverse proxy to the scenario's first channel, which
// is exactly what a priority router degenerates to with one healthy target.
func runChildProcess(args []string) {
	if len(args) == 0 {
		os.Exit(2)
	}
	switch args[0] {
	case "mock":
		port := 0
		id := ""
		for i := 1; i < len(args)-1; i++ {
			switch args[i] {
			case "--port":
				port, _ = strconv.Atoi(args[i+1])
			case "--id":
				id = args[i+1]
			}
		}
		if err := backend.New(port, id).ListenAndServe(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "gateway":
		if os.Getenv(gatewayModeEnv) == "exit" {
			fmt.Fprintln(os.Stderr, "router table rejected")
			os.Exit(3)
		}
		data, err := os.ReadFile(args[len(args)-1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		var cfg scenario.GatewayConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		target, err := url.Parse(cfg.Channels[0].BaseURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		srv := &http.Server{
			Addr:              cfg.Global.Listen,
			Handler:           httputil.NewSingleHostReverseProxy(target),
			ReadHeaderTimeout: 10 * time.Second,
		}
		fmt.Fprintln(os.Stderr, srv.ListenAndServe())
		os.Exit(1)
	default:
		os.Exit(2)
	}
	os.Exit(0)
}

func singleChannelPlan(t *testing.T) (*Plan, int, int) {
	t.Helper()
	mockPort, err := orchestrator.FindFreePort()
	require.NoError(t, err)
	gwPort, err := orchestrator.FindFreePort()
	require.NoError(t, err)

	return &Plan{
		Scenario: scenario.Scenario{
			Listen:     fmt.Sprintf("127.0.0.1:%d", gwPort),
			ConfigPath: filepath.Join(t.TempDir(), "config.json"),
			Channels: []scenario.ChannelSpec{{
				Name:    "channel_a",
				BaseURL: fmt.Sprintf("http://127.0.0.1:%d", mockPort),
			}},
			Routers: []scenario.RouterSpec{{
				Name:     "priority-router",
				VKey:     "test-key",
				Strategy: scenario.StrategyPriority,
				Rules: []scenario.RuleSpec{{
					Match:    scenario.MatchAll,
					Channels: []scenario.TargetRef{{Name: "channel_a"}},
				}},
			}},
		},
		Identities: map[string]string{"channel_a": "A"},
		Checks: []Check{{
			Router: "priority-router",
			Policy: scenario.StrategyPriority,
			Trials: 5,
			Expect: []string{"A"},
		}},
	}, mockPort, gwPort
}

func selfBinary(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return exe
}

func assertTornDown(t *testing.T, configPath string, ports ...int) {
	t.Helper()
	_, err := os.Stat(configPath)
	assert.True(t, os.IsNotExist(err), "synthesized config must be deleted on teardown")
	for _, port := range ports {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		require.NoError(t, err, "port %d must be bindable again after the run", port)
		_ = ln.Close()
	}
}

func TestRun_PassThenTeardown(t *testing.T) {
	t.Setenv(childRoleEnv, "1")
	plan, mockPort, gwPort := singleChannelPlan(t)
	resultsPath := filepath.Join(t.TempDir(), "results.db")
	exe := selfBinary(t)

	err := Run(context.Background(), Options{
		Plan:         plan,
		Name:         "priority-single-channel",
		GatewayBin:   exe,
		MockBin:      exe,
		ResultsPath:  resultsPath,
		ReadyTimeout: 15 * time.Second,
		StopGrace:    2 * time.Second,
	})
	require.NoError(t, err)

	assertTornDown(t, plan.Scenario.ConfigPath, mockPort, gwPort)

	store, err := results.Open(resultsPath)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	runs, err := store.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "passed", runs[0].Status)
}

func TestRun_GatewayStartupFailureTearsDown(t *testing.T) {
	t.Setenv(childRoleEnv, "1")
	t.Setenv(gatewayModeEnv, "exit")
	plan, mockPort, gwPort := singleChannelPlan(t)
	exe := selfBinary(t)

	err := Run(context.Background(), Options{
		Plan:         plan,
		Name:         "gateway-crash",
		GatewayBin:   exe,
		MockBin:      exe,
		ReadyTimeout: 15 * time.Second,
		StopGrace:    2 * time.Second,
	})
	require.Error(t, err)

	var startErr *orchestrator.StartupError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, "gateway", startErr.Name)
	assert.Contains(t, startErr.Stderr, "router table rejected")

	// The mock came up before the gateway died; it must not leak.
	assertTornDown(t, plan.Scenario.ConfigPath, mockPort, gwPort)
}

func TestRun_FailedCheckStillTearsDown(t *testing.T) {
	t.Setenv(childRoleEnv, "1")
	plan, mockPort, gwPort := singleChannelPlan(t)
	plan.Checks[0].Expect = []string{"B"}
	exe := selfBinary(t)

	err := Run(context.Background(), Options{
		Plan:         plan,
		Name:         "wrong-expectation",
		GatewayBin:   exe,
		MockBin:      exe,
		ReadyTimeout: 15 * time.Second,
		StopGrace:    2 * time.Second,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priority verification failed")

	assertTornDown(t, plan.Scenario.ConfigPath, mockPort, gwPort)
}
