package harness

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cregis-dev/apex/internal/dialect"
	"github.com/cregis-dev/apex/internal/orchestrator"
	"github.com/cregis-dev/apex/internal/results"
	"github.com/cregis-dev/apex/internal/scenario"
	"github.com/cregis-dev/apex/internal/utils"
	"github.com/cregis-dev/apex/internal/verifier"
)

// DefaultReadyTimeout bounds how long each managed process may take to
// accept connections.
const DefaultReadyTimeout = 30 * time.Second

// DefaultTrialModel is sent when a check does not pin a model.
const DefaultTrialModel = "test-model"

// MinStreamLength is the sanity threshold for accumulated stream content.
const MinStreamLength = 5

// Options configures one harness run. GatewayBin and MockBin are executable
// paths; MockBin is typically this binary itself, re-invoked with the mock
// subcommand.
type Options struct {
	Plan       *Plan
	Name       string
	GatewayBin string
	// GatewayArgs overrides the gateway launch arguments. The config path is
	// appended; the default is the gateway's "gateway start" subcommand.
	GatewayArgs []string
	MockBin     string

	// VKeyOverride short-circuits credential resolution for every check.
	// Resolved by the caller (flag or environment); empty means "look the
	// router's vkey up in the plan".
	VKeyOverride string

	// ResultsPath enables the SQLite trial audit trail when non-empty.
	ResultsPath string

	ReadyTimeout time.Duration
	StopGrace    time.Duration

	// FailFast aborts on the first failed check instead of running the
	// whole plan and aggregating.
	FailFast bool
}

// Run executes the plan. Teardown (stopping every started process and
// deleting the synthesized config) is guaranteed on all exit paths,
// including ctx cancellation and panics in checks.
func Run(ctx context.Context, opts Options) error {
	plan := opts.Plan
	if plan == nil {
		return fmt.Errorf("harness: nil plan")
	}
	if opts.ReadyTimeout == 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.StopGrace == 0 {
		opts.StopGrace = orchestrator.DefaultStopGrace
	}
	if plan.Scenario.ConfigPath == "" {
		return fmt.Errorf("harness: plan scenario has no config_path")
	}

	cfg, err := scenario.Synthesize(&plan.Scenario)
	if err != nil {
		return err
	}
	backends, err := plan.Backends()
	if err != nil {
		return err
	}

	configPath := plan.Scenario.ConfigPath
	if err := scenario.WriteFile(cfg, configPath); err != nil {
		return err
	}
	defer func() {
		if err := scenario.RemoveFile(configPath); err != nil {
			log.Warn().Err(err).Msg("config cleanup failed")
		}
	}()

	sup := orchestrator.NewSupervisor()
	defer sup.StopAll(opts.StopGrace)

	for _, b := range backends {
		proc, err := sup.Start("mock-"+b.Identity, opts.MockBin,
			"mock", "--port", strconv.Itoa(b.Port), "--id", b.Identity)
		if err != nil {
			return err
		}
		if err := proc.WaitReady(net.JoinHostPort("127.0.0.1", strconv.Itoa(b.Port)), opts.ReadyTimeout); err != nil {
			return err
		}
	}

	gatewayArgs := opts.GatewayArgs
	if len(gatewayArgs) == 0 {
		gatewayArgs = []string{"gateway", "start"}
	}
	gatewayArgs = append(append([]string(nil), gatewayArgs...), configPath)
	gw, err := sup.Start("gateway", opts.GatewayBin, gatewayArgs...)
	if err != nil {
		return err
	}
	if err := gw.WaitReady(plan.Scenario.Listen, opts.ReadyTimeout); err != nil {
		return err
	}
	log.Info().Str("listen", plan.Scenario.Listen).Int("backends", len(backends)).Msg("gateway ready")

	var store *results.Store
	var runID string
	if opts.ResultsPath != "" {
		store, err = results.Open(opts.ResultsPath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		if runID, err = store.BeginRun(opts.Name); err != nil {
			return err
		}
	}

	failures := runChecks(ctx, plan, opts, store, runID)

	if store != nil {
		status, detail := "passed", ""
		if len(failures) > 0 {
			status = "failed"
			detail = failures[0].Error()
		}
		if err := store.FinishRun(runID, status, detail); err != nil {
			log.Warn().Err(err).Msg("results: finish run failed")
		}
	}

	if len(failures) > 0 {
		msgs := make([]string, len(failures))
		for i, f := range failures {
			msgs[i] = f.Error()
		}
		return fmt.Errorf("%d of %d checks failed:\n  %s",
			len(failures), len(plan.Checks)+len(plan.Protocols), strings.Join(msgs, "\n  "))
	}
	return nil
}

// runChecks executes protocol checks then strategy checks. Each check is
// independent; failures are aggregated unless FailFast is set.
func runChecks(ctx context.Context, plan *Plan, opts Options, store *results.Store, runID string) []error {
	var failures []error
	record := func(err error) bool {
		if err != nil {
			failures = append(failures, err)
			return opts.FailFast
		}
		return false
	}

	baseURL := "http://" + plan.Scenario.Listen

	for _, pc := range plan.Protocols {
		if ctx.Err() != nil {
			return append(failures, ctx.Err())
		}
		if record(runProtocolCheck(ctx, baseURL, plan, opts, pc)) {
			return failures
		}
	}

	for _, check := range plan.Checks {
		if ctx.Err() != nil {
			return append(failures, ctx.Err())
		}
		if record(runStrategyCheck(ctx, baseURL, plan, opts, check, store, runID)) {
			return failures
		}
	}
	return failures
}

func resolveCheckVKey(plan *Plan, opts Options, routerName string) (string, error) {
	if opts.VKeyOverride != "" {
		return opts.VKeyOverride, nil
	}
	vkey, err := plan.vkeyOf(routerName)
	if err != nil {
		return "", err
	}
	if vkey == "" {
		// Fall through to the synthesized document on disk; the plan may
		// have been loaded without scenario routers populated.
		return dialect.ResolveVKey("", plan.Scenario.ConfigPath, routerName)
	}
	return vkey, nil
}

func clientFor(dialectName, baseURL, vkey string) (dialect.Client, error) {
	switch dialectName {
	case "openai":
		return dialect.NewOpenAI(baseURL, vkey), nil
	case "anthropic":
		return dialect.NewAnthropic(baseURL, vkey), nil
	default:
		return nil, fmt.Errorf("unknown dialect %q", dialectName)
	}
}

func runProtocolCheck(ctx context.Context, baseURL string, plan *Plan, opts Options, pc ProtocolCheck) error {
	vkey, err := resolveCheckVKey(plan, opts, pc.Router)
	if err != nil {
		return err
	}
	client, err := clientFor(pc.Dialect, baseURL, vkey)
	if err != nil {
		return err
	}
	model := pc.Model
	if model == "" {
		model = DefaultTrialModel
	}

	content, err := client.Complete(ctx, model, verifier.DefaultPrompt)
	if err != nil {
		return fmt.Errorf("%s unary: %w", pc.Dialect, err)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%s unary: empty assistant message", pc.Dialect)
	}
	log.Debug().Str("dialect", pc.Dialect).Str("vkey", utils.MaskKey(vkey)).Msg("unary check passed")

	if !pc.Stream {
		return nil
	}
	streamed, err := client.CompleteStream(ctx, model, verifier.DefaultPrompt)
	if err != nil {
		return fmt.Errorf("%s streaming: %w", pc.Dialect, err)
	}
	if len(streamed) < MinStreamLength {
		return fmt.Errorf("%s streaming: accumulated content too short (%d bytes): %q",
			pc.Dialect, len(streamed), streamed)
	}
	log.Debug().Str("dialect", pc.Dialect).Int("bytes", len(streamed)).Msg("streaming check passed")
	return nil
}

func runStrategyCheck(ctx context.Context, baseURL string, plan *Plan, opts Options, check Check, store *results.Store, runID string) error {
	vkey, err := resolveCheckVKey(plan, opts, check.Router)
	if err != nil {
		return err
	}
	model := check.Model
	if model == "" {
		model = DefaultTrialModel
	}
	trials := check.Trials
	if trials <= 0 {
		trials = verifier.RoundRobinMinTrials
	}
	if len(check.Expect) == 0 {
		return fmt.Errorf("check for router %q declares no expected identities", check.Router)
	}

	v := verifier.New(dialect.NewOpenAI(baseURL, vkey))
	set, err := v.Collect(ctx, trials, model)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.RecordSampleSet(runID, check.Router, model, set); err != nil {
			log.Warn().Err(err).Msg("results: record sample set failed")
		}
	}

	switch check.Policy {
	case scenario.StrategyPriority:
		err = verifier.VerifyPriority(set, check.Expect[0])
	case scenario.StrategyRoundRobin:
		err = verifier.VerifyRoundRobin(set, check.Expect)
	case "model_match":
		err = verifier.VerifyModelMatch(set, model, check.Expect[0])
	default:
		err = fmt.Errorf("unknown check policy %q", check.Policy)
	}
	if err != nil {
		return fmt.Errorf("router %q: %w", check.Router, err)
	}
	log.Info().
		Str("router", check.Router).
		Str("policy", check.Policy).
		Int("trials", set.Len()).
		Int("failures", len(set.Failures())).
		Msg("strategy check passed")
	return nil
}
