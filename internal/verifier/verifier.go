package verifier

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/cregis-dev/apex/internal/dialect"
)

// DefaultPrompt is the user message sent on every trial. Its content is
// irrelevant: the mock backend answers with its identity regardless.
const DefaultPrompt = "Hello"

// RoundRobinMinTrials is the smallest sample size for which the round-robin
// check is meaningful against two channels.
const RoundRobinMinTrials = 20

// Verifier issues batches of independent unary requests through one router
// and records which backend answered each.
type Verifier struct {
	client dialect.Client

	// Workers bounds concurrent in-flight trials. Ordering of the sample
	// set follows trial index, not completion order, so concurrency never
	// affects strategy verification.
	Workers int
}

// New builds a verifier sampling through the given dialect client.
func New(client dialect.Client) *Verifier {
	return &Verifier{client: client, Workers: 4}
}

// Collect runs trials unary requests for model and returns the sample set.
// Request failures are recorded per trial; Collect itself only fails on a
// cancelled context.
func (v *Verifier) Collect(ctx context.Context, trials int, model string) (*SampleSet, error) {
	set := &SampleSet{Trials: make([]TrialResult, trials)}

	g, gctx := errgroup.WithContext(ctx)
	workers := v.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i := 0; i < trials; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result := TrialResult{ID: uuid.New().String(), Index: i}
			content, err := v.client.Complete(gctx, model, DefaultPrompt)
			if err != nil {
				result.Err = err
			} else {
				result.Identity = ExtractIdentity(content)
				if result.Identity == "" {
					result.Err = fmt.Errorf("response carries no backend identity: %q", content)
				}
			}
			set.Trials[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug().
		Int("trials", trials).
		Str("model", model).
		Int("failures", len(set.Failures())).
		Msg("sample set collected")
	return set, nil
}

// VerifyPriority checks the deterministic-first policy: every successful
// trial must have been served by first, with zero tolerance.
func VerifyPriority(set *SampleSet, first string) error {
	counts := set.Counts()
	if set.Successes() == 0 {
		return newViolation("priority", []string{first}, set, "no successful trials")
	}
	for identity, n := range counts {
		if identity != first {
			return newViolation("priority", []string{first}, set,
				fmt.Sprintf("%d/%d trials served by %q instead of %q", n, set.Successes(), identity, first))
		}
	}
	return nil
}

// VerifyRoundRobin checks the non-degeneracy of the rotation policy: every
// declared identity must appear at least once. An exact split is not
// asserted; the gateway's tie-breaking is not part of this contract.
func VerifyRoundRobin(set *SampleSet, identities []string) error {
	counts := set.Counts()
	for _, want := range identities {
		if counts[want] == 0 {
			return newViolation("round_robin", identities, set,
				fmt.Sprintf("identity %q never observed", want))
		}
	}
	return nil
}

// VerifyModelMatch checks deterministic rule matching: a request with the
// given model must always land on expected. Semantically identical to the
// priority check, but reported under its own policy name.
func VerifyModelMatch(set *SampleSet, model, expected string) error {
	counts := set.Counts()
	if set.Successes() == 0 {
		return newViolation("model_match", []string{expected}, set,
			fmt.Sprintf("no successful trials for model %q", model))
	}
	for identity, n := range counts {
		if identity != expected {
			return newViolation("model_match", []string{expected}, set,
				fmt.Sprintf("model %q: %d/%d trials served by %q, want %q", model, n, set.Successes(), identity, expected))
		}
	}
	return nil
}
