package verifier

import (
	"fmt"
	"sort"
	"strings"
)

// VerificationError reports an observed distribution that violates the
// expected routing policy. It always carries the full per-identity breakdown
// and the failed-trial count so a violation is diagnosable without re-running.
type VerificationError struct {
	Policy       string
	Expected     []string
	Counts       map[string]int
	FailedTrials int
	Msg          string
}

func newViolation(policy string, expected []string, set *SampleSet, msg string) *VerificationError {
	return &VerificationError{
		Policy:       policy,
		Expected:     expected,
		Counts:       set.Counts(),
		FailedTrials: len(set.Failures()),
		Msg:          msg,
	}
}

func (e *VerificationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s verification failed: %s", e.Policy, e.Msg)

	identities := make([]string, 0, len(e.Counts))
	for id := range e.Counts {
		identities = append(identities, id)
	}
	sort.Strings(identities)

	b.WriteString(" (observed:")
	if len(identities) == 0 {
		b.WriteString(" none")
	}
	for _, id := range identities {
		fmt.Fprintf(&b, " %s=%d", id, e.Counts[id])
	}
	if e.FailedTrials > 0 {
		fmt.Fprintf(&b, ", failed_trials=%d", e.FailedTrials)
	}
	b.WriteString(")")
	return b.String()
}
