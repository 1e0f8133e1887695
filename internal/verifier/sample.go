// Package verifier samples request distribution through the gateway and
// checks it against the declared routing strategy.
package verifier

import "strings"

// identityPrefix is how the mock backend tags its responses.
const identityPrefix = "Response from "

// ExtractIdentity pulls the backend identity out of an assistant message.
// Returns "" when the message does not carry the mock backend's tag.
func ExtractIdentity(content string) string {
	idx := strings.Index(content, identityPrefix)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(content[idx+len(identityPrefix):])
}

// TrialResult is one sampled request. Exactly one of Identity or Err is
// meaningful: a failed trial carries its error and counts toward the failure
// tally, never silently dropped.
type TrialResult struct {
	ID       string
	Index    int
	Identity string
	Err      error
}

// SampleSet is the ordered sequence of trial outcomes for one verification
// run. It is collected once, inspected, and discarded.
type SampleSet struct {
	Trials []TrialResult
}

// Len is the total number of trials, successful or not.
func (s *SampleSet) Len() int { return len(s.Trials) }

// Counts tallies successful trials per backend identity.
func (s *SampleSet) Counts() map[string]int {
	counts := make(map[string]int)
	for _, t := range s.Trials {
		if t.Err == nil {
			counts[t.Identity]++
		}
	}
	return counts
}

// Failures returns the trials that failed outright.
func (s *SampleSet) Failures() []TrialResult {
	var failed []TrialResult
	for _, t := range s.Trials {
		if t.Err != nil {
			failed = append(failed, t)
		}
	}
	return failed
}

// Successes is the number of trials that produced an identity.
func (s *SampleSet) Successes() int {
	return s.Len() - len(s.Failures())
}
