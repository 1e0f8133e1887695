// Package harness executes one complete conformance scenario: synthesize the
// gateway config, bring up mock backends and the gateway-under-test, run the
// requested protocol and strategy checks, and guarantee teardown.
package harness

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/cregis-dev/apex/internal/scenario"
)

// Check is one strategy verification against a router.
type Check struct {
	Router string `yaml:"router"`
	// Policy is priority, round_robin or model_match.
	Policy string `yaml:"policy"`
	// Model sent on each trial; defaults to "test-model".
	Model  string `yaml:"model"`
	Trials int    `yaml:"trials"`
	// Expect is the identity set the policy is checked against: the single
	// winning identity for priority/model_match, all participating
	// identities for round_robin.
	Expect []string `yaml:"expect"`
}

// ProtocolCheck exercises one wire dialect end to end: a unary request plus,
// when Stream is set, a streaming request whose accumulated fragments must
// reach a minimum length.
type ProtocolCheck struct {
	Dialect string `yaml:"dialect"`
	Router  string `yaml:"router"`
	Model   string `yaml:"model"`
	Stream  bool   `yaml:"stream"`
}

// Backend describes one mock backend process the harness must start. Derived
// from the scenario's channels: every channel carrying an identity gets a
// mock bound to its base_url port.
type Backend struct {
	Channel  string
	Identity string
	Port     int
}

// Plan is the full YAML document driving one run.
type Plan struct {
	Scenario  scenario.Scenario `yaml:"scenario"`
	Checks    []Check           `yaml:"checks"`
	Protocols []ProtocolCheck   `yaml:"protocols"`

	// Identities maps channel name to the mock identity the harness should
	// start for it. Channels absent from the map are assumed external.
	Identities map[string]string `yaml:"identities"`
}

// LoadPlan reads a YAML harness plan.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- plan path provided by CLI user (intentional)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	return &p, nil
}

// Backends resolves the mock backend processes the plan requires, in channel
// declaration order.
func (p *Plan) Backends() ([]Backend, error) {
	var out []Backend
	for _, ch := range p.Scenario.Channels {
		identity, ok := p.Identities[ch.Name]
		if !ok {
			continue
		}
		port, err := portOf(ch.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", ch.Name, err)
		}
		out = append(out, Backend{Channel: ch.Name, Identity: identity, Port: port})
	}
	return out, nil
}

// vkeyOf returns the vkey of the named router in the plan's scenario.
func (p *Plan) vkeyOf(routerName string) (string, error) {
	for _, r := range p.Scenario.Routers {
		if routerName == "" || r.Name == routerName {
			return r.VKey, nil
		}
	}
	return "", fmt.Errorf("plan references unknown router %q", routerName)
}

func portOf(baseURL string) (int, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return 0, fmt.Errorf("parse base_url %q: %w", baseURL, err)
	}
	portStr := u.Port()
	if portStr == "" {
		return 0, fmt.Errorf("base_url %q carries no explicit port", baseURL)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("base_url %q: bad port: %w", baseURL, err)
	}
	return port, nil
}
