package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChannelSpec describes one mock backend the gateway should route to.
type ChannelSpec struct {
	Name         string            `yaml:"name"`
	ProviderType string            `yaml:"provider_type"`
	BaseURL      string            `yaml:"base_url"`
	APIKey       string            `yaml:"api_key"`
	ModelMap     map[string]string `yaml:"model_map"`
	Timeouts     *Timeouts         `yaml:"timeouts"`
}

// TargetRef names a channel inside a rule, with an optional weight.
// A zero weight is normalized to 1 during synthesis.
type TargetRef struct {
	Name   string `yaml:"name"`
	Weight int    `yaml:"weight"`
}

// RuleSpec is one ordered routing rule of a router.
type RuleSpec struct {
	Match    string      `yaml:"match"`
	Channels []TargetRef `yaml:"channels"`
	Strategy string      `yaml:"strategy"`
}

// RouterSpec describes one router of the scenario.
type RouterSpec struct {
	Name     string     `yaml:"name"`
	VKey     string     `yaml:"vkey"`
	Strategy string     `yaml:"strategy"`
	Rules    []RuleSpec `yaml:"rules"`
}

// Scenario is the complete parameter set driving one test run's config
// synthesis. It is an explicit value: the synthesizer reads nothing from the
// environment or ambient files.
type Scenario struct {
	Listen     string        `yaml:"listen"`
	ConfigPath string        `yaml:"config_path"`
	Timeouts   *Timeouts     `yaml:"timeouts"`
	Retries    *Retries      `yaml:"retries"`
	Channels   []ChannelSpec `yaml:"channels"`
	Routers    []RouterSpec  `yaml:"routers"`

	// AllowSharedVKeys disables the duplicate-vkey check for scenarios that
	// intentionally point two routers at one credential.
	AllowSharedVKeys bool `yaml:"allow_shared_vkeys"`
}

// Default sections used when a scenario omits them. These match the values
// the gateway's own examples ship with.
var (
	DefaultTimeouts = Timeouts{ConnectMs: 1000, RequestMs: 5000, ResponseMs: 5000}
	DefaultRetries  = Retries{MaxAttempts: 1, BackoffMs: 100, RetryOnStatus: []int{429, 500, 502, 503, 504}}
)

// DefaultMetricsListen is the disabled metrics listener synthesized into
// every config; the harness never scrapes it.
const DefaultMetricsListen = "127.0.0.1:9091"

// LoadScenario reads a YAML scenario document.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- scenario path provided by CLI user (intentional)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks scenario consistency without building a config.
func (s *Scenario) Validate() error {
	if s.Listen == "" {
		return configErrorf("listen", "listen address is required")
	}
	if len(s.Channels) == 0 {
		return configErrorf("channels", "at least one channel is required")
	}

	channels := make(map[string]bool, len(s.Channels))
	for _, c := range s.Channels {
		if c.Name == "" {
			return configErrorf("channels", "channel name is required")
		}
		if channels[c.Name] {
			return configErrorf("channels", "duplicate channel name %q", c.Name)
		}
		if c.BaseURL == "" {
			return configErrorf("channels", "channel %q: base_url is required", c.Name)
		}
		channels[c.Name] = true
	}

	vkeys := make(map[string]string, len(s.Routers))
	for _, r := range s.Routers {
		if r.Name == "" {
			return configErrorf("routers", "router name is required")
		}
		if r.VKey == "" {
			// The gateway resolves routers by vkey even with global auth
			// disabled, so a router without one is unreachable.
			return configErrorf("routers", "router %q: vkey is required", r.Name)
		}
		if other, dup := vkeys[r.VKey]; dup && !s.AllowSharedVKeys {
			return configErrorf("routers", "routers %q and %q share vkey %q", other, r.Name, r.VKey)
		}
		vkeys[r.VKey] = r.Name

		if len(r.Rules) == 0 {
			return configErrorf("routers", "router %q: at least one rule is required", r.Name)
		}
		for i, rule := range r.Rules {
			if rule.Match == "" {
				return configErrorf("routers", "router %q rule %d: match is required", r.Name, i)
			}
			if len(rule.Channels) == 0 {
				return configErrorf("routers", "router %q rule %d: at least one channel is required", r.Name, i)
			}
			for _, ref := range rule.Channels {
				if !channels[ref.Name] {
					return configErrorf("routers", "router %q rule %d: unknown channel %q", r.Name, i, ref.Name)
				}
			}
			if st := effectiveStrategy(rule.Strategy, r.Strategy); st != StrategyPriority && st != StrategyRoundRobin {
				return configErrorf("routers", "router %q rule %d: unknown strategy %q", r.Name, i, st)
			}
		}
	}
	return nil
}

func effectiveStrategy(ruleStrategy, routerStrategy string) string {
	if ruleStrategy != "" {
		return ruleStrategy
	}
	if routerStrategy != "" {
		return routerStrategy
	}
	return StrategyRoundRobin
}
