// Package scenario defines the gateway configuration document and the
// synthesizer that produces it from a scenario description.
//
// DESIGN: The document types below mirror the config contract of the Apex
// gateway exactly. The gateway reads the serialized form once at startup,
// so field names and shapes here are wire format, not internal convenience.
package scenario

// Timeouts are per-connection timeouts in milliseconds.
type Timeouts struct {
	ConnectMs  int `json:"connect_ms" yaml:"connect_ms"`
	RequestMs  int `json:"request_ms" yaml:"request_ms"`
	ResponseMs int `json:"response_ms" yaml:"response_ms"`
}

// Retries controls upstream retry behavior.
type Retries struct {
	MaxAttempts   int   `json:"max_attempts" yaml:"max_attempts"`
	BackoffMs     int   `json:"backoff_ms" yaml:"backoff_ms"`
	RetryOnStatus []int `json:"retry_on_status" yaml:"retry_on_status"`
}

// Auth is the gateway's global auth section. Mode "none" disables the global
// key check; router selection by vkey still applies regardless.
type Auth struct {
	Mode string    `json:"mode" yaml:"mode"`
	Keys *[]string `json:"keys" yaml:"keys"`
}

// Global holds gateway-wide settings.
type Global struct {
	Listen   string   `json:"listen" yaml:"listen"`
	Auth     Auth     `json:"auth" yaml:"auth"`
	Timeouts Timeouts `json:"timeouts" yaml:"timeouts"`
	Retries  Retries  `json:"retries" yaml:"retries"`
}

// Channel is one upstream backend target the gateway can route to.
type Channel struct {
	Name         string            `json:"name" yaml:"name"`
	ProviderType string            `json:"provider_type" yaml:"provider_type"`
	BaseURL      string            `json:"base_url" yaml:"base_url"`
	APIKey       string            `json:"api_key" yaml:"api_key"`
	ModelMap     map[string]string `json:"model_map,omitempty" yaml:"model_map,omitempty"`
	Timeouts     *Timeouts         `json:"timeouts,omitempty" yaml:"timeouts,omitempty"`
}

// TargetChannel is a weighted channel reference inside a routing rule.
type TargetChannel struct {
	Name   string `json:"name" yaml:"name"`
	Weight int    `json:"weight" yaml:"weight"`
}

// MatchSpec is the predicate of a routing rule. The only supported attribute
// is the request model name; "*" matches everything.
type MatchSpec struct {
	Model string `json:"model" yaml:"model"`
}

// RouterRule maps matching requests to a weighted channel set under a strategy.
// Rules are evaluated in declaration order; the first match governs.
type RouterRule struct {
	Match    MatchSpec       `json:"match" yaml:"match"`
	Channels []TargetChannel `json:"channels" yaml:"channels"`
	Strategy string          `json:"strategy" yaml:"strategy"`
}

// Router is a named routing policy selected by vkey.
type Router struct {
	Name string `json:"name" yaml:"name"`
	VKey string `json:"vkey" yaml:"vkey"`
	// Channels is the legacy flat channel list; the Apex config parser
	// requires the key to be present, so it always serializes as [].
	Channels []TargetChannel `json:"channels" yaml:"channels"`
	Strategy string          `json:"strategy" yaml:"strategy"`
	Rules    []RouterRule    `json:"rules" yaml:"rules"`
}

// Metrics is the gateway's metrics listener section.
type Metrics struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
	Path    string `json:"path" yaml:"path"`
}

// HotReload points the gateway back at its own config file. The harness
// always synthesizes watch=false; hot reload itself is a gateway concern.
type HotReload struct {
	ConfigPath string `json:"config_path" yaml:"config_path"`
	Watch      bool   `json:"watch" yaml:"watch"`
}

// GatewayConfig is the root aggregate written for the gateway-under-test.
type GatewayConfig struct {
	Version   string    `json:"version" yaml:"version"`
	Global    Global    `json:"global" yaml:"global"`
	Channels  []Channel `json:"channels" yaml:"channels"`
	Routers   []Router  `json:"routers" yaml:"routers"`
	Metrics   Metrics   `json:"metrics" yaml:"metrics"`
	HotReload HotReload `json:"hot_reload" yaml:"hot_reload"`
}

// Strategy tags understood by the gateway's rule engine.
const (
	StrategyPriority   = "priority"
	StrategyRoundRobin = "round_robin"
)

// MatchAll is the wildcard model predicate.
const MatchAll = "*"
