package scenario

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoChannelScenario() *Scenario {
	return &Scenario{
		Listen:     "127.0.0.1:8080",
		ConfigPath: "temp_router_config.json",
		Channels: []ChannelSpec{
			{Name: "channel_a", ProviderType: "openai", BaseURL: "http://127.0.0.1:8081"},
			{Name: "channel_b", ProviderType: "openai", BaseURL: "http://127.0.0.1:8082"},
		},
		Routers: []RouterSpec{
			{
				Name: "priority-router", VKey: "p-key", Strategy: StrategyPriority,
				Rules: []RuleSpec{{
					Match:    MatchAll,
					Channels: []TargetRef{{Name: "channel_a"}, {Name: "channel_b"}},
				}},
			},
			{
				Name: "round-robin-router", VKey: "rr-key", Strategy: StrategyRoundRobin,
				Rules: []RuleSpec{{
					Match:    MatchAll,
					Channels: []TargetRef{{Name: "channel_a"}, {Name: "channel_b"}},
				}},
			},
		},
	}
}

func TestSynthesize_Defaults(t *testing.T) {
	cfg, err := Synthesize(twoChannelScenario())
	require.NoError(t, err)

	assert.Equal(t, ConfigVersion, cfg.Version)
	assert.Equal(t, "127.0.0.1:8080", cfg.Global.Listen)
	assert.Equal(t, "none", cfg.Global.Auth.Mode)
	assert.Equal(t, DefaultTimeouts, cfg.Global.Timeouts)
	assert.Equal(t, DefaultRetries, cfg.Global.Retries)
	assert.False(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.HotReload.Watch)
	assert.Equal(t, "temp_router_config.json", cfg.HotReload.ConfigPath)

	// Channels inherit global timeouts when the scenario omits them.
	require.Len(t, cfg.Channels, 2)
	for _, ch := range cfg.Channels {
		require.NotNil(t, ch.Timeouts)
		assert.Equal(t, DefaultTimeouts, *ch.Timeouts)
		assert.Equal(t, "dummy", ch.APIKey)
	}

	// Rule weights normalize to 1; rule strategy falls back to the router's.
	require.Len(t, cfg.Routers, 2)
	rule := cfg.Routers[0].Rules[0]
	assert.Equal(t, StrategyPriority, rule.Strategy)
	assert.Equal(t, []TargetChannel{{Name: "channel_a", Weight: 1}, {Name: "channel_b", Weight: 1}}, rule.Channels)
}

func TestSynthesize_PerChannelTimeoutsSurviveInheritance(t *testing.T) {
	s := twoChannelScenario()
	s.Channels[0].Timeouts = &Timeouts{ConnectMs: 42, RequestMs: 43, ResponseMs: 44}

	cfg, err := Synthesize(s)
	require.NoError(t, err)
	assert.Equal(t, Timeouts{ConnectMs: 42, RequestMs: 43, ResponseMs: 44}, *cfg.Channels[0].Timeouts)
	assert.Equal(t, DefaultTimeouts, *cfg.Channels[1].Timeouts)
}

func TestSynthesize_Deterministic(t *testing.T) {
	s := twoChannelScenario()

	first, err := Synthesize(s)
	require.NoError(t, err)
	second, err := Synthesize(s)
	require.NoError(t, err)

	a, err := Marshal(first)
	require.NoError(t, err)
	b, err := Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, a, b, "identical scenario input must produce byte-identical config output")
}

func TestSynthesize_NoImplicitFallbackRule(t *testing.T) {
	s := twoChannelScenario()
	s.Routers = s.Routers[:1]
	s.Routers[0].Rules = []RuleSpec{{
		Match:    "gpt-4",
		Channels: []TargetRef{{Name: "channel_a"}},
	}}

	cfg, err := Synthesize(s)
	require.NoError(t, err)
	require.Len(t, cfg.Routers[0].Rules, 1)
	assert.Equal(t, "gpt-4", cfg.Routers[0].Rules[0].Match.Model)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Scenario)
		want   string
	}{
		{
			name:   "missing listen",
			mutate: func(s *Scenario) { s.Listen = "" },
			want:   "listen",
		},
		{
			name:   "duplicate channel name",
			mutate: func(s *Scenario) { s.Channels[1].Name = "channel_a" },
			want:   "duplicate channel",
		},
		{
			name:   "unknown channel in rule",
			mutate: func(s *Scenario) { s.Routers[0].Rules[0].Channels[0].Name = "nope" },
			want:   "unknown channel",
		},
		{
			name:   "duplicate vkey",
			mutate: func(s *Scenario) { s.Routers[1].VKey = "p-key" },
			want:   "share vkey",
		},
		{
			name:   "missing vkey",
			mutate: func(s *Scenario) { s.Routers[0].VKey = "" },
			want:   "vkey is required",
		},
		{
			name:   "router without rules",
			mutate: func(s *Scenario) { s.Routers[0].Rules = nil },
			want:   "at least one rule",
		},
		{
			name:   "bad strategy",
			mutate: func(s *Scenario) { s.Routers[0].Rules[0].Strategy = "weighted_dice" },
			want:   "unknown strategy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := twoChannelScenario()
			tt.mutate(s)
			_, err := Synthesize(s)
			require.Error(t, err)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_SharedVKeysAllowedWhenOptedIn(t *testing.T) {
	s := twoChannelScenario()
	s.Routers[1].VKey = "p-key"
	s.AllowSharedVKeys = true
	_, err := Synthesize(s)
	assert.NoError(t, err)
}

func TestWriteFile_DocumentShape(t *testing.T) {
	s := twoChannelScenario()
	path := filepath.Join(t.TempDir(), "config.json")
	s.ConfigPath = path

	cfg, err := Synthesize(s)
	require.NoError(t, err)
	require.NoError(t, WriteFile(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// The gateway's parser requires these keys; null for the legacy router
	// channels list would be rejected.
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{"version", "global", "channels", "routers", "metrics", "hot_reload"} {
		assert.Contains(t, doc, key)
	}
	assert.Contains(t, string(data), `"channels": []`)
	assert.Contains(t, string(data), `"match": {`)

	require.NoError(t, RemoveFile(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	// Removing again is not an error: teardown is idempotent.
	assert.NoError(t, RemoveFile(path))
}

func TestVKeyFor(t *testing.T) {
	cfg, err := Synthesize(twoChannelScenario())
	require.NoError(t, err)

	vkey, ok := cfg.VKeyFor("round-robin-router")
	require.True(t, ok)
	assert.Equal(t, "rr-key", vkey)

	vkey, ok = cfg.VKeyFor("")
	require.True(t, ok)
	assert.Equal(t, "p-key", vkey, "empty name selects the first router carrying a vkey")

	_, ok = cfg.VKeyFor("missing")
	assert.False(t, ok)
}

func TestLoadScenario_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	doc := `
listen: 127.0.0.1:9080
config_path: /tmp/apex-test.json
channels:
  - name: channel_a
    base_url: http://127.0.0.1:9081
routers:
  - name: default
    vkey: test-key
    strategy: priority
    rules:
      - match: "*"
        channels:
          - name: channel_a
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	require.Len(t, s.Channels, 1)
	assert.Equal(t, "channel_a", s.Channels[0].Name)

	cfg, err := Synthesize(s)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Channels[0].ProviderType, "provider type defaults to openai")
}
