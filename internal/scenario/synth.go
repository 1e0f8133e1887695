package scenario

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/cregis-dev/apex/internal/utils"
)

// ConfigVersion is the config document version the gateway accepts.
const ConfigVersion = "1"

// Synthesize builds the complete gateway config for a scenario.
// It never injects routing behavior the scenario did not declare: in
// particular a missing wildcard fallback rule stays missing.
func Synthesize(s *Scenario) (*GatewayConfig, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	global := Global{
		Listen:   s.Listen,
		Auth:     Auth{Mode: "none", Keys: nil},
		Timeouts: DefaultTimeouts,
		Retries:  DefaultRetries,
	}
	if s.Timeouts != nil {
		global.Timeouts = *s.Timeouts
	}
	if s.Retries != nil {
		global.Retries = *s.Retries
	}

	cfg := &GatewayConfig{
		Version: ConfigVersion,
		Global:  global,
		Metrics: Metrics{Enabled: false, Listen: DefaultMetricsListen, Path: "/metrics"},
		HotReload: HotReload{
			ConfigPath: s.ConfigPath,
			Watch:      false,
		},
	}

	for _, spec := range s.Channels {
		ch := Channel{
			Name:         spec.Name,
			ProviderType: spec.ProviderType,
			BaseURL:      spec.BaseURL,
			APIKey:       spec.APIKey,
			ModelMap:     spec.ModelMap,
		}
		if ch.ProviderType == "" {
			ch.ProviderType = "openai"
		}
		if ch.APIKey == "" {
			ch.APIKey = "dummy"
		}
		if spec.Timeouts != nil {
			t := *spec.Timeouts
			ch.Timeouts = &t
		} else {
			// Channels inherit the global timeouts explicitly so the
			// serialized document is self-describing.
			t := global.Timeouts
			ch.Timeouts = &t
		}
		cfg.Channels = append(cfg.Channels, ch)
	}

	for _, spec := range s.Routers {
		router := Router{
			Name:     spec.Name,
			VKey:     spec.VKey,
			Channels: []TargetChannel{},
			Strategy: effectiveStrategy(spec.Strategy, ""),
		}
		for _, rule := range spec.Rules {
			rr := RouterRule{
				Match:    MatchSpec{Model: rule.Match},
				Strategy: effectiveStrategy(rule.Strategy, spec.Strategy),
			}
			for _, ref := range rule.Channels {
				weight := ref.Weight
				if weight <= 0 {
					weight = 1
				}
				rr.Channels = append(rr.Channels, TargetChannel{Name: ref.Name, Weight: weight})
			}
			router.Rules = append(router.Rules, rr)
		}
		cfg.Routers = append(cfg.Routers, router)
	}

	return cfg, nil
}

// Marshal serializes a config deterministically: identical input yields
// byte-identical output, so repeated synthesis diffs clean.
func Marshal(cfg *GatewayConfig) ([]byte, error) {
	data, err := utils.MarshalIndentNoEscape(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFile synthesizes nothing; it persists an already-built config to path,
// creating parent directories as needed.
func WriteFile(cfg *GatewayConfig, path string) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	log.Debug().Str("path", path).Int("bytes", len(data)).Msg("config synthesized")
	return nil
}

// RemoveFile deletes a synthesized config during teardown. A missing file is
// not an error: teardown must be idempotent.
func RemoveFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove config: %w", err)
	}
	return nil
}

// VKeyFor returns the vkey of the named router, or the first router's vkey
// when name is empty. Used by the client harness as the last step of its
// credential fallback chain.
func (c *GatewayConfig) VKeyFor(routerName string) (string, bool) {
	for _, r := range c.Routers {
		if routerName == "" || r.Name == routerName {
			if r.VKey != "" {
				return r.VKey, true
			}
		}
	}
	return "", false
}
