// Package dialect drives the gateway-under-test over its two wire protocols.
//
// DESIGN: Each dialect has a typed request/response contract decoded once at
// the boundary. There is no dynamic field walking: if a response does not
// match the dialect's shape, that is a RequestError, not a silent zero value.
package dialect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cregis-dev/apex/internal/scenario"
)

// Client drives the gateway over one wire dialect. Complete returns the
// assistant text of a unary exchange; CompleteStream accumulates streamed
// fragments in arrival order and returns the concatenation.
type Client interface {
	Name() string
	Complete(ctx context.Context, model, prompt string) (string, error)
	CompleteStream(ctx context.Context, model, prompt string) (string, error)
}

// DefaultRequestTimeout bounds each HTTP exchange when the caller's context
// carries no deadline of its own.
const DefaultRequestTimeout = 30 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultRequestTimeout}
}

// RequestError is a transport failure or non-success status from the gateway.
// Recorded per trial and aggregated by callers; individually fatal only in
// fail-fast runs.
type RequestError struct {
	Dialect string
	Status  int
	Msg     string
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s request: status %d: %s", e.Dialect, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s request: %s", e.Dialect, e.Msg)
}

func requestErrorf(dialect string, status int, format string, args ...any) *RequestError {
	return &RequestError{Dialect: dialect, Status: status, Msg: fmt.Sprintf(format, args...)}
}

// ResolveVKey resolves the credential to present to the gateway through an
// explicit, ordered fallback chain: override -> synthesized-config lookup
// (router by name, else the first router carrying a vkey) -> failure.
// Environment variables are the caller's concern, never read here.
func ResolveVKey(override, configPath, routerName string) (string, error) {
	if override != "" {
		return override, nil
	}
	if configPath == "" {
		return "", fmt.Errorf("resolve vkey: no override and no config path")
	}
	data, err := os.ReadFile(configPath) // #nosec G304 -- config path owned by the running scenario
	if err != nil {
		return "", fmt.Errorf("resolve vkey: %w", err)
	}
	var cfg scenario.GatewayConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("resolve vkey: parse %s: %w", configPath, err)
	}
	if vkey, ok := cfg.VKeyFor(routerName); ok {
		return vkey, nil
	}
	return "", fmt.Errorf("resolve vkey: no router with a vkey in %s", configPath)
}
