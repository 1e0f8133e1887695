// Package backend implements the identifiable mock provider backend.
//
// DESIGN: The backend exists to answer one question for the verifier: which
// physical process served a request. Every POST gets a minimal chat-completion
// whose message content embeds the backend's identity string. Nothing else
// about the payload matters, so the response is a fixed template with the
// model and identity patched in.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FallbackModel is echoed when the request body has no usable model field.
const FallbackModel = "mock-model"

// responseTemplate is the chat-completion shape the gateway forwards back to
// the harness. The usage block is fixed by contract; only model and content
// vary per request.
const responseTemplate = `{
  "id": "chatcmpl-mock",
  "object": "chat.completion",
  "created": 1677652288,
  "model": "",
  "choices": [
    {
      "index": 0,
      "message": {"role": "assistant", "content": ""},
      "finish_reason": "stop"
    }
  ],
  "usage": {"prompt_tokens": 9, "completion_tokens": 12, "total_tokens": 21}
}`

// Server is one mock backend instance. Identity is immutable after New; the
// handlers share no other state, so concurrent requests need no locking.
type Server struct {
	identity string
	addr     string
	srv      *http.Server
}

// New builds a mock backend bound to port with the given identity tag.
// The listener binds all interfaces so containerized gateways can reach it.
func New(port int, identity string) *Server {
	s := &Server{
		identity: identity,
		addr:     fmt.Sprintf("0.0.0.0:%d", port),
	}

	r := chi.NewRouter()
	r.Post("/*", s.handleCompletion)
	r.Get("/*", s.handleLiveness)

	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Identity returns the identity tag embedded in every response.
func (s *Server) Identity() string { return s.identity }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.addr }

// ListenAndServe blocks until ctx is cancelled or the listener fails.
// The listener allows address reuse (default on Unix), so back-to-back
// scenario runs can rebind the same port immediately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("backend %s: %w", s.identity, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Serve runs the backend on an already-bound listener. Used by tests that
// need an ephemeral port.
func (s *Server) Serve(ln net.Listener) error {
	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the backend gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for httptest-based callers.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	// One bad request must never take the listener down.
	defer func() {
		if rec := recover(); rec != nil {
			http.Error(w, fmt.Sprint(rec), http.StatusInternalServerError)
		}
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Best-effort parse: gjson never errors, a malformed body simply yields
	// no model field, which is the empty-object interpretation.
	model := FallbackModel
	if m := gjson.GetBytes(body, "model"); m.Type == gjson.String && m.Str != "" {
		model = m.Str
	}

	resp := []byte(responseTemplate)
	resp, _ = sjson.SetBytes(resp, "model", model)
	resp, err = sjson.SetBytes(resp, "choices.0.message.content", "Response from "+s.identity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
