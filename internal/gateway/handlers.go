package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mintya/autoproxy/internal/proxy"
	"github.com/mintya/autoproxy/internal/security"
)

// handleHealth reports liveness independent of pool health: 200 as
// long as the process is up.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// providerStatus is the admin-facing view of one provider: health
// snapshot fields plus a masked token for identification, never the
// raw credential.
type providerStatus struct {
	Name        string `json:"name"`
	BaseURL     string `json:"base_url"`
	MaskedToken string `json:"token"`
	Score       int    `json:"score"`
	WindowCount int    `json:"window_count"`
	Preferred   bool   `json:"preferred"`
}

// handleStatus returns a JSON snapshot of every provider's health,
// admin-auth-gated.
func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snaps := s.registry.Snapshot()
		providers := s.registry.Providers()
		tokenByName := make(map[string]string, len(providers))
		for _, p := range providers {
			tokenByName[p.Name] = p.Token
		}

		out := make([]providerStatus, 0, len(snaps))
		for _, snap := range snaps {
			out = append(out, providerStatus{
				Name:        snap.Name,
				BaseURL:     snap.BaseURL,
				MaskedToken: proxy.MaskToken(tokenByName[snap.Name]),
				Score:       snap.Score,
				WindowCount: snap.WindowCount,
				Preferred:   snap.Preferred,
			})
		}

		writeJSON(w, http.StatusOK, out)
	}
}

// handleSetPreferred is a manual operator override of set_preferred,
// admin-auth-gated. It exists for operability; no core invariant
// requires it.
func (s *Server) handleSetPreferred() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing provider name"})
			return
		}

		if err := s.registry.SetPreferred(name); err != nil {
			if errors.Is(err, proxy.ErrUnknownProvider) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
				return
			}
			s.logger.Warn("preferred-provider persistence failed", "provider", name, "error", err)
			emitAuditEvent(s.auditLogger, security.EventPreferredChange, r, "persist failed: "+err.Error())
			writeJSON(w, http.StatusOK, map[string]string{"status": "preferred set in memory, persistence failed"})
			return
		}

		emitAuditEvent(s.auditLogger, security.EventPreferredChange, r, "set_preferred "+name)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "preferred": name})
	}
}

// maxInboundBody caps the buffered request body the Forwarder replays
// across retries (spec.md §4.4: the body MUST be buffered in memory).
const maxInboundBody = 32 << 20 // 32 MiB

// handleForward is the one route that is "in scope" for the core: it
// delegates entirely to the Forwarder and contains no selection policy
// of its own.
func (s *Server) handleForward() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBody+1))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		if len(body) > maxInboundBody {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}

		outcome, err := s.forwarder.Forward(r.Context(), proxy.InboundRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Header: r.Header,
			Body:   body,
		})
		if err != nil {
			if errors.Is(err, proxy.ErrPoolExhausted) {
				s.counters.failedOut.Add(1)
				writeOutcome(w, outcome)
				return
			}
			// Client disconnected or request context otherwise canceled:
			// nothing useful to write back.
			return
		}

		s.counters.forwarded.Add(1)
		writeOutcome(w, outcome)
	}
}

func writeOutcome(w http.ResponseWriter, outcome proxy.Outcome) {
	for k, vv := range outcome.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(outcome.StatusCode)
	_, _ = w.Write(outcome.Body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
