// Package api exposes cache reads and basic stats over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"solana-holder-watch/internal/holdercache"
	"solana-holder-watch/internal/observability"
	"solana-holder-watch/internal/solana"
)

// Server serves holder counts from the cache.
type Server struct {
	cache  *holdercache.Cache
	logger *zap.Logger
}

// New creates an API server over the given cache.
func New(cache *holdercache.Cache, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cache: cache, logger: logger}
}

// Handler returns the HTTP routing for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /holders/{mint}", s.handleHolders)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tokens", s.handleTokens)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", observability.Handler())
	return mux
}

// HolderResponse is the JSON body for GET /holders/{mint}.
type HolderResponse struct {
	Mint      string `json:"mint"`
	Holders   int    `json:"holders"`
	Timestamp int64  `json:"timestamp"`
	Cached    bool   `json:"cached"`
}

// TokenResponse is one tracked token in GET /tokens.
type TokenResponse struct {
	Mint         string `json:"mint"`
	Holders      int    `json:"holders"`
	LastUpdated  int64  `json:"last_updated"`
	RequestCount uint64 `json:"request_count"`
	FirstSeen    int64  `json:"first_seen"`
}

func (s *Server) handleHolders(w http.ResponseWriter, r *http.Request) {
	mintStr := r.PathValue("mint")

	mint, err := solana.ParsePubkey(mintStr)
	if err != nil {
		s.logger.Debug("rejected malformed mint", zap.String("mint", mintStr))
		writeError(w, http.StatusBadRequest, "invalid mint address")
		observability.RecordHTTPRequest("/holders", "4xx")
		return
	}

	entry, err := s.cache.Get(r.Context(), mint)
	if err != nil {
		status := upstreamStatus(err)
		s.logger.Error("holder lookup failed",
			zap.String("mint", mintStr),
			zap.Int("status", status),
			zap.Error(err))
		writeError(w, status, "failed to fetch holder count")
		observability.RecordHTTPRequest("/holders", "5xx")
		return
	}

	observability.RecordHTTPRequest("/holders", "2xx")
	writeJSON(w, http.StatusOK, HolderResponse{
		Mint:      mintStr,
		Holders:   entry.Count,
		Timestamp: entry.FetchedAt.Unix(),
		Cached:    entry.RequestCount > 1,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	observability.RecordHTTPRequest("/health", "2xx")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "solana-holder-watch",
	})
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	resident := s.cache.Resident()
	tokens := make([]TokenResponse, 0, len(resident))
	for _, e := range resident {
		tokens = append(tokens, TokenResponse{
			Mint:         e.Mint.String(),
			Holders:      e.Count,
			LastUpdated:  e.FetchedAt.Unix(),
			RequestCount: e.RequestCount,
			FirstSeen:    e.FirstSeen.Unix(),
		})
	}
	observability.RecordHTTPRequest("/tokens", "2xx")
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	observability.RecordHTTPRequest("/stats", "2xx")
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

// upstreamStatus maps a fetch failure to an HTTP status: timeouts become 504,
// every other upstream failure 502.
func upstreamStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
		"code":  strconv.Itoa(status),
	})
}
