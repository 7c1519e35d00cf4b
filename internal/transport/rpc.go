package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/chatrelay/internal/agent"
	"github.com/MrWong99/chatrelay/internal/observe"
	"github.com/MrWong99/chatrelay/internal/realtime"
	"github.com/MrWong99/chatrelay/internal/streamer"
	"github.com/MrWong99/chatrelay/pkg/types"
)

type sendMessageRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type memoryResponse struct {
	Memory []types.Message `json:"memory"`
}

type adapterRequest struct {
	IngestEndpoint string `json:"ingestEndpoint"`
	StreamEndpoint string `json:"streamEndpoint"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !s.decode(w, r, &req) {
		return
	}
	uid := userID(r)
	if uid == "" {
		uid = req.UserID
	}
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx, cancel := s.turnContext(r.Context())
	defer cancel()
	a := s.cfg.Agents.Acquire(uid)
	defer s.cfg.Agents.Release(a)
	reply, err := a.SendMessage(ctx, req.Message)
	if err != nil {
		observe.Logger(ctx).Error("send message failed", "user_id", uid, "err", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	if reply.Memory == nil {
		reply.Memory = []types.Message{}
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agentFor(w, r)
	if !ok {
		return
	}
	defer s.cfg.Agents.Release(a)
	mem, err := a.Memory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if mem == nil {
		mem = []types.Message{}
	}
	writeJSON(w, http.StatusOK, memoryResponse{Memory: mem})
}

func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agentFor(w, r)
	if !ok {
		return
	}
	defer s.cfg.Agents.Release(a)
	ctx, cancel := s.turnContext(r.Context())
	defer cancel()
	if err := a.ClearMemory(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleCreateAdapters(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agentFor(w, r)
	if !ok {
		return
	}
	defer s.cfg.Agents.Release(a)
	var req adapterRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.IngestEndpoint == "" || req.StreamEndpoint == "" {
		writeError(w, http.StatusBadRequest, "ingestEndpoint and streamEndpoint are required")
		return
	}
	adapters, err := a.CreateRealtimeAdapters(r.Context(), req.IngestEndpoint, req.StreamEndpoint)
	if err != nil {
		observe.Logger(r.Context()).Error("create realtime adapters", "user_id", a.UserID(), "err", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, adapters)
}

func (s *Server) handleDeleteAdapters(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agentFor(w, r)
	if !ok {
		return
	}
	defer s.cfg.Agents.Release(a)
	if err := a.CleanupRealtime(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// agentFor acquires the caller's agent or writes 401. Callers release the
// agent when done.
func (s *Server) agentFor(w http.ResponseWriter, r *http.Request) (*agent.Agent, bool) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return s.cfg.Agents.Acquire(uid), true
}

// decode reads a JSON body into v or writes a 4xx error.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		mie *streamer.ModelInvocationError
		rae *realtime.APIError
	)
	switch {
	case errors.Is(err, agent.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.As(err, &mie), errors.As(err, &rae):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("could not write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
