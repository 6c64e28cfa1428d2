// Package api exposes the instance lifecycle over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/corvid-labs/durable/backend"
	"github.com/corvid-labs/durable/client"
)

type Server struct {
	r *chi.Mux
	c *client.Client
}

func NewServer(c *client.Client) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	s := &Server{r: r, c: c}

	r.Get("/health", s.health)
	r.Post("/workflow/start", s.start)
	r.Get("/workflow/status/{id}", s.status)
	r.Post("/workflow/terminate/{id}", s.terminate)
	r.Post("/workflow/pause/{id}", s.pause)
	r.Post("/workflow/resume/{id}", s.resume)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type startReq struct {
	Name       string          `json:"name"`
	InstanceID string          `json:"instance_id"`
	Input      json.RawMessage `json:"input"`
}

type startResp struct {
	InstanceID string `json:"instanceId"`
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	var req startReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", 400)
		return
	}

	args := []any{}
	if len(req.Input) > 0 {
		var input any
		if err := json.Unmarshal(req.Input, &input); err != nil {
			http.Error(w, "invalid input: "+err.Error(), 400)
			return
		}
		args = append(args, input)
	}

	instance, err := s.c.StartOrchestration(r.Context(), client.StartOptions{
		InstanceID: req.InstanceID,
	}, req.Name, args...)
	if err != nil {
		if errors.Is(err, backend.ErrInstanceAlreadyExists) {
			http.Error(w, "instance already exists", http.StatusConflict)
			return
		}

		http.Error(w, err.Error(), 500)
		return
	}

	writeJSON(w, http.StatusAccepted, startResp{InstanceID: instance.InstanceID})
}

type statusResp struct {
	InstanceID   string          `json:"instance_id"`
	Name         string          `json:"name"`
	State        string          `json:"state"`
	CreatedAt    string          `json:"created_at"`
	CompletedAt  string          `json:"completed_at,omitempty"`
	CustomStatus json.RawMessage `json:"custom_status,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snapshot, err := s.c.GetInstance(r.Context(), id)
	if err != nil {
		if errors.Is(err, backend.ErrInstanceNotFound) {
			// Unknown instance is not an error, there is just no content
			w.WriteHeader(http.StatusNoContent)
			return
		}

		http.Error(w, err.Error(), 500)
		return
	}

	writeJSON(w, 200, snapshotToStatus(snapshot))
}

func snapshotToStatus(snapshot *backend.Snapshot) statusResp {
	resp := statusResp{
		InstanceID:   snapshot.Instance.InstanceID,
		Name:         snapshot.Name,
		State:        snapshot.State.String(),
		CreatedAt:    snapshot.CreatedAt.Format(time.RFC3339),
		CustomStatus: json.RawMessage(snapshot.CustomStatus),
		Output:       json.RawMessage(snapshot.Output),
	}

	if snapshot.CompletedAt != nil {
		resp.CompletedAt = snapshot.CompletedAt.Format(time.RFC3339)
	}

	if snapshot.Error != nil {
		resp.Error = snapshot.Error.Message
	}

	return resp
}

type terminateReq struct {
	Reason string `json:"reason"`
}

func (s *Server) terminate(w http.ResponseWriter, r *http.Request) {
	var req terminateReq
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
	}

	s.control(w, r, func(ctx context.Context, instanceID string) error {
		return s.c.Terminate(ctx, instanceID, req.Reason)
	})
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.c.Suspend)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.c.Resume)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, f func(ctx context.Context, instanceID string) error) {
	id := chi.URLParam(r, "id")

	if err := f(r.Context(), id); err != nil {
		if errors.Is(err, backend.ErrInstanceNotFound) {
			http.Error(w, "not found", 404)
			return
		}

		http.Error(w, err.Error(), 500)
		return
	}

	snapshot, err := s.c.GetInstance(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	writeJSON(w, 200, snapshotToStatus(snapshot))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
