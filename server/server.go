// Package server exposes sessions, messages, permissions and the
// event stream over HTTP so remote clients can drive an agent.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/m4xw311/comclerk/events"
	"github.com/m4xw311/comclerk/permission"
	"github.com/m4xw311/comclerk/session"
)

// Runner executes one assistant turn over the stored conversation,
// which already ends with the user message. The server cancels the
// context on abort.
type Runner interface {
	Run(ctx context.Context, sessionID string) error
}

// Server wires the stores, the bus and a runner to HTTP handlers.
type Server struct {
	store  session.Store
	perms  *permission.MemStore
	bus    *events.Bus
	runner Runner

	mu     sync.Mutex
	aborts map[string]context.CancelFunc
}

// New creates a server. runner may be nil for a read-only surface.
func New(store session.Store, perms *permission.MemStore, bus *events.Bus, runner Runner) *Server {
	return &Server{
		store:  store,
		perms:  perms,
		bus:    bus,
		runner: runner,
		aborts: make(map[string]context.CancelFunc),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /session", s.listSessions)
	mux.HandleFunc("POST /session", s.createSession)
	mux.HandleFunc("GET /session/{id}", s.getSession)
	mux.HandleFunc("DELETE /session/{id}", s.deleteSession)
	mux.HandleFunc("GET /session/{id}/message", s.listMessages)
	mux.HandleFunc("POST /session/{id}/message", s.postMessage)
	mux.HandleFunc("POST /session/{id}/abort", s.abort)
	mux.HandleFunc("GET /session/{id}/permission", s.listPermissions)
	mux.HandleFunc("POST /session/{id}/permission/{requestID}", s.replyPermission)
	mux.HandleFunc("GET /event", s.streamEvents)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, err error) {
	if err == session.ErrNotFound {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	sess, err := s.store.CreateSession(body.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSession(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.ListMessages(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []session.MessageWithParts{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// postMessage appends the user message and starts an assistant turn in
// the background. The stored user message is returned immediately; the
// client follows the turn through events and polling.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	msg, err := s.store.AppendMessage(sessionID, session.MessageInfo{Role: session.RoleUser}, []session.Part{
		{Type: session.PartText, Text: body.Text},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if s.runner != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		if prev, ok := s.aborts[sessionID]; ok {
			prev()
		}
		s.aborts[sessionID] = cancel
		s.mu.Unlock()

		go func() {
			defer func() {
				s.mu.Lock()
				delete(s.aborts, sessionID)
				s.mu.Unlock()
				cancel()
			}()
			if err := s.runner.Run(ctx, sessionID); err != nil && ctx.Err() == nil {
				log.Printf("turn failed for session %s: %v", sessionID, err)
			}
		}()
	}

	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) abort(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	s.mu.Lock()
	cancel, ok := s.aborts[sessionID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": ok})
}

func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	pending, err := s.perms.ListPending(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if pending == nil {
		pending = []permission.Request{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) replyPermission(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reply string `json:"reply"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := s.perms.Reply(r.PathValue("requestID"), body.Reply); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// streamEvents serves the bus over SSE. Payloads are thin by contract;
// clients re-fetch whatever state the event type implicates.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.bus.Subscribe(r.Context(), r.URL.Query().Get("sessionID"))
	enc := json.NewEncoder(w)
	for ev := range ch {
		if _, err := w.Write([]byte("data: ")); err != nil {
			return
		}
		if err := enc.Encode(ev); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}
