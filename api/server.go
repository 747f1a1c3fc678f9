// Package api exposes a Homestar node's admission and progress surface
// over HTTP and WebSocket: workflow
// submission, receipt lookup, and a live event stream for a running
// workflow. None of it is part of the Workflow Execution Core; it is a
// thin adapter in front of a Runner.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/homestar-labs/homestar/ipld"
	"github.com/homestar-labs/homestar/receipt"
	"github.com/homestar-labs/homestar/worker"
	"github.com/homestar-labs/homestar/workflow"
)

// Runner admits a workflow document and begins running it asynchronously,
// returning the parsed Workflow and a channel of its progress events
// (worker.Worker.Events()). cmd/homestar's App implements this.
type Runner interface {
	Submit(ctx context.Context, data []byte, codec workflow.Codec) (*workflow.Workflow, <-chan worker.Event, error)
}

// Server is the HTTP+WebSocket front door for a Runner and its Receipt
// Store.
type Server struct {
	runner Runner
	store  receipt.Store
	router chi.Router
	http   *http.Server

	upgrader websocket.Upgrader

	mu        sync.Mutex
	events    map[string]<-chan worker.Event // workflow CID -> its event stream
	workflows map[string]*workflow.Workflow  // workflow CID -> admitted workflow
}

// NewServer builds a Server. addr is the listen address (e.g. ":8080").
func NewServer(runner Runner, store receipt.Store, addr string) *Server {
	s := &Server{
		runner:    runner,
		store:     store,
		events:    make(map[string]<-chan worker.Event),
		workflows: make(map[string]*workflow.Workflow),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	s.http = &http.Server{Addr: addr, Handler: s.router}
	return s
}

// Handler returns the Server's http.Handler, for use with httptest.Server
// in tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.handleHealthz)
	r.Post("/workflows", s.handleSubmitWorkflow)
	r.Get("/workflows/{cid}", s.handleWorkflowStatus)
	r.Get("/workflows/{cid}/events", s.handleWorkflowEvents)
	r.Get("/receipts/{cid}", s.handleGetReceipt)
	return r
}

// ListenAndServe blocks serving requests until the server is shut down.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// codecFromRequest resolves the wire codec from the Content-Type header,
// falling back to a "?codec=" query parameter, covering the two
// supported workflow document formats.
func codecFromRequest(r *http.Request) (workflow.Codec, error) {
	ct := r.Header.Get("Content-Type")
	switch ct {
	case "application/cbor", "application/vnd.ipld.dag-cbor":
		return workflow.CodecDagCBOR, nil
	case "application/json", "application/vnd.ipld.dag-json":
		return workflow.CodecDagJSON, nil
	}
	if q := r.URL.Query().Get("codec"); q != "" {
		return workflow.CodecForExtension(q)
	}
	return workflow.CodecDagJSON, nil
}

func (s *Server) handleSubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	codec, err := codecFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}

	wf, events, err := s.runner.Submit(r.Context(), body, codec)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	wfCID, err := wf.CID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.mu.Lock()
	s.events[wfCID.String()] = events
	s.workflows[wfCID.String()] = wf
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"workflow_cid": wfCID.String(),
		"num_tasks":    wf.Len(),
	})
}

// handleWorkflowStatus reports a submitted workflow's current state: how
// many of its tasks already have a receipt in the store, and whether every
// task has run to receipt.
func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	cidStr := chi.URLParam(r, "cid")

	s.mu.Lock()
	wf, ok := s.workflows[cidStr]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown workflow %s", cidStr))
		return
	}

	resolved := 0
	for _, taskCID := range wf.TaskCIDs() {
		rcpt, err := s.store.FindReceipt(r.Context(), taskCID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if rcpt != nil {
			resolved++
		}
	}

	status := "running"
	if resolved == wf.Len() {
		status = "completed"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow_cid":   cidStr,
		"num_tasks":      wf.Len(),
		"resolved_tasks": resolved,
		"status":         status,
	})
}

// handleWorkflowEvents upgrades to a WebSocket and relays one workflow's
// progress events as JSON frames until the stream closes or the
// client disconnects. worker.Worker.Events() is a single consumer channel:
// concurrent callers for the same workflow CID split its events between
// them, and once one stream has drained the entry is removed, so later
// callers get 404.
func (s *Server) handleWorkflowEvents(w http.ResponseWriter, r *http.Request) {
	cidStr := chi.URLParam(r, "cid")

	s.mu.Lock()
	ch, ok := s.events[cidStr]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no active run for workflow %s", cidStr))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Hour))
	go drainPings(conn)

	for ev := range ch {
		if err := conn.WriteJSON(eventToWire(ev)); err != nil {
			return
		}
	}

	// The run ended and its stream drained; drop the entry so the map
	// doesn't grow unboundedly across submissions.
	s.mu.Lock()
	delete(s.events, cidStr)
	s.mu.Unlock()
}

// drainPings discards client frames (this endpoint is server-push only)
// so the connection's read side doesn't stall the write loop above.
func drainPings(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	cidStr := chi.URLParam(r, "cid")
	taskCID, err := ipld.ParseCid(cidStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rcpt, err := s.store.FindReceipt(r.Context(), taskCID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rcpt == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no receipt for task %s", cidStr))
		return
	}

	writeJSON(w, http.StatusOK, receiptToWire(*rcpt))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

