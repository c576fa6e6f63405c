// Package api serves the HTTP surface: replay, jank analysis, orchestrator
// status, log tailing, and a websocket log stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vercel-labs/dev3000-sub004/internal/logs"
	"github.com/vercel-labs/dev3000-sub004/internal/mcp"
	"github.com/vercel-labs/dev3000-sub004/pkg/events"
)

// Handlers are the engine entry points the API dispatches to. Injected so
// the route layer stays free of engine dependencies.
type Handlers struct {
	ParseReplay   func(ctx context.Context, startTime, endTime string) (*logs.ReplayData, error)
	ExecuteReplay func(ctx context.Context, startTime, endTime string, speed float64) (interface{}, error)
	DetectJank    func(ctx context.Context, session string) (interface{}, error)
}

// Server mounts the HTTP API over gorilla/mux.
type Server struct {
	logger   *zap.Logger
	bus      *events.Bus
	logPath  string
	handlers Handlers
	orch     *mcp.Orchestrator
	router   *mux.Router
}

// NewServer builds the router. mcpHandler, when non-nil, is mounted at /mcp
// for MCP-over-HTTP clients.
func NewServer(logPath string, handlers Handlers, orch *mcp.Orchestrator, mcpHandler http.Handler, bus *events.Bus, logger *zap.Logger) *Server {
	s := &Server{
		logger:   logger,
		bus:      bus,
		logPath:  logPath,
		handlers: handlers,
		orch:     orch,
		router:   mux.NewRouter(),
	}

	r := s.router
	r.HandleFunc("/api/replay", s.handleReplayParse).Methods("GET")
	r.HandleFunc("/api/replay", s.handleReplayExecute).Methods("POST")
	r.HandleFunc("/api/jank/{session}", s.handleJank).Methods("GET")
	r.HandleFunc("/api/orchestrator", orch.HandleStatus).Methods("GET")
	r.HandleFunc("/api/logs/tail", s.handleLogsTail).Methods("GET")
	r.HandleFunc("/api/logs/stream", s.handleLogsStream).Methods("GET")
	if mcpHandler != nil {
		r.PathPrefix("/mcp").Handler(mcpHandler)
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleReplayParse answers GET /api/replay?action=parse with the replay
// data for the requested window.
func (s *Server) handleReplayParse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if action := q.Get("action"); action != "" && action != "parse" {
		s.writeError(w, http.StatusBadRequest, "unknown action: "+action)
		return
	}

	data, err := s.handlers.ParseReplay(r.Context(), q.Get("startTime"), q.Get("endTime"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, data)
}

type replayRequest struct {
	StartTime string  `json:"startTime"`
	EndTime   string  `json:"endTime"`
	Speed     float64 `json:"speed"`
}

func (s *Server) handleReplayExecute(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Speed <= 0 {
		req.Speed = 1
	}

	result, err := s.handlers.ExecuteReplay(r.Context(), req.StartTime, req.EndTime, req.Speed)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, result)
}

func (s *Server) handleJank(w http.ResponseWriter, r *http.Request) {
	session := mux.Vars(r)["session"]

	result, err := s.handlers.DetectJank(r.Context(), session)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, result)
}

type tailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// handleLogsTail reads forward from ?offset= and returns the new lines plus
// the offset to resume from. Clients poll with the returned offset.
func (s *Server) handleLogsTail(w http.ResponseWriter, r *http.Request) {
	var offset int64
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid offset: "+raw)
			return
		}
		offset = parsed
	}

	tailer := logs.NewTailer(s.logPath, logs.WithOffset(offset), logs.WithLogger(s.logger))
	lines, err := tailer.ReadNew()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if lines == nil {
		lines = []string{}
	}
	s.writeJSON(w, tailResponse{Lines: lines, Offset: tailer.Offset()})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ListenAndServe runs the API server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
