// Package api serves the game status, the reset control, a live event stream
// and the persisted move history over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/boardwatch/internal/db"
	"github.com/banshee-data/boardwatch/internal/httputil"
	"github.com/banshee-data/boardwatch/internal/monitoring"
	"github.com/banshee-data/boardwatch/internal/orchestrator"
	"github.com/banshee-data/boardwatch/internal/rules"
	"github.com/banshee-data/boardwatch/internal/security"
	"github.com/banshee-data/boardwatch/internal/serialmux"
	"github.com/banshee-data/boardwatch/internal/version"
)

var logf = monitoring.Component("HTTP")

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Session is the running game. *orchestrator.Orchestrator satisfies it.
type Session interface {
	Status() orchestrator.Status
	History() []orchestrator.HistoryPoint
	Reset(ctx context.Context) error
	Subscribe() (int, <-chan orchestrator.Event)
	Unsubscribe(id int)
}

// History is the persisted record. *db.DB satisfies it.
type History interface {
	Games(limit int) ([]db.Game, error)
	GetGame(id string) (*db.Game, error)
	Moves(gameID string) ([]db.Move, error)
	CandidateConfidence(gameID string) (db.ConfidenceSummary, error)
}

type Server struct {
	session Session
	history History
	serial  serialmux.SerialMuxInterface
	device  *serialmux.DeviceState
	admin   *db.DB
}

// Option configures optional collaborators.
type Option func(*Server)

// WithHistory enables the games, moves and confidence endpoints.
func WithHistory(h History) Option { return func(s *Server) { s.history = h } }

// WithSerial mounts the controller console under /debug/ and reports the
// controller state in /api/status.
func WithSerial(m serialmux.SerialMuxInterface, d *serialmux.DeviceState) Option {
	return func(s *Server) { s.serial, s.device = m, d }
}

// WithAdminDB mounts the SQL console and backup routes under /debug/.
func WithAdminDB(d *db.DB) Option { return func(s *Server) { s.admin = d } }

func NewServer(session Session, opts ...Option) *Server {
	s := &Server{session: session}
	for _, o := range opts {
		o(s)
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter { return lrw.ResponseWriter }

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux builds the routes. Debug routes are only reachable from loopback
// or the tailnet.
func (s *Server) ServeMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/reset", s.resetGame)
	mux.HandleFunc("/api/events", s.streamEvents)
	mux.HandleFunc("/api/history", s.showHistory)
	mux.HandleFunc("/api/games", s.listGames)
	mux.HandleFunc("/api/moves", s.listMoves)
	mux.HandleFunc("/api/games/pgn", s.exportPGN)
	mux.HandleFunc("/api/confidence", s.showConfidence)
	mux.HandleFunc("/api/version", s.showVersion)
	s.attachDebugRoutes(mux)

	if s.serial != nil {
		s.serial.AttachAdminRoutes(mux)
	}
	if s.admin != nil {
		if err := s.admin.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// statusResponse adds the controller state to the session status.
type statusResponse struct {
	orchestrator.Status
	Controller *serialmux.DeviceSnapshot `json:"controller,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := statusResponse{Status: s.session.Status()}
	if s.device != nil {
		snap := s.device.Snapshot()
		resp.Controller = &snap
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) resetGame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.session.Reset(r.Context()); err != nil {
		// The game is reset even when the arm cannot get home.
		logf("reset: %v", err)
	}
	httputil.WriteJSONOK(w, s.session.Status())
}

func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.session.History())
}

func (s *Server) listGames(w http.ResponseWriter, r *http.Request) {
	if !s.historyRequest(w, r) {
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 1 || v > 1000 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = v
	}
	games, err := s.history.Games(limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve games: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, games)
}

func (s *Server) listMoves(w http.ResponseWriter, r *http.Request) {
	if !s.historyRequest(w, r) {
		return
	}
	moves, err := s.history.Moves(s.gameID(r))
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve moves: "+err.Error())
		return
	}
	if moves == nil {
		moves = []db.Move{}
	}
	httputil.WriteJSONOK(w, moves)
}

// exportPGN offers a recorded game as a PGN download.
func (s *Server) exportPGN(w http.ResponseWriter, r *http.Request) {
	if !s.historyRequest(w, r) {
		return
	}
	id := s.gameID(r)
	game, err := s.history.GetGame(id)
	if errors.Is(err, db.ErrGameNotFound) {
		httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve game: "+err.Error())
		return
	}
	moves, err := s.history.Moves(id)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve moves: "+err.Error())
		return
	}
	ucis := make([]string, len(moves))
	for i, m := range moves {
		ucis[i] = m.UCI
	}
	pgn, err := rules.PGN(ucis,
		rules.Tag{Key: "Event", Value: "boardwatch"},
		rules.Tag{Key: "Date", Value: game.StartedAt.UTC().Format("2006.01.02")},
		rules.Tag{Key: "White", Value: "Human"},
		rules.Tag{Key: "Black", Value: "boardwatch"},
		rules.Tag{Key: "GameId", Value: game.ID},
	)
	if err != nil {
		httputil.InternalServerError(w, "Failed to replay game: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/x-chess-pgn")
	w.Header().Set("Content-Disposition", security.AttachmentHeader(game.ID, ".pgn"))
	_, _ = w.Write([]byte(pgn))
}

func (s *Server) showConfidence(w http.ResponseWriter, r *http.Request) {
	if !s.historyRequest(w, r) {
		return
	}
	sum, err := s.history.CandidateConfidence(s.gameID(r))
	if err != nil {
		httputil.InternalServerError(w, "Failed to summarise confidence: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, sum)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

// historyRequest checks the method and that a store is configured.
func (s *Server) historyRequest(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return false
	}
	if s.history == nil {
		httputil.ServiceUnavailable(w, "no database configured")
		return false
	}
	return true
}

// gameID is the game_id query parameter, defaulting to the current game.
func (s *Server) gameID(r *http.Request) string {
	if id := r.URL.Query().Get("game_id"); id != "" {
		return id
	}
	return s.session.Status().GameID
}
