// Package api exposes the arm controller over HTTP: raw command
// passthrough, calibration management, planning, and operation execution.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/reach-arm/reachd/internal/calib"
	"github.com/reach-arm/reachd/internal/commandlog"
	"github.com/reach-arm/reachd/internal/feedback"
	"github.com/reach-arm/reachd/internal/sequencer"
	"github.com/reach-arm/reachd/internal/transport"
	"github.com/reach-arm/reachd/internal/vision"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// ArmPort is the open serial connection as the server consumes it.
type ArmPort interface {
	sequencer.Transport
	Connected() bool
	PortName() string
	Monitor(ctx context.Context) error
	Responses() []transport.Response
	WaitForResponse(since time.Time, timeout time.Duration) (transport.Response, bool)
	Close() error
}

type Server struct {
	store    calib.ProfileStore
	logDB    *commandlog.DB
	source   vision.Source
	voice    feedback.TextToSpeech
	tone     feedback.ToneGenerator
	password string

	// Swapped out by tests.
	openPort  func(name string) (ArmPort, error)
	listPorts func() ([]string, error)

	mu            sync.Mutex
	port          ArmPort
	busy          bool
	sess          *sequencer.Session
	monitorCancel context.CancelFunc
}

func NewServer(store calib.ProfileStore, logDB *commandlog.DB, source vision.Source, password string) *Server {
	return &Server{
		store:     store,
		logDB:     logDB,
		source:    source,
		voice:     feedback.Silent{},
		tone:      feedback.Silent{},
		password:  password,
		openPort:  func(name string) (ArmPort, error) { return transport.Open(name) },
		listPorts: transport.ListPorts,
		sess:      sequencer.NewSession(),
	}
}

// SetFeedback replaces the operator feedback sinks.
func (s *Server) SetFeedback(voice feedback.TextToSpeech, tone feedback.ToneGenerator) {
	s.voice = voice
	s.tone = tone
}

// AttachPort adopts an already open port (for example one opened from a
// startup flag) and starts monitoring it.
func (s *Server) AttachPort(p ArmPort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adoptPortLocked(p)
}

func (s *Server) adoptPortLocked(p ArmPort) {
	if s.monitorCancel != nil {
		s.monitorCancel()
	}
	s.port = p
	ctx, cancel := context.WithCancel(context.Background())
	s.monitorCancel = cancel
	go func() {
		if err := p.Monitor(ctx); err != nil {
			log.Printf("[API] monitor for %s stopped: %v", p.PortName(), err)
			// Close the dropped port so Connected() reflects reality and a
			// reconnector can take over.
			p.Close()
		}
	}()
}

func (s *Server) currentPort() ArmPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *Server) currentSession() *sequencer.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// acquire marks the controller busy, or reports false if an operation is
// already in flight. The planner and sequencer provide no mutual exclusion
// of their own.
func (s *Server) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
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
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.showStatus)
	mux.HandleFunc("/ports", s.showPorts)
	mux.HandleFunc("/connect", s.guard(s.connectPort))
	mux.HandleFunc("/send", s.guard(s.sendCommand))
	mux.HandleFunc("/log", s.showLog)
	mux.HandleFunc("/log/clear", s.guard(s.clearLog))
	mux.HandleFunc("/runs", s.showRuns)
	mux.HandleFunc("/calibration/get", s.showCalibration)
	mux.HandleFunc("/calibration/save", s.guard(s.saveCalibration))
	mux.HandleFunc("/calibration/solve", s.guard(s.solveCalibration))
	mux.HandleFunc("/calibration/fit", s.guard(s.fitCalibration))
	mux.HandleFunc("/plan", s.planOperation)
	mux.HandleFunc("/operate", s.guard(s.runOperation))
	mux.HandleFunc("/park", s.guard(s.parkArm))
	mux.HandleFunc("/mute", s.guard(s.setMute))
	return mux
}

// guard enforces the shared password on mutating endpoints when one is
// configured.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.password != "" && r.Header.Get("X-Reach-Password") != s.password {
			s.writeJSONError(w, http.StatusUnauthorized, "invalid or missing password")
			return
		}
		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] failed to encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// loggedTransport records every primitive it forwards so sessions can be
// replayed from the command log.
type loggedTransport struct {
	port  ArmPort
	logDB *commandlog.DB
	runID string
}

func (t *loggedTransport) Send(ctx context.Context, cmd string) error {
	if err := t.port.Send(ctx, cmd); err != nil {
		return err
	}
	if t.logDB != nil {
		if err := t.logDB.Record(t.runID, cmd); err != nil {
			log.Printf("[API] failed to log command %q: %v", cmd, err)
		}
	}
	return nil
}
