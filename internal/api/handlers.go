package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/reach-arm/reachd/internal/calib"
	"github.com/reach-arm/reachd/internal/geom"
	"github.com/reach-arm/reachd/internal/planner"
	"github.com/reach-arm/reachd/internal/sequencer"
	"github.com/reach-arm/reachd/internal/vision"
)

// responseWait bounds how long /send waits for firmware feedback before
// reporting the command as sent-unconfirmed.
const responseWait = time.Second

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.mu.Lock()
	port, busy, sess := s.port, s.busy, s.sess
	s.mu.Unlock()
	status := map[string]any{
		"connected":  port != nil && port.Connected(),
		"busy":       busy,
		"pose_known": sess.PoseKnown(),
		"carrying":   sess.Carrying(),
		"muted":      sess.Muted(),
	}
	if port != nil {
		status["port"] = port.PortName()
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) showPorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ports, err := s.listPorts()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ports": ports})
}

func (s *Server) connectPort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Port string `json:"port"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.Port == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing 'port'")
		return
	}
	port, err := s.openPort(req.Port)
	if err != nil {
		s.writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.mu.Lock()
	// Swapping the port or session under a running sequencer would leave it
	// driving stale state; connecting waits until the operation finishes.
	if s.busy {
		s.mu.Unlock()
		port.Close()
		s.writeJSONError(w, http.StatusConflict, "an operation is already in flight")
		return
	}
	s.adoptPortLocked(port)
	// A fresh connection means the arm pose can no longer be trusted.
	s.sess = sequencer.NewSession()
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, map[string]any{"connected": true, "port": req.Port})
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.Command == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing 'command'")
		return
	}
	port := s.currentPort()
	if port == nil {
		s.writeJSONError(w, http.StatusConflict, "no serial port connected")
		return
	}

	since := time.Now()
	lt := &loggedTransport{port: port, logDB: s.logDB}
	if err := lt.Send(r.Context(), req.Command); err != nil {
		s.writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	// The firmware acknowledges single moves but stays silent on long
	// sequences; absence of a reply is not a failure.
	result := map[string]any{"status": "sent"}
	if resp, ok := port.WaitForResponse(since, responseWait); ok {
		result["response"] = resp.Data
		switch {
		case resp.IsAck():
			result["status"] = "ack"
		case resp.IsErr():
			result["status"] = "err"
		}
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) showLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.logDB == nil {
		s.writeJSONError(w, http.StatusNotFound, "command log not configured")
		return
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}
	entries, err := s.logDB.List(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"commands": entries})
}

func (s *Server) clearLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.logDB == nil {
		s.writeJSONError(w, http.StatusNotFound, "command log not configured")
		return
	}
	if err := s.logDB.Clear(); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (s *Server) showRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.logDB == nil {
		s.writeJSONError(w, http.StatusNotFound, "command log not configured")
		return
	}
	runs, err := s.logDB.Runs(50)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) loadProfile(w http.ResponseWriter) (*calib.Profile, bool) {
	profile, err := s.store.Load()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load calibration: "+err.Error())
		return nil, false
	}
	return profile, true
}

func (s *Server) showCalibration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	profile, ok := s.loadProfile(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

func (s *Server) saveCalibration(w http.ResponseWriter, r *http.Request) {
	var profile calib.Profile
	if !s.readJSON(w, r, &profile) {
		return
	}
	if err := s.store.Save(&profile); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"saved": true})
}

func (s *Server) solveCalibration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pixel         [4]geom.Point `json:"pixel"`
		PlaneWidthMM  float64       `json:"plane_width_mm"`
		PlaneHeightMM float64       `json:"plane_height_mm"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.PlaneWidthMM <= 0 || req.PlaneHeightMM <= 0 {
		s.writeJSONError(w, http.StatusBadRequest, "plane dimensions must be positive")
		return
	}
	h, err := geom.SolveToPlane(req.Pixel, req.PlaneWidthMM, req.PlaneHeightMM)
	if err != nil {
		s.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	inv, err := geom.Invert(h)
	if err != nil {
		s.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	profile, ok := s.loadProfile(w)
	if !ok {
		return
	}
	profile.Homography = h
	profile.PlaneWidthMM = req.PlaneWidthMM
	profile.PlaneHeightMM = req.PlaneHeightMM
	if err := s.store.Save(profile); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"homography": h, "inverse": inv})
}

func (s *Server) fitCalibration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Samples  []calib.Sample  `json:"samples"`
		SplitDeg float64         `json:"split_deg"`
		Box      calib.SearchBox `json:"box"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.SplitDeg == 0 {
		req.SplitDeg = 90
	}
	result, err := calib.FitPivotAndMapping(req.Samples, req.SplitDeg, req.Box)
	if err != nil {
		s.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	profile, ok := s.loadProfile(w)
	if !ok {
		return
	}
	calib.ApplyFit(profile, req.SplitDeg, result)
	if err := s.store.Save(profile); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type operationRequest struct {
	Op    string          `json:"op"`
	Pick  vision.Selector `json:"pick"`
	Place vision.Selector `json:"place"`
}

func (req *operationRequest) op() (sequencer.Op, error) {
	switch sequencer.Op(req.Op) {
	case sequencer.OpPlace, sequencer.OpDrop, sequencer.OpPour:
		return sequencer.Op(req.Op), nil
	case "":
		return sequencer.OpPlace, nil
	}
	return "", fmt.Errorf("unknown operation %q", req.Op)
}

// planStatus maps planner failures onto HTTP statuses: missing calibration
// and missing detections are client-state problems, not server faults.
func planStatus(err error) int {
	var missing *calib.ErrCalibrationMissing
	var outside *planner.OutOfWorkspaceError
	var notFound *planner.DetectionNotFoundError
	switch {
	case errors.As(err, &missing):
		return http.StatusConflict
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &outside):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) plan(w http.ResponseWriter, r *http.Request) (*planner.Plan, *calib.Profile, sequencer.Op, bool) {
	var req operationRequest
	if !s.readJSON(w, r, &req) {
		return nil, nil, "", false
	}
	op, err := req.op()
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return nil, nil, "", false
	}
	if s.source == nil {
		s.writeJSONError(w, http.StatusConflict, "no vision source configured")
		return nil, nil, "", false
	}
	profile, ok := s.loadProfile(w)
	if !ok {
		return nil, nil, "", false
	}
	plan, err := planner.New(s.source).PlanOperation(r.Context(), profile, req.Pick, req.Place, op != sequencer.OpDrop)
	if err != nil {
		s.writeJSONError(w, planStatus(err), err.Error())
		return nil, nil, "", false
	}
	return plan, profile, op, true
}

func (s *Server) planOperation(w http.ResponseWriter, r *http.Request) {
	plan, _, op, ok := s.plan(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"op": op, "plan": plan})
}

func (s *Server) runOperation(w http.ResponseWriter, r *http.Request) {
	port := s.currentPort()
	if port == nil {
		s.writeJSONError(w, http.StatusConflict, "no serial port connected")
		return
	}
	if !s.acquire() {
		s.writeJSONError(w, http.StatusConflict, "an operation is already in flight")
		return
	}
	defer s.release()

	plan, profile, op, ok := s.plan(w, r)
	if !ok {
		return
	}

	s.voice.Speak(fmt.Sprintf("starting %s", op))
	seq := sequencer.New(&loggedTransport{port: port, logDB: s.logDB}, s.recorder())
	if err := seq.Run(r.Context(), plan, op, profile, s.currentSession()); err != nil {
		s.tone.Tone("abort")
		s.writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.voice.Speak(fmt.Sprintf("%s complete", op))
	s.tone.Tone("ok")
	s.writeJSON(w, http.StatusOK, map[string]any{"op": op, "done": true})
}

// recorder returns the run recorder, or nil when no log database is
// configured. The nil check matters: a typed nil pointer inside a non-nil
// interface would defeat the sequencer's own guard.
func (s *Server) recorder() sequencer.RunRecorder {
	if s.logDB == nil {
		return nil
	}
	return s.logDB
}

func (s *Server) parkArm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	port := s.currentPort()
	if port == nil {
		s.writeJSONError(w, http.StatusConflict, "no serial port connected")
		return
	}
	if !s.acquire() {
		s.writeJSONError(w, http.StatusConflict, "an operation is already in flight")
		return
	}
	defer s.release()

	profile, ok := s.loadProfile(w)
	if !ok {
		return
	}
	seq := sequencer.New(&loggedTransport{port: port, logDB: s.logDB}, s.recorder())
	if err := seq.Park(r.Context(), profile, s.currentSession()); err != nil {
		s.writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"parked": true})
}

func (s *Server) setMute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mute bool `json:"mute"`
	}
	if !s.readJSON(w, r, &req) {
		return
	}
	port := s.currentPort()
	if port == nil {
		s.writeJSONError(w, http.StatusConflict, "no serial port connected")
		return
	}
	lt := &loggedTransport{port: port, logDB: s.logDB}
	if err := lt.Send(r.Context(), sequencer.MuteToken(req.Mute)); err != nil {
		s.writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.currentSession().SetMuted(req.Mute)
	s.writeJSON(w, http.StatusOK, map[string]any{"muted": req.Mute})
}
