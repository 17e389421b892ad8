package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"proctor/internal/capture"
	"proctor/internal/clips"
	"proctor/internal/livefeed"
	"proctor/internal/router"
	"proctor/internal/session"
	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

// Proctor is the session controller as seen by the HTTP layer
type Proctor interface {
	Start(ctx context.Context, username string, budget time.Duration) (session.StartResult, error)
	Stop(ctx context.Context) (session.StopResult, error)
	Status() session.Status
	Subscribe(username string) (*livefeed.Subscription, func(), error)
	UserData(username string) []types.Sample
	Statistics(username string) session.Stats
	Settings() session.Settings
	UpdateSettings(u session.SettingsUpdate) (map[string]interface{}, error)
	FocusLost(username string, details map[string]interface{}) error
	History(ctx context.Context, username string, limit int) ([]*types.Session, error)
}

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	GetStats() map[string]int
}

// Dependencies are the collaborators of the HTTP layer. Store, Registry,
// Events and FocusLimiter may be nil.
type Dependencies struct {
	Proctor      Proctor
	Clips        *clips.Library
	Store        interfaces.SessionStore
	Registry     Registry
	Events       http.Handler
	FocusLimiter *router.RateLimiter
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	proctor  Proctor
	clips    *clips.Library
	store    interfaces.SessionStore
	registry Registry
	events   http.Handler
	limiter  *router.RateLimiter
	router   chi.Router
	started  time.Time
}

// NewServer wires the routes over deps
func NewServer(deps Dependencies) *Server {
	s := &Server{
		proctor:  deps.Proctor,
		clips:    deps.Clips,
		store:    deps.Store,
		registry: deps.Registry,
		events:   deps.Events,
		limiter:  deps.FocusLimiter,
		router:   chi.NewRouter(),
		started:  time.Now(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS applies everywhere; JSON content type everywhere except the streams
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(s.corsMiddleware)

	r.With(s.jsonMiddleware).Get("/health", s.healthCheck)
	if s.events != nil {
		r.Get("/ws/events", s.events.ServeHTTP)
	}

	r.Route("/api/proctoring", func(r chi.Router) {
		r.Get("/video_feed/{username}", s.videoFeed)

		r.Group(func(r chi.Router) {
			r.Use(s.jsonMiddleware)

			r.Post("/start", s.startProctoring)
			r.Post("/stop", s.stopProctoring)
			r.Post("/toggle", s.toggleProctoring)
			r.Get("/status", s.getStatus)
			r.Get("/user_data/{username}", s.getUserData)
			r.Get("/statistics/{username}", s.getStatistics)
			r.Get("/sessions", s.listSessions)
			r.Get("/recordings", s.listRecordings)
			r.Delete("/recordings/{filename}", s.deleteRecording)
			r.Get("/settings", s.getSettings)
			r.Post("/settings", s.updateSettings)
			r.Post("/alt-tab", s.altTab)
		})
	})
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type StartRequest struct {
	Username     string `json:"username"`
	ExamDuration int    `json:"exam_duration"`
}

type ProctoringResponse struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

type UserDataResponse struct {
	Username               string         `json:"username"`
	Data                   []types.Sample `json:"data"`
	TotalCheatingInstances int            `json:"total_cheating_instances"`
	TotalDuration          float64        `json:"total_duration"`
}

type RecordingsResponse struct {
	Recordings []types.ClipInfo `json:"recordings"`
	Total      int              `json:"total"`
	Directory  string           `json:"directory"`
}

type SettingsResponse struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message"`
	Updated map[string]interface{} `json:"updated"`
}

// AltTabEvent is posted by the exam page when the window loses focus.
// Start and end times are milliseconds since the Unix epoch.
type AltTabEvent struct {
	Type        string   `json:"type"`
	StartTime   *float64 `json:"start_time"`
	EndTime     *float64 `json:"end_time"`
	TimeElapsed *float64 `json:"time_elapsed"`
	Username    string   `json:"username"`
}

type SessionsResponse struct {
	Sessions []*types.Session `json:"sessions"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	Proctoring  session.Status         `json:"proctoring"`
	System      map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: POST /start - a non-positive exam_duration uses the configured default
func (s *Server) startProctoring(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		s.sendError(w, "Username is required", http.StatusBadRequest)
		return
	}

	budget := time.Duration(req.ExamDuration) * time.Second
	res, err := s.proctor.Start(r.Context(), req.Username, budget)
	if err != nil {
		s.sendMappedError(w, "Error starting proctoring", err)
		return
	}

	if res.Status == session.StatusAlreadyActive {
		s.sendJSON(w, http.StatusOK, ProctoringResponse{
			Status:  res.Status,
			Message: fmt.Sprintf("Proctoring is already active for user: %s", res.Session.Username),
			Data: map[string]interface{}{
				"current_user":   res.Session.Username,
				"session_id":     res.Session.ID,
				"time_remaining": res.TimeRemaining,
			},
		})
		return
	}

	s.sendJSON(w, http.StatusOK, ProctoringResponse{
		Status:  res.Status,
		Message: fmt.Sprintf("Proctoring started successfully for %s", res.Session.Username),
		Data: map[string]interface{}{
			"username":         res.Session.Username,
			"session_id":       res.Session.ID,
			"duration_seconds": res.Session.BudgetSeconds(),
			"duration_minutes": res.Session.BudgetSeconds() / 60,
			"time_remaining":   res.TimeRemaining,
		},
	})
}

// FUNCTIONAL DISCOVERY: POST /stop - stopping an inactive station is not an error
func (s *Server) stopProctoring(w http.ResponseWriter, r *http.Request) {
	res, err := s.proctor.Stop(r.Context())
	if err != nil {
		s.sendMappedError(w, "Error stopping proctoring", err)
		return
	}
	if !res.WasActive || res.Session == nil {
		s.sendJSON(w, http.StatusOK, ProctoringResponse{
			Status:  session.StatusInactive,
			Message: "Proctoring is not currently active",
		})
		return
	}

	data := map[string]interface{}{
		"username":   res.Session.Username,
		"session_id": res.Session.ID,
	}
	if res.Session.EndTime != nil {
		data["stopped_at"] = res.Session.EndTime.Format(time.RFC3339)
	}
	s.sendJSON(w, http.StatusOK, ProctoringResponse{
		Status:  session.StatusInactive,
		Message: fmt.Sprintf("Proctoring stopped successfully for %s", res.Session.Username),
		Data:    data,
	})
}

// FUNCTIONAL DISCOVERY: POST /toggle - only stops; starting needs a username
func (s *Server) toggleProctoring(w http.ResponseWriter, r *http.Request) {
	if !s.proctor.Status().Active {
		s.sendError(w, "Use /start endpoint with username to start proctoring", http.StatusBadRequest)
		return
	}
	if _, err := s.proctor.Stop(r.Context()); err != nil {
		s.sendMappedError(w, "Error toggling proctoring", err)
		return
	}
	s.sendJSON(w, http.StatusOK, ProctoringResponse{
		Status:  session.StatusInactive,
		Message: "Proctoring stopped",
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.proctor.Status())
}

// FUNCTIONAL DISCOVERY: GET /video_feed/{username} - multipart JPEG stream for an <img> tag
func (s *Server) videoFeed(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	sub, unsubscribe, err := s.proctor.Subscribe(username)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case errors.Is(err, session.ErrSessionNotActive):
			s.sendError(w, "Video feed is not active. Please start proctoring first using /start endpoint.", http.StatusBadRequest)
		case errors.Is(err, session.ErrUserMismatch):
			s.sendError(w, fmt.Sprintf("Video feed is not active for user '%s'", username), http.StatusForbidden)
		default:
			s.sendMappedError(w, "Error streaming video", err)
		}
		return
	}
	defer unsubscribe()

	log.Printf("Live feed viewer attached: user=%s id=%s", username, sub.ID())
	err = livefeed.Stream(r.Context(), w, sub)
	if err != nil && !errors.Is(err, livefeed.ErrFeedClosed) && !errors.Is(err, context.Canceled) {
		log.Printf("Live feed viewer dropped: user=%s: %v", username, err)
	}
}

// FUNCTIONAL DISCOVERY: GET /user_data/{username} - unknown users get an empty series
func (s *Server) getUserData(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	data := s.proctor.UserData(username)
	stats := session.Summarize(username, data)

	s.sendJSON(w, http.StatusOK, UserDataResponse{
		Username:               username,
		Data:                   data,
		TotalCheatingInstances: stats.CheatingInstances,
		TotalDuration:          lastElapsed(data),
	})
}

func lastElapsed(data []types.Sample) float64 {
	if len(data) == 0 {
		return 0
	}
	return data[len(data)-1].ElapsedSeconds
}

func (s *Server) getStatistics(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	stats := s.proctor.Statistics(username)
	if stats.TotalEntries == 0 {
		s.sendJSON(w, http.StatusOK, map[string]string{
			"username": username,
			"message":  "No data available for this user",
		})
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

// FUNCTIONAL DISCOVERY: GET /sessions?username=&limit= - stored session history, newest first
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username != "" && !types.IsValidUsername(username) {
		s.sendError(w, "Invalid username", http.StatusBadRequest)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.sendError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	sessions, err := s.proctor.History(r.Context(), username, limit)
	if err != nil {
		s.sendError(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	s.sendJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions})
}

func (s *Server) listRecordings(w http.ResponseWriter, r *http.Request) {
	recordings, err := s.clips.List()
	if err != nil {
		s.sendError(w, fmt.Sprintf("Error listing recordings: %v", err), http.StatusInternalServerError)
		return
	}
	if recordings == nil {
		recordings = []types.ClipInfo{}
	}
	s.sendJSON(w, http.StatusOK, RecordingsResponse{
		Recordings: recordings,
		Total:      len(recordings),
		Directory:  s.clips.Dir(),
	})
}

// FUNCTIONAL DISCOVERY: DELETE /recordings/{filename} - file first, then its metadata row
func (s *Server) deleteRecording(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	if err := s.clips.Delete(filename); err != nil {
		switch {
		case errors.Is(err, clips.ErrInvalidClipName):
			s.sendError(w, "Invalid file format", http.StatusBadRequest)
		case errors.Is(err, clips.ErrClipNotFound):
			s.sendError(w, "Recording not found", http.StatusNotFound)
		default:
			s.sendError(w, fmt.Sprintf("Error deleting recording: %v", err), http.StatusInternalServerError)
		}
		return
	}

	if s.store != nil {
		if err := s.store.DeleteClip(r.Context(), filename); err != nil {
			log.Printf("Failed to delete clip metadata for %s: %v", filename, err)
		}
	}

	s.sendJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Recording %s deleted successfully", filename),
	})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.proctor.Settings())
}

// FUNCTIONAL DISCOVERY: POST /settings accepts a JSON body or query parameters;
// query parameters win when both are present
func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var update session.SettingsUpdate

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		s.sendError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &update); err != nil {
			s.sendError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}

	q := r.URL.Query()
	if v := q.Get("total_time"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.sendError(w, "total_time must be an integer number of seconds", http.StatusBadRequest)
			return
		}
		update.TotalTime = &n
	}
	if v := q.Get("minimum_cheating_duration"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.sendError(w, "minimum_cheating_duration must be a number of seconds", http.StatusBadRequest)
			return
		}
		update.MinimumCheatingDuration = &f
	}

	updated, err := s.proctor.UpdateSettings(update)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.sendJSON(w, http.StatusOK, SettingsResponse{
		Status:  "success",
		Message: "Settings updated",
		Updated: updated,
	})
}

// FUNCTIONAL DISCOVERY: POST /alt-tab - attributed to the active examinee when
// the page does not send a username; rate limited per user
func (s *Server) altTab(w http.ResponseWriter, r *http.Request) {
	var event AltTabEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if event.Type == "" {
		s.sendError(w, "Event type is required", http.StatusBadRequest)
		return
	}

	username := strings.TrimSpace(event.Username)
	if username == "" {
		username = s.proctor.Status().Username
	}
	if username == "" {
		s.sendError(w, "Username is required when no session is active", http.StatusBadRequest)
		return
	}

	if s.limiter != nil && !s.limiter.Allow(username) {
		s.sendError(w, router.ErrRateLimitExceeded.Error(), http.StatusTooManyRequests)
		return
	}

	details := map[string]interface{}{"type": event.Type}
	data := map[string]interface{}{
		"type":         event.Type,
		"start_time":   nil,
		"end_time":     nil,
		"time_elapsed": event.TimeElapsed,
	}
	if event.StartTime != nil {
		ts := fromMillis(*event.StartTime)
		details["start_time"] = ts
		data["start_time"] = ts
	}
	if event.EndTime != nil {
		ts := fromMillis(*event.EndTime)
		details["end_time"] = ts
		data["end_time"] = ts
	}
	if event.TimeElapsed != nil {
		details["time_elapsed"] = *event.TimeElapsed
	}

	if err := s.proctor.FocusLost(username, details); err != nil {
		s.sendMappedError(w, "Error logging alt-tab event", err)
		return
	}

	s.sendJSON(w, http.StatusOK, ProctoringResponse{
		Status:  "success",
		Message: "Alt-Tab event logged",
		Data:    data,
	})
}

func fromMillis(ms float64) string {
	return time.UnixMilli(int64(ms)).UTC().Format(time.RFC3339Nano)
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if s.store == nil {
		dbStatus = "disabled"
	} else if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	connectionStats := map[string]int{}
	if s.registry != nil {
		connectionStats = s.registry.GetStats()
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: connectionStats,
		Proctoring:  s.proctor.Status(),
		System: map[string]interface{}{
			"goroutines":     runtime.NumGoroutine(),
			"uptime_seconds": int(time.Since(s.started).Seconds()),
		},
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

// sendMappedError turns controller errors into status codes
func (s *Server) sendMappedError(w http.ResponseWriter, prefix string, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidUsername):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrSessionNotActive):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrUserMismatch):
		s.sendError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, capture.ErrDeviceUnavailable):
		log.Printf("%s: %v", prefix, err)
		s.sendError(w, fmt.Sprintf("%s: %v", prefix, err), http.StatusServiceUnavailable)
	case errors.Is(err, session.ErrStopTimeout), errors.Is(err, context.DeadlineExceeded):
		s.sendError(w, fmt.Sprintf("%s: %v", prefix, err), http.StatusGatewayTimeout)
	default:
		log.Printf("%s: %v", prefix, err)
		s.sendError(w, fmt.Sprintf("%s: %v", prefix, err), http.StatusInternalServerError)
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// The exam page and the proctor dashboard are served from other origins
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
