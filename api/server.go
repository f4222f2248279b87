// Package api exposes the theme service over HTTP: the dynamic stylesheet,
// AJAX actions and the customizer live-preview sessions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"digifusion/ajax"
	"digifusion/customizer"
	"digifusion/logging"
	"digifusion/theme"
)

const maxBodyBytes = 1 << 20

// NonceIssuer hands out action nonces.
type NonceIssuer interface {
	Issue(action string) string
}

// Authorizer checks the admin capability of a request.
type Authorizer interface {
	Authorize(r *http.Request) error
}

// EngineFactory builds a CSS engine reading from settings; used to render
// the full stylesheet of a preview session.
type EngineFactory func(settings theme.SettingsReader) *theme.Engine

// Deps are the components the server routes to.
type Deps struct {
	Logger        *zap.Logger
	Theme         *theme.Handler
	Registrar     *customizer.Registrar
	Sessions      *customizer.Sessions
	AJAX          *ajax.Dispatcher
	Nonces        NonceIssuer
	Authorizer    Authorizer
	PreviewEngine EngineFactory
	Site          Site
	UploadsDir    string
}

type Server struct {
	deps     Deps
	logger   *zap.Logger
	ws       *WSConnectionManager
	upgrader websocket.Upgrader

	mu          sync.Mutex
	unsubscribe map[string]func()
}

func NewServer(deps Deps) *Server {
	return &Server{
		deps:        deps,
		logger:      logging.OrNop(deps.Logger).Named("api"),
		ws:          NewWSConnectionManager(),
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		unsubscribe: make(map[string]func()),
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(logging.Middleware(s.logger))
	router.Use(chimw.Recoverer)

	router.Get("/api/health", s.handleHealth)
	if s.deps.Theme != nil {
		router.Get("/dynamic.css", s.deps.Theme.HandleDynamicCSS)
		router.Get("/api/head", s.deps.Theme.HandleHead)
	}
	if s.deps.Nonces != nil {
		router.Get("/api/nonce", s.handleNonce)
	}
	if s.deps.AJAX != nil {
		router.Post("/ajax", s.deps.AJAX.ServeHTTP)
	}
	s.mountSite(router)
	if s.deps.UploadsDir != "" {
		router.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.deps.UploadsDir))))
	}

	if s.deps.Registrar != nil {
		router.Get("/api/customizer/settings", s.handleCustomizerSettings)
	}
	if s.deps.Sessions != nil {
		router.Route("/api/customizer/sessions", func(r chi.Router) {
			// The websocket is addressed by the unguessable session id;
			// browsers cannot attach an Authorization header to it.
			r.Get("/{id}/ws", s.handlePreviewSocket)

			r.Group(func(r chi.Router) {
				r.Use(s.requireCapability)
				r.Post("/", s.handleOpenSession)
				r.Delete("/{id}", s.handleCloseSession)
				r.Post("/{id}/settings", s.handleSetSetting)
				r.Post("/{id}/reset-global", s.handleResetGlobal)
				r.Post("/{id}/publish", s.handlePublish)
				r.Get("/{id}/dynamic.css", s.handlePreviewCSS)
			})
		})
	}
	return router
}

// NewHTTPServer wraps the router with the timeouts used in production.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) requireCapability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Authorizer == nil || s.deps.Authorizer.Authorize(r) != nil {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.deps.Sessions != nil {
		resp["preview_sessions"] = s.deps.Sessions.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimSpace(r.URL.Query().Get("action"))
	if action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"action": action, "nonce": s.deps.Nonces.Issue(action)})
}

func (s *Server) handleCustomizerSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registrar.Manifest())
}

// ---------- preview sessions ----------

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	session := s.deps.Sessions.Open()
	id := session.ID()
	unsubscribe := session.Subscribe(func(u customizer.StyleUpdate) {
		s.ws.Broadcast(id, u)
	})
	s.mu.Lock()
	s.unsubscribe[id] = unsubscribe
	s.mu.Unlock()

	logging.FromContext(r.Context()).Info("preview session opened", zap.String("session", id))
	writeJSON(w, http.StatusCreated, map[string]string{
		"id": id,
		"ws": "/api/customizer/sessions/" + id + "/ws",
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.session(w, r); !ok {
		return
	}
	s.mu.Lock()
	if unsubscribe, ok := s.unsubscribe[id]; ok {
		unsubscribe()
		delete(s.unsubscribe, id)
	}
	s.mu.Unlock()
	s.deps.Sessions.Close(id)
	s.ws.CloseSession(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*customizer.Session, bool) {
	session, err := s.deps.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return session, true
}

type setSettingRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// settingValue accepts a JSON string or any other JSON value, which is
// passed on as its raw text.
func settingValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

type updatesResponse struct {
	Updates []customizer.StyleUpdate `json:"updates"`
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	var req setSettingRequest
	if err := decodeJSON(r, &req); err != nil || req.Key == "" || len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	updates, err := session.Set(r.Context(), req.Key, settingValue(req.Value))
	if err != nil {
		if !errors.Is(err, customizer.ErrUnknownSetting) {
			logging.FromContext(r.Context()).Warn("rejected preview value", zap.String("key", req.Key), zap.Error(err))
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updatesResponse{Updates: updates})
}

func (s *Server) handleResetGlobal(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Swatch string `json:"swatch"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Swatch == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	updates, err := session.ResetGlobal(r.Context(), req.Swatch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updatesResponse{Updates: updates})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	keys, err := session.Publish(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("publish failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to publish settings")
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"published": keys})
}

func (s *Server) handlePreviewCSS(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.deps.PreviewEngine == nil {
		http.NotFound(w, r)
		return
	}
	css, err := s.deps.PreviewEngine(session).Generate(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("generate preview css", zap.Error(err))
		http.Error(w, "failed to generate stylesheet", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, css)
}

func (s *Server) handlePreviewSocket(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	id := session.ID()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s.ws.Add(id, conn)
	defer func() {
		s.ws.Remove(id, conn)
		conn.Close()
	}()

	if err := s.ws.WriteJSON(id, conn, map[string]string{"type": "ready", "session": id}); err != nil {
		return
	}

	// Drain client frames until the connection closes.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Shutdown closes every preview socket.
func (s *Server) Shutdown(_ context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.unsubscribe))
	for id, unsubscribe := range s.unsubscribe {
		unsubscribe()
		ids = append(ids, id)
	}
	s.unsubscribe = make(map[string]func())
	s.mu.Unlock()
	for _, id := range ids {
		s.ws.CloseSession(id)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
