// Package ajax dispatches the theme's admin-ajax style actions and wraps
// every answer in the {success, data} envelope.
package ajax

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"digifusion/logging"
)

const maxBodyBytes = 1 << 20

// Envelope is the response body of every action.
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// Error carries the HTTP status an action failure maps to.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// Errorf builds an *Error.
func Errorf(status int, format string, args ...any) error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// Request is a decoded action call. Params holds form values, or the
// top-level fields of a JSON body.
type Request struct {
	*http.Request
	Action string
	Params url.Values
}

// Param returns the first value of key, trimmed.
func (r *Request) Param(key string) string {
	return strings.TrimSpace(r.Params.Get(key))
}

// Handler runs one action and returns its data.
type Handler func(w http.ResponseWriter, r *Request) (any, error)

// Guard checks nonces and capabilities.
type Guard interface {
	VerifyNonce(action, nonce string) error
	Authorize(r *http.Request) error
}

type action struct {
	handler     Handler
	nonceAction string
	capability  bool
}

type Option func(*action)

// RequireNonce makes the action check the "nonce" param against
// nonceAction.
func RequireNonce(nonceAction string) Option {
	return func(a *action) { a.nonceAction = nonceAction }
}

// RequireCapability makes the action check the caller's credentials.
func RequireCapability() Option {
	return func(a *action) { a.capability = true }
}

// Dispatcher routes requests by their "action" field.
type Dispatcher struct {
	mu      sync.RWMutex
	actions map[string]action
	guard   Guard
}

func NewDispatcher(guard Guard) *Dispatcher {
	return &Dispatcher{actions: make(map[string]action), guard: guard}
}

// Register adds an action. Registering a name twice replaces the handler.
func (d *Dispatcher) Register(name string, h Handler, opts ...Option) {
	a := action{handler: h}
	for _, opt := range opts {
		opt(&a)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions[name] = a
}

// Actions lists the registered action names.
func (d *Dispatcher) Actions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.actions))
	for name := range d.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	req, err := decode(r)
	if err != nil {
		Write(w, http.StatusBadRequest, Envelope{Data: map[string]string{"message": err.Error()}})
		return
	}

	d.mu.RLock()
	a, ok := d.actions[req.Action]
	d.mu.RUnlock()
	if !ok {
		Write(w, http.StatusBadRequest, Envelope{Data: map[string]string{"message": "unknown action"}})
		return
	}

	if a.nonceAction != "" {
		if d.guard == nil || d.guard.VerifyNonce(a.nonceAction, req.Param("nonce")) != nil {
			Write(w, http.StatusForbidden, Envelope{Data: map[string]string{"message": "security check failed"}})
			return
		}
	}
	if a.capability {
		if d.guard == nil || d.guard.Authorize(r) != nil {
			Write(w, http.StatusForbidden, Envelope{Data: map[string]string{"message": "insufficient permissions"}})
			return
		}
	}

	data, err := a.handler(w, req)
	if err != nil {
		status := http.StatusInternalServerError
		message := "internal error"
		var ae *Error
		if errors.As(err, &ae) {
			status, message = ae.Status, ae.Message
		} else {
			logger.Error("ajax action failed", zap.String("action", req.Action), zap.Error(err))
		}
		Write(w, status, Envelope{Data: map[string]string{"message": message}})
		return
	}
	Write(w, http.StatusOK, Envelope{Success: true, Data: data})
}

func decode(r *http.Request) (*Request, error) {
	req := &Request{Request: r, Params: url.Values{}}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		var fields map[string]any
		if len(body) > 0 {
			if err := json.Unmarshal(body, &fields); err != nil {
				return nil, fmt.Errorf("invalid json body")
			}
		}
		for k, v := range fields {
			switch val := v.(type) {
			case string:
				req.Params.Set(k, val)
			case nil:
			default:
				// Nested values are passed on as their JSON text.
				raw, _ := json.Marshal(val)
				req.Params.Set(k, string(raw))
			}
		}
		for k, vs := range r.URL.Query() {
			if !req.Params.Has(k) {
				req.Params[k] = vs
			}
		}
	} else {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body")
		}
		req.Params = r.Form
	}
	req.Action = req.Param("action")
	return req, nil
}

// Write encodes env with status.
func Write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
