package customizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"digifusion/logging"
	"digifusion/model"
	"digifusion/schema"
)

var ErrSessionNotFound = errors.New("customizer: session not found")

// Store is the persistent settings a session previews on top of.
type Store interface {
	ThemeMod(ctx context.Context, key string) (string, bool, error)
	SetThemeMods(ctx context.Context, values map[string]string) error
}

// Listener receives the style updates produced by a session.
type Listener func(StyleUpdate)

// PublishHook runs after a session's values were saved.
type PublishHook func(ctx context.Context, keys []string)

// Session holds unsaved customizer values layered over the store. Every
// change, including ones made by the color cascade, is announced to the
// session's listeners as a StyleUpdate.
type Session struct {
	id        string
	registrar *Registrar
	store     Store
	cascade   *Cascade
	hooks     []PublishHook
	logger    *zap.Logger

	mu        sync.Mutex
	pending   map[string]string
	listeners map[int]Listener
	nextID    int
}

func newSession(id string, registrar *Registrar, store Store, hooks []PublishHook, logger *zap.Logger) *Session {
	s := &Session{
		id:        id,
		registrar: registrar,
		store:     store,
		hooks:     hooks,
		logger:    logger.With(zap.String("session", id)),
		pending:   make(map[string]string),
		listeners: make(map[int]Listener),
	}
	s.cascade = NewCascade(registrar.CascadeRegistry(), s, s.logger)
	return s
}

func (s *Session) ID() string { return s.id }

// Subscribe registers l and returns a function removing it.
func (s *Session) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// ThemeMod returns the pending value of key, falling back to the store.
func (s *Session) ThemeMod(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	v, ok := s.pending[key]
	s.mu.Unlock()
	if ok {
		return v, true, nil
	}
	return s.store.ThemeMod(ctx, key)
}

// Value returns the value a customizer control shows for key: pending,
// stored, or the schema default.
func (s *Session) Value(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.ThemeMod(ctx, key)
	if err != nil || ok {
		return v, ok, err
	}
	v, ok = s.registrar.Schema().DefaultValue(key)
	return v, ok, nil
}

// Update stores value as pending and notifies listeners. The value is not
// sanitised; callers outside the package use Set.
func (s *Session) Update(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.pending[key] = value
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	update := NewStyleUpdate(s.registrar.Schema(), key, value)
	for _, l := range listeners {
		l(update)
	}
	return nil
}

// Set sanitises and previews a new value for key. Changing the global
// palette cascades to every group field that still references the old
// swatch value. It returns the style updates for all touched settings.
func (s *Session) Set(ctx context.Context, key, raw string) ([]StyleUpdate, error) {
	clean, err := s.registrar.Sanitize(key, raw)
	if err != nil {
		return nil, err
	}

	var before model.ColorGroup
	if key == schema.GlobalColorsKey {
		if before, err = s.palette(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.Update(ctx, key, clean); err != nil {
		return nil, err
	}
	changed := []string{key}

	if key == schema.GlobalColorsKey {
		after, err := s.palette(ctx)
		if err != nil {
			return nil, err
		}
		keys, err := s.cascade.PaletteChanged(ctx, before, after)
		if err != nil {
			s.logger.Warn("color cascade incomplete", zap.Error(err))
		}
		changed = append(changed, keys...)
	}
	return s.updates(ctx, changed)
}

// ResetGlobal restores one palette swatch to its default and moves every
// group field still using the current swatch value along with it.
func (s *Session) ResetGlobal(ctx context.Context, swatch string) ([]StyleUpdate, error) {
	field, ok := s.registrar.Schema().Palette().Field(swatch)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownSetting, schema.GlobalColorsKey, swatch)
	}
	palette, err := s.palette(ctx)
	if err != nil {
		return nil, err
	}
	current := palette[swatch]
	palette[swatch] = field.Default
	if err := s.Update(ctx, schema.GlobalColorsKey, palette.Encode()); err != nil {
		return nil, err
	}

	changed := []string{schema.GlobalColorsKey}
	keys, err := s.cascade.Reset(ctx, current, field.Default)
	if err != nil {
		s.logger.Warn("color cascade incomplete", zap.Error(err))
	}
	changed = append(changed, keys...)
	return s.updates(ctx, changed)
}

// palette returns the effective palette: defaults overlaid with the
// current value.
func (s *Session) palette(ctx context.Context) (model.ColorGroup, error) {
	raw, _, err := s.ThemeMod(ctx, schema.GlobalColorsKey)
	if err != nil {
		return nil, err
	}
	return effectivePalette(s.registrar.Schema(), raw), nil
}

func (s *Session) updates(ctx context.Context, keys []string) ([]StyleUpdate, error) {
	out := make([]StyleUpdate, 0, len(keys))
	for _, k := range keys {
		v, _, err := s.Value(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, NewStyleUpdate(s.registrar.Schema(), k, v))
	}
	return out, nil
}

// Pending returns a copy of the unsaved values.
func (s *Session) Pending() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.pending))
	for k, v := range s.pending {
		out[k] = v
	}
	return out
}

// Publish saves the pending values in one write and runs the publish
// hooks. It returns the saved keys.
func (s *Session) Publish(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	values := make(map[string]string, len(s.pending))
	for k, v := range s.pending {
		values[k] = v
	}
	s.mu.Unlock()

	if len(values) == 0 {
		return nil, nil
	}
	if err := s.store.SetThemeMods(ctx, values); err != nil {
		return nil, fmt.Errorf("publish settings: %w", err)
	}

	s.mu.Lock()
	for k, v := range values {
		if s.pending[k] == v {
			delete(s.pending, k)
		}
	}
	s.mu.Unlock()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.logger.Info("customizer settings published", zap.Strings("keys", keys))
	for _, h := range s.hooks {
		h(ctx, keys)
	}
	return keys, nil
}

// Sessions tracks the open preview sessions.
type Sessions struct {
	registrar *Registrar
	store     Store
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	hooks    []PublishHook
}

func NewSessions(registrar *Registrar, store Store, logger *zap.Logger) *Sessions {
	return &Sessions{
		registrar: registrar,
		store:     store,
		logger:    logging.OrNop(logger).Named("customizer"),
		sessions:  make(map[string]*Session),
	}
}

// OnPublish registers a hook run after every successful publish. Hooks
// apply to sessions opened afterwards.
func (m *Sessions) OnPublish(h PublishHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// Open starts a new preview session.
func (m *Sessions) Open() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := newSession(uuid.NewString(), m.registrar, m.store, append([]PublishHook(nil), m.hooks...), m.logger)
	m.sessions[s.id] = s
	return s
}

// Get returns an open session.
func (m *Sessions) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close discards a session and its unsaved values.
func (m *Sessions) Close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Len reports the number of open sessions.
func (m *Sessions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
