package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"digifusion/customizer"
	"digifusion/schema"
	"digifusion/theme"
)

const testToken = "secret-token"

type memStore struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memStore) ThemeMod(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) SetThemeMods(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *memStore) get(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}

type tokenAuthorizer struct{}

func (tokenAuthorizer) Authorize(r *http.Request) error {
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		return errors.New("forbidden")
	}
	return nil
}

type fixedNonces struct{}

func (fixedNonces) Issue(action string) string { return "nonce-for-" + action }

type fixture struct {
	server *httptest.Server
	store  *memStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := schema.Default()
	store := &memStore{values: map[string]string{}}
	registrar := customizer.NewRegistrar(s)
	engine := theme.NewEngine(s, store, nil)

	srv := NewServer(Deps{
		Theme:      theme.NewHandler(engine, nil, "/style.css"),
		Registrar:  registrar,
		Sessions:   customizer.NewSessions(registrar, store, nil),
		Nonces:     fixedNonces{},
		Authorizer: tokenAuthorizer{},
		PreviewEngine: func(settings theme.SettingsReader) *theme.Engine {
			return theme.NewEngine(s, settings, nil)
		},
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &fixture{server: ts, store: store}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) openSession(t *testing.T) string {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/customizer/sessions", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out struct {
		ID string `json:"id"`
		WS string `json:"ws"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.ID)
	require.Equal(t, "/api/customizer/sessions/"+out.ID+"/ws", out.WS)
	return out.ID
}

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Content-Type"))
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "ok", out["status"])
}

func TestNonceRequiresAction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/nonce", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/nonce?action=digifusion_cart_nonce", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "nonce-for-digifusion_cart_nonce", out["nonce"])
}

func TestDynamicCSSEmptyForDefaults(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/dynamic.css", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Empty(t, strings.TrimSpace(string(body)))
}

func TestSessionRoutesRequireCapability(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/api/customizer/sessions", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/customizer/sessions/missing/settings", `{"key":"digifusion_body_colors","value":"{}"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSetSettingCascadesAndPublishes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.openSession(t)

	resp := f.do(t, http.MethodPost, "/api/customizer/sessions/"+id+"/settings",
		`{"key":"digifusion_global_colors","value":{"secondary":"#000000"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out updatesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	keys := make([]string, 0, len(out.Updates))
	for _, u := range out.Updates {
		require.Equal(t, customizer.StyleUpdateType, u.Type)
		keys = append(keys, u.Key)
	}
	require.Contains(t, keys, schema.GlobalColorsKey)
	require.Contains(t, keys, "digifusion_body_colors")

	// Nothing is stored before publishing.
	require.Empty(t, f.store.get(schema.GlobalColorsKey))

	css := f.do(t, http.MethodGet, "/api/customizer/sessions/"+id+"/dynamic.css", "")
	require.Equal(t, http.StatusOK, css.StatusCode)
	body, err := io.ReadAll(css.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "#000000")

	resp = f.do(t, http.MethodPost, "/api/customizer/sessions/"+id+"/publish", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, f.store.get(schema.GlobalColorsKey), "#000000")
	require.Contains(t, f.store.get("digifusion_body_colors"), "#000000")
}

func TestSetSettingRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.openSession(t)

	resp := f.do(t, http.MethodPost, "/api/customizer/sessions/"+id+"/settings", `{"key":"nope","value":"x"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/customizer/sessions/"+id+"/settings", `not json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPreviewSocketReceivesStyleUpdates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.openSession(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/customizer/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ready map[string]string
	require.NoError(t, conn.ReadJSON(&ready))
	require.Equal(t, "ready", ready["type"])
	require.Equal(t, id, ready["session"])

	resp := f.do(t, http.MethodPost, "/api/customizer/sessions/"+id+"/settings",
		`{"key":"digifusion_body_colors","value":{"background":"#123456"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var update customizer.StyleUpdate
	require.NoError(t, conn.ReadJSON(&update))
	require.Equal(t, "digifusion_body_colors", update.Key)
	require.Equal(t, "digifusion-body-colors-preview", update.ID)
	require.Contains(t, update.CSS, "#123456")
}

func TestCloseSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.openSession(t)

	resp := f.do(t, http.MethodDelete, "/api/customizer/sessions/"+id, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/customizer/sessions/"+id+"/publish", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSettingValueAcceptsStringsAndObjects(t *testing.T) {
	t.Parallel()
	require.Equal(t, `{"a":"b"}`, settingValue(json.RawMessage(`"{\"a\":\"b\"}"`)))
	require.Equal(t, `{"a":"b"}`, settingValue(json.RawMessage(`{"a":"b"}`)))
	require.Equal(t, `true`, settingValue(json.RawMessage(`true`)))
}
