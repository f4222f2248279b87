package customizer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"digifusion/model"
	"digifusion/schema"
	"digifusion/theme"
)

type memStore struct {
	mu     sync.Mutex
	values map[string]string
	writes int
	fail   error
}

func newMemStore(values map[string]string) *memStore {
	if values == nil {
		values = map[string]string{}
	}
	return &memStore{values: values}
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
	if m.fail != nil {
		return m.fail
	}
	m.writes++
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func decode(t *testing.T, raw string) model.ColorGroup {
	t.Helper()
	g, err := model.DecodeColorGroup(raw)
	require.NoError(t, err)
	return g
}

// liveMap is a minimal LiveSettings recording every update.
type liveMap struct {
	values  map[string]string
	updates []string
}

func (l *liveMap) Value(_ context.Context, key string) (string, bool, error) {
	v, ok := l.values[key]
	return v, ok, nil
}

func (l *liveMap) Update(_ context.Context, key, value string) error {
	l.values[key] = value
	l.updates = append(l.updates, key)
	return nil
}

func TestCascadeRewritesExactMatchesOnly(t *testing.T) {
	t.Parallel()

	live := &liveMap{values: map[string]string{
		"digifusion_body_colors":   `{"text":"#111111","headings":"#111112"}`,
		"digifusion_menu_colors":   `{"normal":"#111111","hover":"#111111"}`,
		"digifusion_footer_colors": `{"text":"#333333"}`,
	}}
	c := NewCascade(Registry{ColorGroups: []string{
		"digifusion_body_colors", "digifusion_menu_colors", "digifusion_footer_colors",
	}}, live, nil)

	updated, err := c.PaletteChanged(context.Background(),
		model.ColorGroup{"text": "#111111", "primary": "#4a6cf7"},
		model.ColorGroup{"text": "#222222", "primary": "#4a6cf7"})
	require.NoError(t, err)
	require.Equal(t, []string{"digifusion_body_colors", "digifusion_menu_colors"}, updated)
	require.Equal(t, updated, live.updates)

	require.Equal(t, model.ColorGroup{"text": "#222222", "headings": "#111112"}, decode(t, live.values["digifusion_body_colors"]))
	require.Equal(t, model.ColorGroup{"normal": "#222222", "hover": "#222222"}, decode(t, live.values["digifusion_menu_colors"]))
	require.Equal(t, `{"text":"#333333"}`, live.values["digifusion_footer_colors"])
}

func TestCascadeMatchesCaseInsensitively(t *testing.T) {
	t.Parallel()

	live := &liveMap{values: map[string]string{
		"digifusion_body_colors": `{"text":"#ABCDEF"}`,
	}}
	c := NewCascade(Registry{ColorGroups: []string{"digifusion_body_colors"}}, live, nil)

	_, err := c.Propagate(context.Background(), "#abcdef", "#000000")
	require.NoError(t, err)
	require.Equal(t, model.ColorGroup{"text": "#000000"}, decode(t, live.values["digifusion_body_colors"]))
}

func TestCascadeSwapsSwatches(t *testing.T) {
	t.Parallel()

	live := &liveMap{values: map[string]string{
		"digifusion_body_colors": `{"background":"#aaaaaa","text":"#bbbbbb","headings":"#BBBBBB"}`,
	}}
	c := NewCascade(Registry{ColorGroups: []string{"digifusion_body_colors"}}, live, nil)

	updated, err := c.PaletteChanged(context.Background(),
		model.ColorGroup{"primary": "#aaaaaa", "secondary": "#bbbbbb"},
		model.ColorGroup{"primary": "#bbbbbb", "secondary": "#aaaaaa"})
	require.NoError(t, err)
	require.Equal(t, []string{"digifusion_body_colors"}, updated)
	require.Len(t, live.updates, 1)
	require.Equal(t,
		model.ColorGroup{"background": "#bbbbbb", "text": "#aaaaaa", "headings": "#aaaaaa"},
		decode(t, live.values["digifusion_body_colors"]))
}

func TestCascadeChainedSwatchesMoveOnce(t *testing.T) {
	t.Parallel()

	live := &liveMap{values: map[string]string{
		"digifusion_body_colors": `{"background":"#aaaaaa","text":"#bbbbbb","headings":"#cccccc"}`,
	}}
	c := NewCascade(Registry{ColorGroups: []string{"digifusion_body_colors"}}, live, nil)

	_, err := c.PaletteChanged(context.Background(),
		model.ColorGroup{"primary": "#aaaaaa", "secondary": "#bbbbbb"},
		model.ColorGroup{"primary": "#bbbbbb", "secondary": "#cccccc"})
	require.NoError(t, err)
	require.Equal(t,
		model.ColorGroup{"background": "#bbbbbb", "text": "#cccccc", "headings": "#cccccc"},
		decode(t, live.values["digifusion_body_colors"]))
}

func TestStoredSettingsSwapPersistsOnce(t *testing.T) {
	t.Parallel()

	s := schema.Default()
	store := newMemStore(map[string]string{
		"digifusion_body_colors": `{"background":"#aaaaaa","text":"#bbbbbb"}`,
	})
	c := NewCascade(NewRegistrar(s).CascadeRegistry(), NewStoredSettings(s, store), nil)

	_, err := c.PaletteChanged(context.Background(),
		model.ColorGroup{"primary": "#aaaaaa", "secondary": "#bbbbbb"},
		model.ColorGroup{"primary": "#bbbbbb", "secondary": "#aaaaaa"})
	require.NoError(t, err)
	require.Equal(t,
		model.ColorGroup{"background": "#bbbbbb", "text": "#aaaaaa"},
		decode(t, store.values["digifusion_body_colors"]))
}

func TestCascadeSkipsInvalidGroups(t *testing.T) {
	t.Parallel()

	live := &liveMap{values: map[string]string{
		"digifusion_body_colors": `{not json`,
		"digifusion_menu_colors": `{"normal":"#111111"}`,
	}}
	c := NewCascade(Registry{ColorGroups: []string{"digifusion_body_colors", "digifusion_menu_colors"}}, live, nil)

	updated, err := c.Propagate(context.Background(), "#111111", "#222222")
	require.NoError(t, err)
	require.Equal(t, []string{"digifusion_menu_colors"}, updated)
	require.Equal(t, `{not json`, live.values["digifusion_body_colors"])
}

type reentrantSettings struct {
	liveMap
	cascade *Cascade
	nested  []string
}

func (r *reentrantSettings) Update(ctx context.Context, key, value string) error {
	keys, _ := r.cascade.Propagate(ctx, "#222222", "#333333")
	r.nested = append(r.nested, keys...)
	return r.liveMap.Update(ctx, key, value)
}

func TestCascadeIgnoresNestedInvocations(t *testing.T) {
	t.Parallel()

	r := &reentrantSettings{liveMap: liveMap{values: map[string]string{
		"digifusion_body_colors": `{"text":"#111111"}`,
	}}}
	r.cascade = NewCascade(Registry{ColorGroups: []string{"digifusion_body_colors"}}, r, nil)

	updated, err := r.cascade.Propagate(context.Background(), "#111111", "#222222")
	require.NoError(t, err)
	require.Equal(t, []string{"digifusion_body_colors"}, updated)
	require.Empty(t, r.nested)
	require.False(t, r.cascade.Updating())
	require.Equal(t, model.ColorGroup{"text": "#222222"}, decode(t, r.values["digifusion_body_colors"]))
}

func TestPaletteChanges(t *testing.T) {
	t.Parallel()

	changes := PaletteChanges(
		model.ColorGroup{"primary": "#111111", "secondary": "#222222", "text": "#AAAAAA"},
		model.ColorGroup{"primary": "#999999", "secondary": "#222222", "text": "#aaaaaa", "dark": "#000000"},
	)
	require.Equal(t, []SwatchChange{{Key: "primary", Old: "#111111", New: "#999999"}}, changes)
}

func TestSessionPaletteChangeCascadesAndNotifies(t *testing.T) {
	t.Parallel()

	store := newMemStore(map[string]string{
		schema.GlobalColorsKey:   `{"primary":"#111111"}`,
		"digifusion_menu_colors": `{"normal":"#111111","hover":"#111112"}`,
	})
	sessions := NewSessions(NewRegistrar(schema.Default()), store, nil)
	s := sessions.Open()

	var got []StyleUpdate
	unsubscribe := s.Subscribe(func(u StyleUpdate) { got = append(got, u) })
	defer unsubscribe()

	updates, err := s.Set(context.Background(), schema.GlobalColorsKey, `{"primary":"#222222"}`)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	require.Equal(t, "digifusion-global-colors-preview", updates[0].ID)
	require.Equal(t, "digifusion_menu_colors", updates[1].Key)
	require.Contains(t, updates[1].CSS, ".digi-header-nav .menu > li > a{color:#222222;}")
	require.Contains(t, updates[1].CSS, "#111112")
	require.Equal(t, updates, got)

	raw, _, err := s.ThemeMod(context.Background(), "digifusion_menu_colors")
	require.NoError(t, err)
	require.Equal(t, model.ColorGroup{"normal": "#222222", "hover": "#111112"}, decode(t, raw))
	require.Zero(t, store.writes, "nothing is saved before publish")
}

func TestSessionCascadesIntoDefaults(t *testing.T) {
	t.Parallel()

	sessions := NewSessions(NewRegistrar(schema.Default()), newMemStore(nil), nil)
	s := sessions.Open()
	ctx := context.Background()

	// Body headings default to the secondary swatch's default value.
	_, err := s.Set(ctx, schema.GlobalColorsKey, `{"secondary":"#123456"}`)
	require.NoError(t, err)

	raw, _, err := s.Value(ctx, "digifusion_body_colors")
	require.NoError(t, err)
	require.Equal(t, "#123456", decode(t, raw)["headings"])
}

func TestSessionResetGlobal(t *testing.T) {
	t.Parallel()

	store := newMemStore(map[string]string{
		schema.GlobalColorsKey:   `{"primary":"#ff0000"}`,
		"digifusion_body_colors": `{"background":"#ff0000","text":"#00ff00"}`,
	})
	s := NewSessions(NewRegistrar(schema.Default()), store, nil).Open()
	ctx := context.Background()

	updates, err := s.ResetGlobal(ctx, "primary")
	require.NoError(t, err)
	require.Len(t, updates, 2)

	raw, _, err := s.Value(ctx, "digifusion_body_colors")
	require.NoError(t, err)
	require.Equal(t, model.ColorGroup{"background": "#4a6cf7", "text": "#00ff00"}, decode(t, raw))

	_, err = s.ResetGlobal(ctx, "nope")
	require.ErrorIs(t, err, ErrUnknownSetting)
}

func TestSessionSetRejectsUnknownSetting(t *testing.T) {
	t.Parallel()

	s := NewSessions(NewRegistrar(schema.Default()), newMemStore(nil), nil).Open()
	_, err := s.Set(context.Background(), "blogname", "x")
	require.ErrorIs(t, err, ErrUnknownSetting)
}

func TestSessionPublish(t *testing.T) {
	t.Parallel()

	store := newMemStore(nil)
	sessions := NewSessions(NewRegistrar(schema.Default()), store, nil)
	var published []string
	sessions.OnPublish(func(_ context.Context, keys []string) { published = keys })
	s := sessions.Open()
	ctx := context.Background()

	_, err := s.Set(ctx, "digifusion_body_colors", `{"background":"#000000","bogus":"#fff","text":"red"}`)
	require.NoError(t, err)
	_, err = s.Set(ctx, schema.LocalFontsKey, "true")
	require.NoError(t, err)

	keys, err := s.Publish(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"digifusion_body_colors", schema.LocalFontsKey}, keys)
	require.Equal(t, keys, published)
	require.Equal(t, 1, store.writes)
	require.Equal(t, `{"background":"#000000"}`, store.values["digifusion_body_colors"])
	require.Equal(t, "1", store.values[schema.LocalFontsKey])
	require.Empty(t, s.Pending())

	store.fail = errors.New("disk full")
	_, err = s.Set(ctx, "digifusion_body_colors", `{"background":"#111111"}`)
	require.NoError(t, err)
	_, err = s.Publish(ctx)
	require.Error(t, err)
	require.Len(t, s.Pending(), 1)
}

func TestSessionsLookup(t *testing.T) {
	t.Parallel()

	sessions := NewSessions(NewRegistrar(schema.Default()), newMemStore(nil), nil)
	s := sessions.Open()

	got, err := sessions.Get(s.ID())
	require.NoError(t, err)
	require.Same(t, s, got)

	sessions.Close(s.ID())
	_, err = sessions.Get(s.ID())
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Zero(t, sessions.Len())
}

func TestPreviewCSSEmitsAllPresentFields(t *testing.T) {
	t.Parallel()

	s := schema.Default()
	// Equal to the defaults: the stored stylesheet skips these, the preview
	// block does not.
	css := PreviewCSS(s, "digifusion_body_colors", `{"background":"#ffffff","text":"not-a-color"}`)
	require.Equal(t, "body{background-color:#ffffff;}", css)

	require.Empty(t, PreviewCSS(s, "digifusion_body_colors", `{}`))
	require.Empty(t, PreviewCSS(s, schema.SchemaMarkupKey, "1"))
	require.Equal(t, "digifusion-h2-typography-preview", StyleID("digifusion_h2_typography"))
}

func TestPreviewMatchesEngineForChangedSetting(t *testing.T) {
	t.Parallel()

	raw := `{"background":"#101010","text":"#202020"}`
	store := newMemStore(map[string]string{"digifusion_body_colors": raw})
	engine := theme.NewEngine(schema.Default(), store, nil)

	css, err := engine.Generate(context.Background())
	require.NoError(t, err)
	require.Equal(t, css, PreviewCSS(schema.Default(), "digifusion_body_colors", raw))
}

func TestRegistrarManifest(t *testing.T) {
	t.Parallel()

	r := NewRegistrar(schema.Default())
	m := r.Manifest()

	require.Len(t, m.Panels, 3)
	require.NotContains(t, m.ColorGroups, schema.GlobalColorsKey)
	require.Contains(t, m.ColorGroups, schema.MenuColorsKey)
	require.Equal(t, "#4a6cf7", m.GlobalColors["primary"])
	require.Equal(t, m.ColorGroups, r.CascadeRegistry().ColorGroups)

	controls := make(map[string]Control)
	for _, c := range m.Controls {
		controls[c.ID] = c
	}
	require.Equal(t, ControlColorGroup, controls["digifusion_body_colors"].Type)
	require.Equal(t, ControlTypography, controls["digifusion_h1_typography"].Type)
	require.Equal(t, ControlCheckbox, controls[schema.LocalFontsKey].Type)
	require.Len(t, controls["digifusion_body_colors"].Fields, 3)
}

func TestRegistrarSanitize(t *testing.T) {
	t.Parallel()

	r := NewRegistrar(schema.Default())

	v, err := r.Sanitize("digifusion_body_colors", `{"text":" #ABC ","background":"javascript:x","x":"#fff"}`)
	require.NoError(t, err)
	require.Equal(t, `{"text":"#ABC"}`, v)

	_, err = r.Sanitize("digifusion_body_colors", `[1,2]`)
	require.Error(t, err)

	v, err = r.Sanitize(schema.SchemaMarkupKey, "off")
	require.NoError(t, err)
	require.Equal(t, "0", v)

	v, err = r.Sanitize("digifusion_h1_typography", `{"fontFamily":"Lora","fontSize":{"desktop":40}}`)
	require.NoError(t, err)
	typ, err := model.DecodeTypography(v)
	require.NoError(t, err)
	require.Equal(t, "Lora", typ.FontFamily)
	require.Equal(t, model.Value("40"), typ.FontSize.Desktop)
}

func TestStoredSettingsCascade(t *testing.T) {
	t.Parallel()

	store := newMemStore(map[string]string{
		"digifusion_footer_colors": `{"link":"#4A6CF7"}`,
	})
	ss := NewStoredSettings(schema.Default(), store)
	c := NewCascade(NewRegistrar(schema.Default()).CascadeRegistry(), ss, nil)

	before, err := ss.Palette(context.Background())
	require.NoError(t, err)
	after := before.Clone()
	after["primary"] = "#000000"

	updated, err := c.PaletteChanged(context.Background(), before, after)
	require.NoError(t, err)
	require.Contains(t, updated, "digifusion_footer_colors")
	require.Equal(t, "#000000", decode(t, store.values["digifusion_footer_colors"])["link"])
}
