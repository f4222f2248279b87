package customizer

import (
	"context"

	"digifusion/model"
	"digifusion/schema"
)

// StoredSettings runs a cascade directly against the store, for changes
// made outside a preview session.
type StoredSettings struct {
	schema *schema.Schema
	store  Store
}

func NewStoredSettings(s *schema.Schema, store Store) *StoredSettings {
	return &StoredSettings{schema: s, store: store}
}

func (ss *StoredSettings) Value(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := ss.store.ThemeMod(ctx, key)
	if err != nil || ok {
		return v, ok, err
	}
	v, ok = ss.schema.DefaultValue(key)
	return v, ok, nil
}

func (ss *StoredSettings) Update(ctx context.Context, key, value string) error {
	return ss.store.SetThemeMods(ctx, map[string]string{key: value})
}

// Palette returns the stored palette overlaid on the defaults.
func (ss *StoredSettings) Palette(ctx context.Context) (model.ColorGroup, error) {
	raw, _, err := ss.store.ThemeMod(ctx, schema.GlobalColorsKey)
	if err != nil {
		return nil, err
	}
	return effectivePalette(ss.schema, raw), nil
}

func effectivePalette(s *schema.Schema, raw string) model.ColorGroup {
	palette := s.Palette().Defaults()
	current, _ := model.DecodeColorGroup(raw)
	for k, v := range current {
		palette[k] = v
	}
	return palette
}
