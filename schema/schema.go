// Package schema is the single table of defaults and output mappings for
// every styled setting. The CSS engine, the customizer live preview and
// the settings registrar all read from it.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"digifusion/model"
)

const (
	GlobalColorsKey   = "digifusion_global_colors"
	MenuColorsKey     = "digifusion_menu_colors"
	CartColorsKey     = "digifusion_woocommerce_cart_colors"
	LocalFontsKey     = "digifusion_typography_local_fonts"
	SchemaMarkupKey   = "digifusion_schema_markup"
	ContributorWooCom = "woocommerce"
)

//go:embed schema.yaml
var schemaYAML []byte

// ColorRule is one literal selector/property pair a color field writes to.
type ColorRule struct {
	Selector string `yaml:"selector" json:"selector"`
	Property string `yaml:"property" json:"property"`
}

type ColorField struct {
	Key     string      `yaml:"key" json:"key"`
	Label   string      `yaml:"label" json:"label"`
	Default string      `yaml:"default" json:"default"`
	Rules   []ColorRule `yaml:"rules" json:"rules"`
}

// ColorGroupDef describes one ColorGroup setting. Groups with a
// Contributor are emitted by that collaborator rather than the engine.
type ColorGroupDef struct {
	Key         string       `yaml:"key" json:"key"`
	Label       string       `yaml:"label" json:"label"`
	Section     string       `yaml:"section" json:"section"`
	Palette     bool         `yaml:"palette" json:"palette,omitempty"`
	Contributor string       `yaml:"contributor" json:"contributor,omitempty"`
	Fields      []ColorField `yaml:"fields" json:"fields"`
}

// Defaults returns a fresh copy of the group's default colors.
func (d ColorGroupDef) Defaults() model.ColorGroup {
	out := make(model.ColorGroup, len(d.Fields))
	for _, f := range d.Fields {
		out[f.Key] = f.Default
	}
	return out
}

// Field looks up a color field by key.
func (d ColorGroupDef) Field(key string) (ColorField, bool) {
	for _, f := range d.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return ColorField{}, false
}

type TypographyDef struct {
	Key      string           `yaml:"key" json:"key"`
	Role     string           `yaml:"role" json:"role"`
	Label    string           `yaml:"label" json:"label"`
	Selector string           `yaml:"selector" json:"selector"`
	Default  model.Typography `yaml:"-" json:"default"`

	RawDefault map[string]any `yaml:"default" json:"-"`
}

type ToggleDef struct {
	Key     string `yaml:"key" json:"key"`
	Label   string `yaml:"label" json:"label"`
	Section string `yaml:"section" json:"section"`
	Default bool   `yaml:"default" json:"default"`
}

// Schema holds all setting definitions in declaration order.
type Schema struct {
	ColorGroups []ColorGroupDef `yaml:"color_groups"`
	Typography  []TypographyDef `yaml:"typography"`
	Toggles     []ToggleDef     `yaml:"toggles"`
}

// Parse decodes a schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	for i := range s.Typography {
		def := &s.Typography[i]
		raw, err := json.Marshal(def.RawDefault)
		if err != nil {
			return nil, fmt.Errorf("typography %s default: %w", def.Key, err)
		}
		t, err := model.DecodeTypography(string(raw))
		if err != nil {
			return nil, fmt.Errorf("typography %s default: %w", def.Key, err)
		}
		def.Default = t
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schema) validate() error {
	seen := make(map[string]bool)
	for _, g := range s.ColorGroups {
		if seen[g.Key] {
			return fmt.Errorf("schema: duplicate setting %q", g.Key)
		}
		seen[g.Key] = true
		for _, f := range g.Fields {
			if !model.IsValidColor(f.Default) {
				return fmt.Errorf("schema: %s.%s default %q is not a color", g.Key, f.Key, f.Default)
			}
		}
	}
	for _, t := range s.Typography {
		if seen[t.Key] {
			return fmt.Errorf("schema: duplicate setting %q", t.Key)
		}
		seen[t.Key] = true
		if t.Selector == "" {
			return fmt.Errorf("schema: %s has no selector", t.Key)
		}
	}
	for _, t := range s.Toggles {
		if seen[t.Key] {
			return fmt.Errorf("schema: duplicate setting %q", t.Key)
		}
		seen[t.Key] = true
	}
	return nil
}

var loadDefault = sync.OnceValues(func() (*Schema, error) {
	return Parse(schemaYAML)
})

// Default returns the embedded schema. It panics if the embedded document
// is invalid, which is a build defect.
func Default() *Schema {
	s, err := loadDefault()
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) ColorGroup(key string) (ColorGroupDef, bool) {
	for _, g := range s.ColorGroups {
		if g.Key == key {
			return g, true
		}
	}
	return ColorGroupDef{}, false
}

func (s *Schema) TypographyRole(key string) (TypographyDef, bool) {
	for _, t := range s.Typography {
		if t.Key == key {
			return t, true
		}
	}
	return TypographyDef{}, false
}

func (s *Schema) Toggle(key string) (ToggleDef, bool) {
	for _, t := range s.Toggles {
		if t.Key == key {
			return t, true
		}
	}
	return ToggleDef{}, false
}

// Palette returns the global color palette definition.
func (s *Schema) Palette() ColorGroupDef {
	for _, g := range s.ColorGroups {
		if g.Palette {
			return g
		}
	}
	return ColorGroupDef{}
}

// DependentColorKeys lists every ColorGroup setting except the palette.
func (s *Schema) DependentColorKeys() []string {
	keys := make([]string, 0, len(s.ColorGroups))
	for _, g := range s.ColorGroups {
		if !g.Palette {
			keys = append(keys, g.Key)
		}
	}
	return keys
}

// DefaultValue returns the stored representation of a setting's default.
func (s *Schema) DefaultValue(key string) (string, bool) {
	if g, ok := s.ColorGroup(key); ok {
		return g.Defaults().Encode(), true
	}
	if t, ok := s.TypographyRole(key); ok {
		return t.Default.Encode(), true
	}
	if t, ok := s.Toggle(key); ok {
		return FormatBool(t.Default), true
	}
	return "", false
}

// Keys lists every setting key in declaration order.
func (s *Schema) Keys() []string {
	keys := make([]string, 0, len(s.ColorGroups)+len(s.Typography)+len(s.Toggles))
	for _, g := range s.ColorGroups {
		keys = append(keys, g.Key)
	}
	for _, t := range s.Typography {
		keys = append(keys, t.Key)
	}
	for _, t := range s.Toggles {
		keys = append(keys, t.Key)
	}
	return keys
}

// ParseBool reads a stored toggle; unparsable values fall back to def.
func ParseBool(raw string, def bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		return v
	}
	switch strings.ToLower(raw) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	return def
}

func FormatBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
