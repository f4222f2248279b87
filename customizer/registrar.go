// Package customizer declares the theme's customizer settings and runs
// live-preview sessions: pending values, per-setting preview CSS and the
// global color cascade.
package customizer

import (
	"errors"
	"fmt"
	"strings"

	"digifusion/model"
	"digifusion/schema"
)

var ErrUnknownSetting = errors.New("customizer: unknown setting")

const (
	PanelColors     = "digifusion_colors"
	PanelTypography = "digifusion_typography"
	PanelGeneral    = "digifusion_general"

	TransportPostMessage = "postMessage"
	TransportRefresh     = "refresh"

	ControlColorGroup = "digifusion-color-group"
	ControlTypography = "digifusion-typography"
	ControlCheckbox   = "checkbox"
)

type Panel struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Priority int    `json:"priority"`
}

type Section struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Panel string `json:"panel"`
}

type Setting struct {
	ID        string `json:"id"`
	Default   string `json:"default"`
	Transport string `json:"transport"`
}

type ControlField struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Default string `json:"default"`
}

type Control struct {
	ID      string         `json:"id"`
	Setting string         `json:"setting"`
	Type    string         `json:"type"`
	Label   string         `json:"label"`
	Section string         `json:"section"`
	Fields  []ControlField `json:"fields,omitempty"`
}

// Manifest is the read-only configuration handed to customizer clients.
type Manifest struct {
	Panels       []Panel           `json:"panels"`
	Sections     []Section         `json:"sections"`
	Settings     []Setting         `json:"settings"`
	Controls     []Control         `json:"controls"`
	ColorGroups  []string          `json:"color_groups"`
	GlobalColors map[string]string `json:"global_colors"`
}

// Registrar declares panels, sections, settings and controls from the
// schema and sanitises posted values.
type Registrar struct {
	schema   *schema.Schema
	manifest Manifest
}

func NewRegistrar(s *schema.Schema) *Registrar {
	r := &Registrar{schema: s}
	r.manifest = r.build()
	return r
}

func (r *Registrar) build() Manifest {
	m := Manifest{
		Panels: []Panel{
			{ID: PanelColors, Title: "Colors", Priority: 30},
			{ID: PanelTypography, Title: "Typography", Priority: 40},
			{ID: PanelGeneral, Title: "General", Priority: 50},
		},
		ColorGroups:  r.schema.DependentColorKeys(),
		GlobalColors: r.schema.Palette().Defaults(),
	}
	seen := make(map[string]bool)
	addSection := func(id, title, panel string) {
		if seen[id] {
			return
		}
		seen[id] = true
		m.Sections = append(m.Sections, Section{ID: id, Title: title, Panel: panel})
	}

	for _, g := range r.schema.ColorGroups {
		addSection(g.Section, sectionTitle(g.Section), PanelColors)
		m.Settings = append(m.Settings, Setting{ID: g.Key, Default: g.Defaults().Encode(), Transport: TransportPostMessage})
		c := Control{ID: g.Key, Setting: g.Key, Type: ControlColorGroup, Label: g.Label, Section: g.Section}
		for _, f := range g.Fields {
			c.Fields = append(c.Fields, ControlField{Key: f.Key, Label: f.Label, Default: f.Default})
		}
		m.Controls = append(m.Controls, c)
	}
	for _, t := range r.schema.Typography {
		section := "digifusion_" + t.Role + "_typography_section"
		addSection(section, t.Label+" Typography", PanelTypography)
		m.Settings = append(m.Settings, Setting{ID: t.Key, Default: t.Default.Encode(), Transport: TransportPostMessage})
		m.Controls = append(m.Controls, Control{ID: t.Key, Setting: t.Key, Type: ControlTypography, Label: t.Label, Section: section})
	}
	for _, t := range r.schema.Toggles {
		panel := PanelGeneral
		if t.Key == schema.LocalFontsKey {
			panel = PanelTypography
		}
		addSection(t.Section, sectionTitle(t.Section), panel)
		m.Settings = append(m.Settings, Setting{ID: t.Key, Default: schema.FormatBool(t.Default), Transport: TransportRefresh})
		m.Controls = append(m.Controls, Control{ID: t.Key, Setting: t.Key, Type: ControlCheckbox, Label: t.Label, Section: t.Section})
	}
	return m
}

func sectionTitle(id string) string {
	id = strings.TrimPrefix(id, "digifusion_")
	id = strings.TrimSuffix(id, "_section")
	words := strings.Split(id, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Manifest returns the declared customizer configuration.
func (r *Registrar) Manifest() Manifest {
	return r.manifest
}

// Schema returns the schema the registrar was built from.
func (r *Registrar) Schema() *schema.Schema {
	return r.schema
}

// CascadeRegistry returns the color group keys that follow the palette.
func (r *Registrar) CascadeRegistry() Registry {
	return Registry{ColorGroups: append([]string(nil), r.manifest.ColorGroups...)}
}

// Sanitize validates a posted value and returns its canonical stored form.
// Color groups keep only known keys holding valid colors.
func (r *Registrar) Sanitize(key, raw string) (string, error) {
	if g, ok := r.schema.ColorGroup(key); ok {
		group, err := model.DecodeColorGroup(raw)
		if err != nil {
			return "", err
		}
		clean := make(model.ColorGroup, len(group))
		for _, f := range g.Fields {
			v := strings.TrimSpace(group[f.Key])
			if v != "" && model.IsValidColor(v) {
				clean[f.Key] = v
			}
		}
		return clean.Encode(), nil
	}
	if _, ok := r.schema.TypographyRole(key); ok {
		t, err := model.DecodeTypography(raw)
		if err != nil {
			return "", err
		}
		return t.Encode(), nil
	}
	if t, ok := r.schema.Toggle(key); ok {
		return schema.FormatBool(schema.ParseBool(raw, t.Default)), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownSetting, key)
}
