// Package theme turns stored theme settings into the dynamic stylesheet.
package theme

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"digifusion/logging"
	"digifusion/model"
	"digifusion/schema"
)

// SettingsReader reads stored theme settings.
type SettingsReader interface {
	ThemeMod(ctx context.Context, key string) (string, bool, error)
}

// Contributor adds rules to a generation pass. Contributors run in
// registration order after the engine's own rules, so a contributor that
// writes an existing (selector, property, bucket) triple overrides it.
type Contributor interface {
	Name() string
	Contribute(ctx context.Context, rules *RuleSet) error
}

// Engine generates the dynamic stylesheet. It keeps no state between
// calls and is safe for concurrent use once constructed.
type Engine struct {
	schema       *schema.Schema
	settings     SettingsReader
	contributors []Contributor
	logger       *zap.Logger
}

// NewEngine builds an engine reading settings through settings.
func NewEngine(s *schema.Schema, settings SettingsReader, logger *zap.Logger, contributors ...Contributor) *Engine {
	return &Engine{
		schema:       s,
		settings:     settings,
		contributors: append([]Contributor(nil), contributors...),
		logger:       logging.OrNop(logger).Named("dynamic-css"),
	}
}

type snapshot struct {
	colors     map[string]model.ColorGroup
	typography map[string]model.Typography
}

func (e *Engine) load(ctx context.Context) (snapshot, error) {
	snap := snapshot{
		colors:     make(map[string]model.ColorGroup, len(e.schema.ColorGroups)),
		typography: make(map[string]model.Typography, len(e.schema.Typography)),
	}
	for _, def := range e.schema.ColorGroups {
		if def.Contributor != "" {
			continue
		}
		raw, ok, err := e.settings.ThemeMod(ctx, def.Key)
		if err != nil {
			return snapshot{}, err
		}
		if !ok {
			continue
		}
		group, err := model.DecodeColorGroup(raw)
		if err != nil {
			e.logger.Warn("ignoring malformed color setting", zap.String("key", def.Key), zap.Error(err))
		}
		snap.colors[def.Key] = group
	}
	for _, def := range e.schema.Typography {
		raw, ok, err := e.settings.ThemeMod(ctx, def.Key)
		if err != nil {
			return snapshot{}, err
		}
		if !ok {
			continue
		}
		t, err := model.DecodeTypography(raw)
		if err != nil {
			e.logger.Warn("ignoring malformed typography setting", zap.String("key", def.Key), zap.Error(err))
		}
		snap.typography[def.Key] = t
	}
	return snap, nil
}

func (e *Engine) customized(snap snapshot) bool {
	found := false
	stop := func(string, string, string, model.Breakpoint) bool {
		found = true
		return false
	}
	for _, def := range e.schema.ColorGroups {
		if group, ok := snap.colors[def.Key]; ok {
			if VisitColorGroup(def, group, true, stop); found {
				return true
			}
		}
	}
	for _, def := range e.schema.Typography {
		if t, ok := snap.typography[def.Key]; ok {
			if VisitTypography(def, t, true, stop); found {
				return true
			}
		}
	}
	return false
}

// HasCustomizations reports whether any engine-owned setting differs from
// its default.
func (e *Engine) HasCustomizations(ctx context.Context) (bool, error) {
	snap, err := e.load(ctx)
	if err != nil {
		return false, fmt.Errorf("load settings: %w", err)
	}
	return e.customized(snap), nil
}

// Build runs one generation pass and returns its rules.
func (e *Engine) Build(ctx context.Context) (*RuleSet, error) {
	snap, err := e.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	rules := NewRuleSet()
	if e.customized(snap) {
		for _, def := range e.schema.ColorGroups {
			if group, ok := snap.colors[def.Key]; ok {
				AddColorGroupRules(rules, def, group, true)
			}
		}
		for _, def := range e.schema.Typography {
			if t, ok := snap.typography[def.Key]; ok {
				AddTypographyRules(rules, def, t, true)
			}
		}
	}

	for _, c := range e.contributors {
		if err := c.Contribute(ctx, rules); err != nil {
			e.logger.Warn("css contributor failed", zap.String("contributor", c.Name()), zap.Error(err))
		}
	}
	return rules, nil
}

// Generate returns the minified stylesheet, or "" when nothing differs
// from the defaults.
func (e *Engine) Generate(ctx context.Context) (string, error) {
	rules, err := e.Build(ctx)
	if err != nil {
		return "", err
	}
	if rules.Len() == 0 {
		return "", nil
	}
	return Minify(rules.CSS()), nil
}

// DeclarationFunc receives one declaration; returning false stops the walk.
type DeclarationFunc func(selector, property, value string, bp model.Breakpoint) bool

// VisitColorGroup walks the declarations a color group produces. With
// diff set, fields equal to their default are skipped. Unknown keys and
// invalid colors never produce a declaration.
func VisitColorGroup(def schema.ColorGroupDef, group model.ColorGroup, diff bool, visit DeclarationFunc) {
	for _, field := range def.Fields {
		value := strings.TrimSpace(group[field.Key])
		if value == "" || !model.IsValidColor(value) {
			continue
		}
		if diff && strings.EqualFold(value, field.Default) {
			continue
		}
		for _, r := range field.Rules {
			if !visit(r.Selector, r.Property, value, model.BreakpointBase) {
				return
			}
		}
	}
}

// AddColorGroupRules adds a color group's declarations to rules.
func AddColorGroupRules(rules *RuleSet, def schema.ColorGroupDef, group model.ColorGroup, diff bool) {
	VisitColorGroup(def, group, diff, func(sel, prop, value string, bp model.Breakpoint) bool {
		rules.Add(sel, prop, value, bp)
		return true
	})
}

// VisitTypography walks the declarations a typography setting produces.
// Non-responsive properties go to the base bucket; font size, line height
// and letter spacing go to their breakpoint's bucket.
func VisitTypography(def schema.TypographyDef, t model.Typography, diff bool, visit DeclarationFunc) {
	d := def.Default
	base := []struct {
		property string
		cur, def string
	}{
		{"font-family", t.FontFamily, d.FontFamily},
		{"font-weight", t.FontWeight.String(), d.FontWeight.String()},
		{"font-style", t.FontStyle, d.FontStyle},
		{"text-transform", t.TextTransform, d.TextTransform},
		{"text-decoration", t.TextDecoration, d.TextDecoration},
	}
	for _, p := range base {
		cur := strings.TrimSpace(p.cur)
		if cur == "" || (diff && strings.EqualFold(cur, strings.TrimSpace(p.def))) {
			continue
		}
		value := cur
		if p.property == "font-family" {
			value = FormatFontFamily(cur)
		}
		if !visit(def.Selector, p.property, value, model.BreakpointBase) {
			return
		}
	}

	responsive := []struct {
		property         string
		cur, def         model.Responsive
		curUnit, defUnit string
	}{
		{"font-size", t.FontSize, d.FontSize, t.FontSizeUnit, d.FontSizeUnit},
		{"line-height", t.LineHeight, d.LineHeight, t.LineHeightUnit, d.LineHeightUnit},
		{"letter-spacing", t.LetterSpacing, d.LetterSpacing, t.LetterSpacingUnit, d.LetterSpacingUnit},
	}
	for _, p := range responsive {
		unit := p.curUnit
		if unit == "" {
			unit = p.defUnit
		}
		unitChanged := unit != p.defUnit
		for _, bp := range model.ResponsiveBreakpoints {
			// A stored 0 is a value, not "unset": only the empty string is.
			cur := p.cur.At(bp)
			if cur.IsEmpty() {
				continue
			}
			if diff && !unitChanged && cur.Equal(p.def.At(bp)) {
				continue
			}
			if !visit(def.Selector, p.property, withUnit(cur, unit), bp) {
				return
			}
		}
	}
}

// AddTypographyRules adds a typography setting's declarations to rules.
func AddTypographyRules(rules *RuleSet, def schema.TypographyDef, t model.Typography, diff bool) {
	VisitTypography(def, t, diff, func(sel, prop, value string, bp model.Breakpoint) bool {
		rules.Add(sel, prop, value, bp)
		return true
	})
}

func withUnit(v model.Value, unit string) string {
	s := strings.TrimSpace(v.String())
	if unit == "" || unit == "-" {
		return s
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		// Already carries a unit or keyword such as "normal".
		return s
	}
	return s + unit
}

// FormatFontFamily quotes a single family name and appends a generic
// fallback. Values that already list a stack are used as is.
func FormatFontFamily(family string) string {
	family = strings.TrimSpace(family)
	if strings.Contains(family, ",") {
		return family
	}
	family = strings.Trim(family, `"'`)
	switch strings.ToLower(family) {
	case "inherit", "initial", "unset", "system-ui", "serif", "sans-serif", "monospace":
		return family
	}
	if strings.ContainsAny(family, " ") {
		family = `"` + family + `"`
	}
	return family + ",sans-serif"
}

type postIDKey struct{}

// WithPostID scopes a generation pass to one post, enabling per-post
// contributors.
func WithPostID(ctx context.Context, postID int64) context.Context {
	return context.WithValue(ctx, postIDKey{}, postID)
}

// PostIDFromContext returns the post a generation pass renders for.
func PostIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(postIDKey{}).(int64)
	return id, ok && id > 0
}
