package customizer

import (
	"strings"

	"digifusion/model"
	"digifusion/schema"
	"digifusion/theme"
)

// StyleUpdate is pushed to a preview client whenever a setting changes.
// The client replaces the contents of the <style> element with ID.
type StyleUpdate struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Key  string `json:"key"`
	CSS  string `json:"css"`
}

const StyleUpdateType = "style"

// StyleID is the id of the preview <style> element owned by key.
func StyleID(key string) string {
	return strings.ReplaceAll(key, "_", "-") + "-preview"
}

// PreviewCSS renders the complete block for one setting. Every present,
// valid field is emitted without comparing against defaults, so the block
// can replace the previous one wholesale. Settings that produce no CSS
// return "".
func PreviewCSS(s *schema.Schema, key, raw string) string {
	rules := theme.NewRuleSet()
	if def, ok := s.ColorGroup(key); ok {
		group, _ := model.DecodeColorGroup(raw)
		theme.AddColorGroupRules(rules, def, group, false)
	} else if def, ok := s.TypographyRole(key); ok {
		t, _ := model.DecodeTypography(raw)
		theme.AddTypographyRules(rules, def, t, false)
	}
	if rules.Len() == 0 {
		return ""
	}
	return theme.Minify(rules.CSS())
}

// NewStyleUpdate builds the message for a changed setting.
func NewStyleUpdate(s *schema.Schema, key, raw string) StyleUpdate {
	return StyleUpdate{
		Type: StyleUpdateType,
		ID:   StyleID(key),
		Key:  key,
		CSS:  PreviewCSS(s, key, raw),
	}
}
