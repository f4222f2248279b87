package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type Breakpoint string

const (
	BreakpointBase    Breakpoint = "base"
	BreakpointDesktop Breakpoint = "desktop"
	BreakpointTablet  Breakpoint = "tablet"
	BreakpointMobile  Breakpoint = "mobile"
)

// Breakpoints lists the rule buckets in assembly order.
var Breakpoints = []Breakpoint{BreakpointBase, BreakpointDesktop, BreakpointTablet, BreakpointMobile}

// ResponsiveBreakpoints lists the buckets a responsive typography value is keyed by.
var ResponsiveBreakpoints = []Breakpoint{BreakpointDesktop, BreakpointTablet, BreakpointMobile}

// Valid reports whether b is one of the known buckets.
func (b Breakpoint) Valid() bool {
	switch b {
	case BreakpointBase, BreakpointDesktop, BreakpointTablet, BreakpointMobile:
		return true
	}
	return false
}

// ColorGroup maps color keys of one logical area to CSS color strings.
type ColorGroup map[string]string

var (
	hexColorRe  = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	rgbaColorRe = regexp.MustCompile(`^rgba?\(\s*\d{1,3}\s*,\s*\d{1,3}\s*,\s*\d{1,3}\s*(,\s*(0|1|0?\.\d+|1\.0+)\s*)?\)$`)
)

// IsValidColor accepts #rgb, #rrggbb, rgb() and rgba() values.
func IsValidColor(v string) bool {
	v = strings.TrimSpace(v)
	return hexColorRe.MatchString(v) || rgbaColorRe.MatchString(v)
}

// DecodeColorGroup decodes a stored JSON blob. An empty string yields an
// empty group. On malformed input the returned group is empty and non-nil.
func DecodeColorGroup(raw string) (ColorGroup, error) {
	group := ColorGroup{}
	if strings.TrimSpace(raw) == "" {
		return group, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return ColorGroup{}, fmt.Errorf("decode color group: %w", err)
	}
	for k, v := range decoded {
		if s, ok := v.(string); ok {
			group[k] = s
		}
	}
	return group, nil
}

// Encode serialises the group with sorted keys.
func (g ColorGroup) Encode() string {
	if g == nil {
		return "{}"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(map[string]string(g))
	return strings.TrimSpace(buf.String())
}

// Clone returns a shallow copy.
func (g ColorGroup) Clone() ColorGroup {
	out := make(ColorGroup, len(g))
	for k, v := range g {
		out[k] = v
	}
	return out
}

// Value is a typography field that may be stored as a JSON number or string.
// The empty value means "unset".
type Value string

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*v = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Value(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("typography value: %w", err)
	}
	*v = Value(n.String())
	return nil
}

func (v Value) IsEmpty() bool { return strings.TrimSpace(string(v)) == "" }

func (v Value) String() string { return string(v) }

// Equal compares numerically when both sides are numbers, so "0", "0.0"
// and 0 are the same value.
func (v Value) Equal(o Value) bool {
	if v == o {
		return true
	}
	a, errA := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
	b, errB := strconv.ParseFloat(strings.TrimSpace(string(o)), 64)
	if errA == nil && errB == nil {
		return a == b
	}
	return false
}

// Responsive holds one value per responsive breakpoint.
type Responsive struct {
	Desktop Value `json:"desktop"`
	Tablet  Value `json:"tablet"`
	Mobile  Value `json:"mobile"`
}

// At returns the value for bp; base resolves to desktop.
func (r Responsive) At(bp Breakpoint) Value {
	switch bp {
	case BreakpointTablet:
		return r.Tablet
	case BreakpointMobile:
		return r.Mobile
	default:
		return r.Desktop
	}
}

// Typography is the stored shape of one typography role.
type Typography struct {
	FontFamily        string     `json:"fontFamily"`
	FontWeight        Value      `json:"fontWeight"`
	FontStyle         string     `json:"fontStyle"`
	TextTransform     string     `json:"textTransform"`
	TextDecoration    string     `json:"textDecoration"`
	FontSizeUnit      string     `json:"fontSizeUnit"`
	LineHeightUnit    string     `json:"lineHeightUnit"`
	LetterSpacingUnit string     `json:"letterSpacingUnit"`
	FontSize          Responsive `json:"fontSize"`
	LineHeight        Responsive `json:"lineHeight"`
	LetterSpacing     Responsive `json:"letterSpacing"`
}

// DecodeTypography decodes a stored JSON blob; malformed input yields the
// zero value together with the error.
func DecodeTypography(raw string) (Typography, error) {
	if strings.TrimSpace(raw) == "" {
		return Typography{}, nil
	}
	var t Typography
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Typography{}, fmt.Errorf("decode typography: %w", err)
	}
	return t, nil
}

// Encode serialises the setting.
func (t Typography) Encode() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(t)
	return strings.TrimSpace(buf.String())
}

// PostOverride is the per-post meta bag.
type PostOverride struct {
	PostID            int64      `json:"post_id"`
	DisableHeader     bool       `json:"disable_header"`
	DisablePageHeader bool       `json:"disable_page_header"`
	DisableFooter     bool       `json:"disable_footer"`
	HeaderType        string     `json:"header_type,omitempty"`
	CustomLogo        string     `json:"custom_logo,omitempty"`
	MenuColors        ColorGroup `json:"menu_colors,omitempty"`
	CustomPageTitle   string     `json:"custom_page_title,omitempty"`
	PageDescription   string     `json:"page_description,omitempty"`
}

// Post is a content item known to the settings store.
type Post struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Slug     string `json:"slug"`
	ParentID int64  `json:"parent_id,omitempty"`
	TermID   int64  `json:"term_id,omitempty"`
}

// Term is a taxonomy term (category, tag, product category).
type Term struct {
	ID       int64  `json:"id"`
	Taxonomy string `json:"taxonomy"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ParentID int64  `json:"parent_id,omitempty"`
}

type PluginStatus string

const (
	PluginNotInstalled PluginStatus = "not_installed"
	PluginInstalled    PluginStatus = "installed"
	PluginActive       PluginStatus = "active"
)
