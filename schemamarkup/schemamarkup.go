// Package schemamarkup renders schema.org microdata attributes for theme
// templates.
package schemamarkup

import (
	"context"
	"html"
	"strings"

	"digifusion/schema"
)

type Type string

const (
	Header       Type = "header"
	Footer       Type = "footer"
	Navigation   Type = "navigation"
	Sidebar      Type = "sidebar"
	Breadcrumb   Type = "breadcrumb"
	Article      Type = "article"
	Author       Type = "author"
	Published    Type = "published"
	Modified     Type = "modified"
	Headline     Type = "headline"
	Content      Type = "content"
	Blog         Type = "blog"
	Image        Type = "image"
	WebPage      Type = "webpage"
	Logo         Type = "logo"
	CreativeWork Type = "creativework"
)

const schemaOrg = "https://schema.org/"

// Attributes are the microdata attributes of one element.
type Attributes struct {
	ItemType  string
	ItemProp  string
	ItemScope bool
}

// String renders the attributes with a leading space, ready to be placed
// inside a tag.
func (a Attributes) String() string {
	var sb strings.Builder
	if a.ItemType != "" {
		sb.WriteString(` itemtype="` + html.EscapeString(a.ItemType) + `"`)
	}
	if a.ItemScope {
		sb.WriteString(" itemscope")
	}
	if a.ItemProp != "" {
		sb.WriteString(` itemprop="` + html.EscapeString(a.ItemProp) + `"`)
	}
	return sb.String()
}

var table = map[Type]Attributes{
	Header:       {ItemType: schemaOrg + "WPHeader", ItemScope: true},
	Footer:       {ItemType: schemaOrg + "WPFooter", ItemScope: true},
	Navigation:   {ItemType: schemaOrg + "SiteNavigationElement", ItemScope: true},
	Sidebar:      {ItemType: schemaOrg + "WPSideBar", ItemScope: true},
	Breadcrumb:   {ItemType: schemaOrg + "BreadcrumbList", ItemScope: true},
	Article:      {ItemType: schemaOrg + "Article", ItemScope: true},
	Author:       {ItemType: schemaOrg + "Person", ItemProp: "author", ItemScope: true},
	Published:    {ItemProp: "datePublished"},
	Modified:     {ItemProp: "dateModified"},
	Headline:     {ItemProp: "headline"},
	Content:      {ItemProp: "text"},
	Blog:         {ItemType: schemaOrg + "Blog", ItemScope: true},
	Image:        {ItemProp: "image"},
	WebPage:      {ItemType: schemaOrg + "WebPage", ItemScope: true},
	Logo:         {ItemProp: "logo"},
	CreativeWork: {ItemType: schemaOrg + "CreativeWork", ItemScope: true},
}

// Lookup returns the default attributes for t.
func Lookup(t Type) (Attributes, bool) {
	a, ok := table[t]
	return a, ok
}

// SettingsReader reads stored theme settings.
type SettingsReader interface {
	ThemeMod(ctx context.Context, key string) (string, bool, error)
}

// Filter adjusts the attributes of one type. Returning false drops the
// markup for that element.
type Filter func(ctx context.Context, a Attributes) (Attributes, bool)

type Option func(*Helper)

// WithFilter registers f for t. Filters run in registration order.
func WithFilter(t Type, f Filter) Option {
	return func(h *Helper) {
		h.filters[t] = append(h.filters[t], f)
	}
}

// Helper renders markup gated by the digifusion_schema_markup setting.
type Helper struct {
	schema   *schema.Schema
	settings SettingsReader
	filters  map[Type][]Filter
}

func New(s *schema.Schema, settings SettingsReader, opts ...Option) *Helper {
	h := &Helper{schema: s, settings: settings, filters: make(map[Type][]Filter)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Enabled reports whether schema markup is switched on. A nil helper is
// disabled.
func (h *Helper) Enabled(ctx context.Context) bool {
	if h == nil {
		return false
	}
	def, _ := h.schema.Toggle(schema.SchemaMarkupKey)
	if h.settings == nil {
		return def.Default
	}
	raw, _, err := h.settings.ThemeMod(ctx, schema.SchemaMarkupKey)
	if err != nil {
		return def.Default
	}
	return schema.ParseBool(raw, def.Default)
}

// Attributes returns the filtered attributes for t, or false when markup
// is disabled, t is unknown or a filter dropped it.
func (h *Helper) Attributes(ctx context.Context, t Type) (Attributes, bool) {
	if !h.Enabled(ctx) {
		return Attributes{}, false
	}
	a, ok := table[t]
	if !ok {
		return Attributes{}, false
	}
	for _, f := range h.filters[t] {
		if a, ok = f(ctx, a); !ok {
			return Attributes{}, false
		}
	}
	return a, true
}

// Attr renders the attributes for t, or "" when there are none.
func (h *Helper) Attr(ctx context.Context, t Type) string {
	a, ok := h.Attributes(ctx, t)
	if !ok {
		return ""
	}
	return a.String()
}
