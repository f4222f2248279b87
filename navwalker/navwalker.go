// Package navwalker renders navigation menus as nested lists with submenu
// toggles.
package navwalker

import (
	"context"
	"html"
	"sort"
	"strconv"
	"strings"

	"digifusion/schemamarkup"
)

const (
	arrowDownSVG  = `<svg class="digi-icon digi-icon-arrow-down" width="12" height="12" viewBox="0 0 24 24" aria-hidden="true" focusable="false"><path d="M7 10l5 5 5-5z"/></svg>`
	arrowRightSVG = `<svg class="digi-icon digi-icon-arrow-right" width="12" height="12" viewBox="0 0 24 24" aria-hidden="true" focusable="false"><path d="M10 17l5-5-5-5z"/></svg>`
)

// Item is one menu entry.
type Item struct {
	ID       int64    `json:"id"`
	ParentID int64    `json:"parent_id,omitempty"`
	Order    int      `json:"order,omitempty"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Target   string   `json:"target,omitempty"`
	Classes  []string `json:"classes,omitempty"`
	Current  bool     `json:"current,omitempty"`
	Children []Item   `json:"children,omitempty"`
}

// BuildTree nests a flat item list by ParentID. Items whose parent is
// missing become top-level entries. Siblings are ordered by Order then ID.
func BuildTree(flat []Item) []Item {
	children := make(map[int64][]Item)
	ids := make(map[int64]bool, len(flat))
	for _, it := range flat {
		ids[it.ID] = true
	}
	for _, it := range flat {
		parent := it.ParentID
		if !ids[parent] || parent == it.ID {
			parent = 0
		}
		children[parent] = append(children[parent], it)
	}

	var build func(parent int64, seen map[int64]bool) []Item
	build = func(parent int64, seen map[int64]bool) []Item {
		list := children[parent]
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Order != list[j].Order {
				return list[i].Order < list[j].Order
			}
			return list[i].ID < list[j].ID
		})
		out := make([]Item, 0, len(list))
		for _, it := range list {
			if seen[it.ID] {
				continue
			}
			seen[it.ID] = true
			it.Children = build(it.ID, seen)
			out = append(out, it)
		}
		return out
	}
	return build(0, make(map[int64]bool))
}

// Menu is a named menu location.
type Menu struct {
	Location string `json:"location"`
	Items    []Item `json:"items"`
}

// Walker renders menus.
type Walker struct {
	markup *schemamarkup.Helper
}

// New returns a walker. markup may be nil.
func New(markup *schemamarkup.Helper) *Walker {
	return &Walker{markup: markup}
}

// Render renders the menu inside its <nav> element.
func (w *Walker) Render(ctx context.Context, m Menu) string {
	var sb strings.Builder
	location := html.EscapeString(m.Location)
	sb.WriteString(`<nav class="digi-header-nav" id="site-navigation-` + location + `"`)
	sb.WriteString(w.markup.Attr(ctx, schemamarkup.Navigation))
	sb.WriteString(` aria-label="` + location + `">`)
	sb.WriteString(`<ul id="menu-` + location + `" class="menu">`)
	walk(&sb, m.Items, 0)
	sb.WriteString(`</ul></nav>`)
	return sb.String()
}

// RenderItems renders the <li> elements of items without a wrapper.
func RenderItems(items []Item) string {
	var sb strings.Builder
	walk(&sb, items, 0)
	return sb.String()
}

func walk(sb *strings.Builder, items []Item, depth int) {
	for _, it := range items {
		writeItem(sb, it, depth)
	}
}

func writeItem(sb *strings.Builder, it Item, depth int) {
	hasChildren := len(it.Children) > 0
	classes := []string{"menu-item", "menu-item-" + strconv.FormatInt(it.ID, 10)}
	classes = append(classes, it.Classes...)
	if hasChildren {
		classes = append(classes, "menu-item-has-children")
	}
	if it.Current {
		classes = append(classes, "current-menu-item")
	} else if hasCurrent(it.Children) {
		classes = append(classes, "current-menu-ancestor")
	}

	sb.WriteString(`<li id="menu-item-` + strconv.FormatInt(it.ID, 10) + `" class="` + html.EscapeString(strings.Join(classes, " ")) + `">`)
	sb.WriteString(`<a href="` + html.EscapeString(safeURL(it.URL)) + `"`)
	if it.Target != "" {
		sb.WriteString(` target="` + html.EscapeString(it.Target) + `"`)
		if it.Target == "_blank" {
			sb.WriteString(` rel="noopener"`)
		}
	}
	if it.Current {
		sb.WriteString(` aria-current="page"`)
	}
	sb.WriteString(`>` + html.EscapeString(it.Title))
	if hasChildren && depth > 0 {
		sb.WriteString(`<span class="digi-submenu-arrow">` + arrowRightSVG + `</span>`)
	}
	sb.WriteString(`</a>`)

	if hasChildren {
		if depth == 0 {
			sb.WriteString(`<button class="digi-submenu-toggle" type="button" aria-expanded="false" aria-label="`)
			sb.WriteString(html.EscapeString("Toggle submenu for " + it.Title))
			sb.WriteString(`">` + arrowDownSVG + `</button>`)
		}
		sb.WriteString(`<ul class="sub-menu">`)
		walk(sb, it.Children, depth+1)
		sb.WriteString(`</ul>`)
	}
	sb.WriteString(`</li>`)
}

func hasCurrent(items []Item) bool {
	for _, it := range items {
		if it.Current || hasCurrent(it.Children) {
			return true
		}
	}
	return false
}

func safeURL(u string) string {
	u = strings.TrimSpace(u)
	scheme, _, found := strings.Cut(strings.ToLower(u), ":")
	if found && !strings.ContainsAny(scheme, "/?#") {
		switch scheme {
		case "http", "https", "mailto", "tel":
		default:
			return "#"
		}
	}
	if u == "" {
		return "#"
	}
	return u
}
