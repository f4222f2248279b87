// Package breadcrumbs builds the breadcrumb trail for a request, delegating
// to an SEO or shop plugin's renderer when one is active.
package breadcrumbs

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"digifusion/logging"
	"digifusion/model"
	"digifusion/schemamarkup"
	"digifusion/storage"
)

// Plugin slugs with their own breadcrumb implementation, in the order
// they are preferred.
const (
	PluginRankMath    = "seo-by-rank-math"
	PluginYoast       = "wordpress-seo"
	PluginWooCommerce = "woocommerce"
)

// maxDepth bounds parent chains so a cycle in stored data cannot loop.
const maxDepth = 32

type Kind string

const (
	KindHome     Kind = "home"
	KindPost     Kind = "post"
	KindPage     Kind = "page"
	KindCategory Kind = "category"
	KindTag      Kind = "tag"
	KindSearch   Kind = "search"
	KindNotFound Kind = "404"
	KindArchive  Kind = "archive"
)

// Request describes the page being rendered.
type Request struct {
	Kind   Kind
	PostID int64
	TermID int64
	Query  string
	// Title labels archive pages, e.g. "March 2024".
	Title string
	// Shop marks WooCommerce pages; only those delegate to WooCommerce.
	Shop bool
}

// Crumb is one trail entry. The last crumb has no URL.
type Crumb struct {
	Label string `json:"label"`
	URL   string `json:"url,omitempty"`
}

// Store is the content the trail is built from.
type Store interface {
	Post(ctx context.Context, id int64) (model.Post, error)
	Term(ctx context.Context, id int64) (model.Term, error)
	ActivePlugins(ctx context.Context) ([]string, error)
}

// Renderer renders breadcrumbs on behalf of a plugin.
type Renderer func(ctx context.Context, req Request) (string, error)

type Option func(*Builder)

// WithRenderer registers the renderer used while plugin is active.
func WithRenderer(plugin string, r Renderer) Option {
	return func(b *Builder) { b.renderers[plugin] = r }
}

// WithHome overrides the home crumb.
func WithHome(label, url string) Option {
	return func(b *Builder) { b.home = Crumb{Label: label, URL: url} }
}

func WithLogger(logger *zap.Logger) Option {
	return func(b *Builder) { b.logger = logging.OrNop(logger).Named("breadcrumbs") }
}

// Builder builds and renders breadcrumb trails.
type Builder struct {
	store     Store
	markup    *schemamarkup.Helper
	renderers map[string]Renderer
	home      Crumb
	policy    *bluemonday.Policy
	logger    *zap.Logger
}

func New(store Store, markup *schemamarkup.Helper, opts ...Option) *Builder {
	b := &Builder{
		store:     store,
		markup:    markup,
		renderers: make(map[string]Renderer),
		home:      Crumb{Label: "Home", URL: "/"},
		policy:    bluemonday.StrictPolicy(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Delegate returns the renderer of the first active plugin that handles
// req, or nil.
func (b *Builder) Delegate(ctx context.Context, req Request) (Renderer, string, error) {
	active, err := b.store.ActivePlugins(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("list active plugins: %w", err)
	}
	isActive := make(map[string]bool, len(active))
	for _, slug := range active {
		isActive[slug] = true
	}
	for _, slug := range []string{PluginRankMath, PluginYoast, PluginWooCommerce} {
		if slug == PluginWooCommerce && !req.Shop {
			continue
		}
		if r, ok := b.renderers[slug]; ok && isActive[slug] {
			return r, slug, nil
		}
	}
	return nil, "", nil
}

// Trail builds the crumbs for req.
func (b *Builder) Trail(ctx context.Context, req Request) ([]Crumb, error) {
	if req.Kind == KindHome {
		return []Crumb{{Label: b.home.Label}}, nil
	}
	trail := []Crumb{b.home}

	switch req.Kind {
	case KindPost:
		post, err := b.store.Post(ctx, req.PostID)
		if err != nil {
			return nil, fmt.Errorf("load post %d: %w", req.PostID, err)
		}
		if post.TermID != 0 {
			terms, err := b.termChain(ctx, post.TermID)
			if err != nil {
				return nil, err
			}
			trail = append(trail, terms...)
		}
		trail = append(trail, Crumb{Label: post.Title})
	case KindPage:
		page, err := b.store.Post(ctx, req.PostID)
		if err != nil {
			return nil, fmt.Errorf("load page %d: %w", req.PostID, err)
		}
		ancestors, err := b.ancestors(ctx, page)
		if err != nil {
			return nil, err
		}
		trail = append(trail, ancestors...)
		trail = append(trail, Crumb{Label: page.Title})
	case KindCategory, KindTag:
		terms, err := b.termChain(ctx, req.TermID)
		if err != nil {
			return nil, err
		}
		if len(terms) > 0 {
			terms[len(terms)-1].URL = ""
		}
		trail = append(trail, terms...)
	case KindSearch:
		trail = append(trail, Crumb{Label: `Search results for "` + req.Query + `"`})
	case KindNotFound:
		trail = append(trail, Crumb{Label: "404 Not Found"})
	case KindArchive:
		label := req.Title
		if label == "" {
			label = "Archives"
		}
		trail = append(trail, Crumb{Label: label})
	default:
		return nil, fmt.Errorf("breadcrumbs: unknown page kind %q", req.Kind)
	}
	return trail, nil
}

// termChain resolves a term and its parents, root first.
func (b *Builder) termChain(ctx context.Context, id int64) ([]Crumb, error) {
	var chain []Crumb
	seen := make(map[int64]bool)
	for id != 0 && !seen[id] && len(chain) < maxDepth {
		seen[id] = true
		term, err := b.store.Term(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			b.logger.Warn("missing term in breadcrumb chain", zap.Int64("term", id))
			break
		}
		if err != nil {
			return nil, fmt.Errorf("load term %d: %w", id, err)
		}
		chain = append([]Crumb{{Label: term.Name, URL: termURL(term)}}, chain...)
		id = term.ParentID
	}
	return chain, nil
}

// ancestors resolves the parents of a page, root first.
func (b *Builder) ancestors(ctx context.Context, page model.Post) ([]Crumb, error) {
	var (
		chain []model.Post
		seen  = map[int64]bool{page.ID: true}
	)
	for id := page.ParentID; id != 0 && !seen[id] && len(chain) < maxDepth; {
		seen[id] = true
		parent, err := b.store.Post(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("load page %d: %w", id, err)
		}
		chain = append([]model.Post{parent}, chain...)
		id = parent.ParentID
	}

	crumbs := make([]Crumb, 0, len(chain))
	path := "/"
	for _, p := range chain {
		path += p.Slug + "/"
		crumbs = append(crumbs, Crumb{Label: p.Title, URL: path})
	}
	return crumbs, nil
}

func termURL(t model.Term) string {
	base := t.Taxonomy
	switch t.Taxonomy {
	case "post_tag":
		base = "tag"
	case "product_cat":
		base = "product-category"
	}
	return "/" + base + "/" + t.Slug + "/"
}

// Render returns the breadcrumb HTML, delegating to an active plugin's
// renderer when one handles req.
func (b *Builder) Render(ctx context.Context, req Request) (string, error) {
	delegate, plugin, err := b.Delegate(ctx, req)
	if err != nil {
		return "", err
	}
	if delegate != nil {
		out, err := delegate(ctx, req)
		if err != nil {
			return "", fmt.Errorf("%s breadcrumbs: %w", plugin, err)
		}
		return out, nil
	}

	trail, err := b.Trail(ctx, req)
	if err != nil {
		return "", err
	}
	return b.RenderTrail(ctx, trail), nil
}

// RenderTrail renders crumbs as an ordered list. Labels are stripped of
// markup.
func (b *Builder) RenderTrail(ctx context.Context, trail []Crumb) string {
	attrs, markup := b.markup.Attributes(ctx, schemamarkup.Breadcrumb)

	var sb strings.Builder
	sb.WriteString(`<nav class="digi-breadcrumbs" aria-label="Breadcrumb"><ol class="digi-breadcrumbs-list"`)
	if markup {
		sb.WriteString(attrs.String())
	}
	sb.WriteString(">")
	for i, c := range trail {
		label := b.policy.Sanitize(c.Label)
		last := i == len(trail)-1

		sb.WriteString(`<li class="digi-breadcrumb-item`)
		if last {
			sb.WriteString(` digi-breadcrumb-current`)
		}
		sb.WriteString(`"`)
		if markup {
			sb.WriteString(` itemprop="itemListElement" itemscope itemtype="https://schema.org/ListItem"`)
		}
		sb.WriteString(">")

		nameProp := ""
		if markup {
			nameProp = ` itemprop="name"`
		}
		if c.URL != "" && !last {
			sb.WriteString(`<a href="` + html.EscapeString(c.URL) + `"`)
			if markup {
				sb.WriteString(` itemprop="item"`)
			}
			sb.WriteString(`><span` + nameProp + `>` + label + `</span></a>`)
		} else {
			sb.WriteString(`<span` + nameProp + ` aria-current="page">` + label + `</span>`)
		}
		if markup {
			sb.WriteString(`<meta itemprop="position" content="` + strconv.Itoa(i+1) + `">`)
		}
		sb.WriteString("</li>")
	}
	sb.WriteString("</ol></nav>")
	return sb.String()
}
