// Package pages resolves and saves per-post display overrides and turns
// them into page-level styles.
package pages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"digifusion/logging"
	"digifusion/model"
	"digifusion/schema"
	"digifusion/theme"
)

const (
	MetaDisableHeader     = "digifusion_disable_header"
	MetaDisablePageHeader = "digifusion_disable_page_header"
	MetaDisableFooter     = "digifusion_disable_footer"
	MetaHeaderType        = "digifusion_header_type"
	MetaCustomLogo        = "digifusion_custom_logo"
	MetaMenuColors        = "digifusion_menu_colors"
	MetaCustomPageTitle   = "digifusion_custom_page_title"
	MetaPageDescription   = "digifusion_page_description"
)

var metaKeys = []string{
	MetaDisableHeader, MetaDisablePageHeader, MetaDisableFooter, MetaHeaderType,
	MetaCustomLogo, MetaMenuColors, MetaCustomPageTitle, MetaPageDescription,
}

var ErrInvalidOverride = errors.New("pages: invalid override")

// HeaderTypes lists the accepted header layouts; "" inherits the site
// setting.
var HeaderTypes = []string{"", "default", "transparent", "sticky"}

// Store holds post meta.
type Store interface {
	PostMeta(ctx context.Context, postID int64) (map[string]string, error)
	ReplacePostMeta(ctx context.Context, postID int64, set map[string]string, remove []string) error
}

// Service reads and writes per-post overrides.
type Service struct {
	schema   *schema.Schema
	store    Store
	logger   *zap.Logger
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

func NewService(s *schema.Schema, store Store, logger *zap.Logger) *Service {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	return &Service{
		schema:   s,
		store:    store,
		logger:   logging.OrNop(logger).Named("pages"),
		markdown: goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough)),
		policy:   policy,
	}
}

// Resolve decodes the override bag of a post. Missing keys keep their zero
// value; a malformed menu color blob is logged and ignored.
func (s *Service) Resolve(ctx context.Context, postID int64) (model.PostOverride, error) {
	meta, err := s.store.PostMeta(ctx, postID)
	if err != nil {
		return model.PostOverride{}, fmt.Errorf("read post meta: %w", err)
	}

	o := model.PostOverride{
		PostID:            postID,
		DisableHeader:     schema.ParseBool(meta[MetaDisableHeader], false),
		DisablePageHeader: schema.ParseBool(meta[MetaDisablePageHeader], false),
		DisableFooter:     schema.ParseBool(meta[MetaDisableFooter], false),
		HeaderType:        meta[MetaHeaderType],
		CustomLogo:        meta[MetaCustomLogo],
		CustomPageTitle:   meta[MetaCustomPageTitle],
		PageDescription:   meta[MetaPageDescription],
	}
	if raw := meta[MetaMenuColors]; raw != "" {
		colors, err := model.DecodeColorGroup(raw)
		if err != nil {
			s.logger.Warn("ignoring malformed menu colors", zap.Int64("post", postID), zap.Error(err))
		}
		if len(colors) > 0 {
			o.MenuColors = colors
		}
	}
	return o, nil
}

// Save validates o and replaces the post's override bag. Empty and false
// values remove their meta key.
func (s *Service) Save(ctx context.Context, o model.PostOverride) error {
	if o.PostID <= 0 {
		return fmt.Errorf("%w: missing post id", ErrInvalidOverride)
	}
	if !validHeaderType(o.HeaderType) {
		return fmt.Errorf("%w: header type %q", ErrInvalidOverride, o.HeaderType)
	}

	set := make(map[string]string)
	put := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			set[key] = value
		}
	}
	if o.DisableHeader {
		put(MetaDisableHeader, schema.FormatBool(true))
	}
	if o.DisablePageHeader {
		put(MetaDisablePageHeader, schema.FormatBool(true))
	}
	if o.DisableFooter {
		put(MetaDisableFooter, schema.FormatBool(true))
	}
	put(MetaHeaderType, o.HeaderType)
	put(MetaCustomLogo, o.CustomLogo)
	put(MetaCustomPageTitle, o.CustomPageTitle)
	put(MetaPageDescription, o.PageDescription)

	if def, ok := s.schema.ColorGroup(schema.MenuColorsKey); ok && len(o.MenuColors) > 0 {
		clean := model.ColorGroup{}
		for _, f := range def.Fields {
			v := strings.TrimSpace(o.MenuColors[f.Key])
			if v == "" {
				continue
			}
			if !model.IsValidColor(v) {
				return fmt.Errorf("%w: menu color %s=%q", ErrInvalidOverride, f.Key, v)
			}
			clean[f.Key] = v
		}
		if len(clean) > 0 {
			set[MetaMenuColors] = clean.Encode()
		}
	}

	var remove []string
	for _, k := range metaKeys {
		if _, ok := set[k]; !ok {
			remove = append(remove, k)
		}
	}
	if err := s.store.ReplacePostMeta(ctx, o.PostID, set, remove); err != nil {
		return fmt.Errorf("save post meta: %w", err)
	}
	return nil
}

func validHeaderType(v string) bool {
	for _, t := range HeaderTypes {
		if v == t {
			return true
		}
	}
	return false
}

// DescriptionHTML renders the page description from markdown and
// sanitises the result.
func (s *Service) DescriptionHTML(o model.PostOverride) (string, error) {
	if strings.TrimSpace(o.PageDescription) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(o.PageDescription), &buf); err != nil {
		return "", fmt.Errorf("render description: %w", err)
	}
	return strings.TrimSpace(s.policy.Sanitize(buf.String())), nil
}

// MenuColors is a CSS contributor adding a post's menu color override to
// the stylesheet generated for that post.
type MenuColors struct {
	service *Service
}

func NewMenuColors(service *Service) *MenuColors {
	return &MenuColors{service: service}
}

func (c *MenuColors) Name() string { return "page-menu-colors" }

func (c *MenuColors) Contribute(ctx context.Context, rules *theme.RuleSet) error {
	postID, ok := theme.PostIDFromContext(ctx)
	if !ok {
		return nil
	}
	o, err := c.service.Resolve(ctx, postID)
	if err != nil {
		return err
	}
	if len(o.MenuColors) == 0 {
		return nil
	}
	def, ok := c.service.schema.ColorGroup(schema.MenuColorsKey)
	if !ok {
		return nil
	}
	theme.AddColorGroupRules(rules, def, o.MenuColors, false)
	return nil
}
