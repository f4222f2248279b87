package schemamarkup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"digifusion/schema"
)

type memSettings map[string]string

func (m memSettings) ThemeMod(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func TestAttrDefaultsToEnabled(t *testing.T) {
	t.Parallel()

	h := New(schema.Default(), memSettings{})
	ctx := context.Background()

	require.Equal(t, ` itemtype="https://schema.org/WPHeader" itemscope`, h.Attr(ctx, Header))
	require.Equal(t, ` itemtype="https://schema.org/Person" itemscope itemprop="author"`, h.Attr(ctx, Author))
	require.Equal(t, ` itemprop="datePublished"`, h.Attr(ctx, Published))
	require.Empty(t, h.Attr(ctx, Type("unknown")))
}

func TestAttrDisabledBySetting(t *testing.T) {
	t.Parallel()

	h := New(schema.Default(), memSettings{schema.SchemaMarkupKey: "0"})
	require.False(t, h.Enabled(context.Background()))
	require.Empty(t, h.Attr(context.Background(), Footer))

	var nilHelper *Helper
	require.Empty(t, nilHelper.Attr(context.Background(), Footer))
}

func TestFilters(t *testing.T) {
	t.Parallel()

	h := New(schema.Default(), memSettings{},
		WithFilter(Article, func(_ context.Context, a Attributes) (Attributes, bool) {
			a.ItemType = "https://schema.org/BlogPosting"
			return a, true
		}),
		WithFilter(Sidebar, func(context.Context, Attributes) (Attributes, bool) {
			return Attributes{}, false
		}),
	)
	ctx := context.Background()

	require.Equal(t, ` itemtype="https://schema.org/BlogPosting" itemscope`, h.Attr(ctx, Article))
	require.Empty(t, h.Attr(ctx, Sidebar))
	require.NotEmpty(t, h.Attr(ctx, Blog))
}

func TestLookupCoversEveryType(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{Header, Footer, Navigation, Sidebar, Breadcrumb, Article, Author,
		Published, Modified, Headline, Content, Blog, Image, WebPage, Logo, CreativeWork} {
		a, ok := Lookup(typ)
		require.True(t, ok, typ)
		require.NotEmpty(t, a.String(), typ)
	}
}
