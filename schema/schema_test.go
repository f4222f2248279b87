package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"digifusion/model"
)

func TestDefaultSchema(t *testing.T) {
	t.Parallel()
	s := Default()

	palette := s.Palette()
	require.Equal(t, GlobalColorsKey, palette.Key)
	require.Equal(t, "#4a6cf7", palette.Defaults()["primary"])

	require.NotContains(t, s.DependentColorKeys(), GlobalColorsKey)
	require.Contains(t, s.DependentColorKeys(), "digifusion_body_colors")
	require.Contains(t, s.DependentColorKeys(), MenuColorsKey)

	for _, key := range s.Keys() {
		v, ok := s.DefaultValue(key)
		require.True(t, ok, key)
		require.NotEmpty(t, v, key)
	}
	_, ok := s.DefaultValue("missing")
	require.False(t, ok)

	cart, ok := s.ColorGroup(CartColorsKey)
	require.True(t, ok)
	require.Equal(t, ContributorWooCom, cart.Contributor)
}

func TestDefaultColorGroupsAreValid(t *testing.T) {
	t.Parallel()
	for _, g := range Default().ColorGroups {
		raw, ok := Default().DefaultValue(g.Key)
		require.True(t, ok)
		decoded, err := model.DecodeColorGroup(raw)
		require.NoError(t, err)
		require.Equal(t, g.Defaults(), decoded)
	}
}

func TestToggleDefaults(t *testing.T) {
	t.Parallel()
	markup, ok := Default().Toggle(SchemaMarkupKey)
	require.True(t, ok)
	require.True(t, markup.Default)

	local, ok := Default().Toggle(LocalFontsKey)
	require.True(t, ok)
	require.False(t, local.Default)
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`
color_groups:
  - key: a
    fields:
      - { key: x, default: "not-a-color" }
`))
	require.Error(t, err)

	_, err = Parse([]byte(`
color_groups:
  - key: a
  - key: a
`))
	require.Error(t, err)

	_, err = Parse([]byte(`
typography:
  - key: t
`))
	require.Error(t, err)
}

func TestParseBool(t *testing.T) {
	t.Parallel()
	require.True(t, ParseBool("1", false))
	require.True(t, ParseBool("yes", false))
	require.False(t, ParseBool("off", true))
	require.False(t, ParseBool("0", true))
	require.True(t, ParseBool("", true))
	require.True(t, ParseBool("maybe", true))
	require.Equal(t, "1", FormatBool(true))
	require.Equal(t, "0", FormatBool(false))
}
