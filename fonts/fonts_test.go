package fonts

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"digifusion/schema"
)

type memSettings map[string]string

func (m memSettings) ThemeMod(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func typography(family, weight, style string) string {
	return fmt.Sprintf(`{"fontFamily":%q,"fontWeight":%q,"fontStyle":%q,"fontSize":{"desktop":"","tablet":"","mobile":""}}`,
		family, weight, style)
}

type fakeGoogle struct {
	server    *httptest.Server
	downloads atomic.Int64
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()
	fg := &fakeGoogle{}
	mux := http.NewServeMux()
	mux.HandleFunc("/css", func(w http.ResponseWriter, r *http.Request) {
		family := r.URL.Query().Get("family")
		if strings.HasPrefix(family, "Broken") {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		name, variant, _ := strings.Cut(family, ":")
		weight, style := splitVariant(variant)
		slug := Slug(name)
		w.Header().Set("Content-Type", "text/css")
		fmt.Fprintf(w, `/* latin-ext */
@font-face {
  font-family: '%[1]s';
  font-style: %[2]s;
  font-weight: %[3]s;
  font-display: swap;
  src: url(%[4]s/files/%[5]s-%[3]s-ext.woff2) format('woff2');
  unicode-range: U+0100-02AF;
}
/* latin */
@font-face {
  font-family: '%[1]s';
  font-style: %[2]s;
  font-weight: %[3]s;
  font-display: swap;
  src: url(%[4]s/files/%[5]s-%[3]s.woff2) format('woff2');
  unicode-range: U+0000-00FF;
}
`, name, style, weight, fg.server.URL, slug)
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		fg.downloads.Add(1)
		_, _ = w.Write([]byte("wOF2" + r.URL.Path))
	})
	fg.server = httptest.NewServer(mux)
	t.Cleanup(fg.server.Close)
	return fg
}

func newTestManager(t *testing.T, settings memSettings, base string) *Manager {
	t.Helper()
	return NewManager(schema.Default(), settings, Options{
		UploadsDir:     t.TempDir(),
		UploadsURL:     "https://example.test/uploads/",
		GoogleFontsURL: base,
	}, nil)
}

func TestCollectSkipsSystemFonts(t *testing.T) {
	t.Parallel()

	settings := memSettings{
		"digifusion_body_typography": typography("Open Sans", "400", "normal"),
		"digifusion_h1_typography":   typography("Open Sans", "700", "normal"),
		"digifusion_h2_typography":   typography("Open Sans", "700", "italic"),
		"digifusion_h3_typography":   typography("Lora", "", "normal"),
		"digifusion_menu_typography": typography("Arial", "500", "normal"),
		"digifusion_h4_typography":   typography("Georgia, serif", "400", "normal"),
		"digifusion_h5_typography":   `broken`,
	}
	m := newTestManager(t, settings, DefaultGoogleFontsURL)

	families, err := m.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Family{
		{Name: "Lora", Variants: []string{"400"}},
		{Name: "Open Sans", Variants: []string{"400", "700", "700italic"}},
	}, families)

	require.Equal(t,
		"https://fonts.googleapis.com/css?family=Lora:400|Open+Sans:400,700,700italic&display=swap",
		CDNURL(DefaultGoogleFontsURL, families))
}

func TestStylesheetURLModes(t *testing.T) {
	t.Parallel()

	settings := memSettings{
		"digifusion_body_typography": typography("Roboto", "400", "normal"),
	}
	m := newTestManager(t, settings, DefaultGoogleFontsURL)
	ctx := context.Background()

	u, err := m.StylesheetURL(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://fonts.googleapis.com/css?family=Roboto:400&display=swap", u)

	settings[schema.LocalFontsKey] = "1"
	u, err = m.StylesheetURL(ctx)
	require.NoError(t, err)
	require.Contains(t, u, "fonts.googleapis.com", "falls back to the CDN until the local css exists")

	require.NoError(t, os.MkdirAll(filepath.Dir(m.CSSPath()), 0o755))
	require.NoError(t, os.WriteFile(m.CSSPath(), []byte("@font-face{}"), 0o644))
	u, err = m.StylesheetURL(ctx)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u, "https://example.test/uploads/digifusion/digifusion-fonts.css?ver="))

	empty := newTestManager(t, memSettings{}, DefaultGoogleFontsURL)
	u, err = empty.StylesheetURL(ctx)
	require.NoError(t, err)
	require.Empty(t, u)
}

func TestSyncDownloadsOncePerFile(t *testing.T) {
	t.Parallel()

	fg := newFakeGoogle(t)
	settings := memSettings{
		schema.LocalFontsKey:         "1",
		"digifusion_body_typography": typography("Open Sans", "400", "normal"),
		"digifusion_h1_typography":   typography("Open Sans", "700", "normal"),
	}
	m := newTestManager(t, settings, fg.server.URL+"/css")
	ctx := context.Background()

	res, err := m.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Families)
	require.Equal(t, 2, res.Faces)
	require.Equal(t, 2, res.Downloaded)
	require.Zero(t, res.Failed)
	require.EqualValues(t, 2, fg.downloads.Load())

	css, err := os.ReadFile(m.CSSPath())
	require.NoError(t, err)
	name400 := FileName("Open Sans", "400", "normal", "woff2")
	require.Contains(t, string(css), "src:url('fonts/"+name400+"') format('woff2');unicode-range:U+0000-00FF;")
	require.NotContains(t, string(css), "U+0100-02AF")
	require.True(t, strings.HasPrefix(name400, "open-sans-400-normal-"))

	data, err := os.ReadFile(filepath.Join(filepath.Dir(m.CSSPath()), "fonts", name400))
	require.NoError(t, err)
	require.Equal(t, "wOF2/files/open-sans-400.woff2", string(data))

	res, err = m.Sync(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Downloaded)
	require.EqualValues(t, 2, fg.downloads.Load())
}

func TestSyncIsolatesFailures(t *testing.T) {
	t.Parallel()

	fg := newFakeGoogle(t)
	settings := memSettings{
		schema.LocalFontsKey:         "1",
		"digifusion_body_typography": typography("Open Sans", "400", "normal"),
		"digifusion_h1_typography":   typography("Broken Font", "700", "normal"),
	}
	m := newTestManager(t, settings, fg.server.URL+"/css")

	res, err := m.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Families)
	require.Equal(t, 1, res.Faces)
	require.Equal(t, 1, res.Failed)

	css, err := os.ReadFile(m.CSSPath())
	require.NoError(t, err)
	require.Contains(t, string(css), "font-family:'Open Sans'")
	require.NotContains(t, string(css), "Broken")
}

func TestSyncDisabledDoesNothing(t *testing.T) {
	t.Parallel()

	fg := newFakeGoogle(t)
	settings := memSettings{
		"digifusion_body_typography": typography("Open Sans", "400", "normal"),
	}
	m := newTestManager(t, settings, fg.server.URL+"/css")

	res, err := m.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, SyncResult{}, res)
	require.Zero(t, fg.downloads.Load())
	_, err = os.Stat(m.CSSPath())
	require.True(t, os.IsNotExist(err))
}

func TestParseFontFacesPrefersWoff2(t *testing.T) {
	t.Parallel()

	css := `@font-face { font-family: 'A'; font-style: italic; font-weight: 700;
  src: url(https://x/a.woff) format('woff'), url("https://x/a.woff2") format("woff2"); }
@font-face { font-family: 'A'; font-weight: 400; src: url(https://x/b.ttf) format('truetype'); }
@font-face { font-family: 'A'; font-weight: 300; src: url(https://x/c.woff) format('woff'); }`

	faces := ParseFontFaces(css)
	require.Len(t, faces, 2)
	require.Equal(t, FontFace{Style: "italic", Weight: "700", URL: "https://x/a.woff2", Format: "woff2"}, faces[0])
	require.Equal(t, FontFace{Style: "normal", Weight: "300", URL: "https://x/c.woff", Format: "woff"}, faces[1])
}

func TestSlug(t *testing.T) {
	t.Parallel()

	require.Equal(t, "open-sans", Slug("Open Sans"))
	require.Equal(t, "fira-code", Slug("  Fira  Code "))
	require.Equal(t, "cafe-display", Slug("Café Display"))
}

func TestFileNameStaysInFontsDir(t *testing.T) {
	t.Parallel()

	require.True(t, strings.HasPrefix(FileName("Open Sans", "400", "normal", "woff2"), "open-sans-400-normal-"))
	require.True(t, strings.HasPrefix(FileName("Inter", "100 900", "italic", "woff2"), "inter-100-900-italic-"))

	name := FileName("Open Sans", "/../../../x", "..\\..", "woff2")
	require.NotContains(t, name, "/")
	require.NotContains(t, name, "\\")
	require.NotContains(t, name, "..")
	require.True(t, strings.HasPrefix(name, "open-sans-x-normal-"))

	dir := t.TempDir()
	require.Equal(t, dir, filepath.Dir(filepath.Join(dir, name)))
}

func TestVerifyCacheRestoresMissingFiles(t *testing.T) {
	t.Parallel()

	fg := newFakeGoogle(t)
	settings := memSettings{
		schema.LocalFontsKey:         "1",
		"digifusion_body_typography": typography("Open Sans", "400", "normal"),
	}
	m := newTestManager(t, settings, fg.server.URL+"/css")
	ctx := context.Background()

	_, err := m.Sync(ctx)
	require.NoError(t, err)

	missing, err := m.VerifyCache(ctx)
	require.NoError(t, err)
	require.Zero(t, missing)
	require.EqualValues(t, 1, fg.downloads.Load())

	name := FileName("Open Sans", "400", "normal", "woff2")
	require.NoError(t, os.Remove(filepath.Join(filepath.Dir(m.CSSPath()), "fonts", name)))

	missing, err = m.VerifyCache(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, missing)
	require.EqualValues(t, 2, fg.downloads.Load())
}
