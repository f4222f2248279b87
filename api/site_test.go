package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"digifusion/breadcrumbs"
	"digifusion/model"
	"digifusion/navwalker"
	"digifusion/pages"
	"digifusion/schema"
	"digifusion/storage"
)

func newSiteServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, filepath.Join(t.TempDir(), "digifusion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SaveTerm(ctx, model.Term{ID: 1, Taxonomy: "category", Name: "News", Slug: "news"}))
	require.NoError(t, store.SavePost(ctx, model.Post{ID: 10, Type: "post", Title: "Flood warning", Slug: "flood", TermID: 1}))

	s := schema.Default()
	srv := NewServer(Deps{
		Authorizer: tokenAuthorizer{},
		Site: Site{
			Pages:       pages.NewService(s, store, nil),
			Breadcrumbs: breadcrumbs.New(store, nil),
			Menus:       navwalker.New(nil),
		},
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doc(t *testing.T, resp *http.Response) *goquery.Document {
	t.Helper()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	d, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	return d
}

func TestBreadcrumbsRoute(t *testing.T) {
	t.Parallel()
	ts := newSiteServer(t)

	resp, err := http.Get(ts.URL + "/api/breadcrumbs?kind=post&post=10")
	require.NoError(t, err)
	d := doc(t, resp)

	var labels []string
	d.Find("nav.digi-breadcrumbs li").Each(func(_ int, s *goquery.Selection) {
		labels = append(labels, strings.TrimSpace(s.Text()))
	})
	require.Equal(t, []string{"Home", "News", "Flood warning"}, labels)
}

func TestRenderMenuRoute(t *testing.T) {
	t.Parallel()
	ts := newSiteServer(t)

	body := `{"location":"primary","items":[
		{"id":1,"title":"About","url":"/about/"},
		{"id":2,"parent_id":1,"title":"Team","url":"/about/team/","current":true}
	]}`
	resp, err := http.Post(ts.URL+"/api/menus/render", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	d := doc(t, resp)

	parent := d.Find("li.menu-item-has-children")
	require.Equal(t, 1, parent.Length())
	require.Equal(t, "false", parent.Find("button.digi-submenu-toggle").AttrOr("aria-expanded", ""))
	require.Equal(t, 1, d.Find("li.current-menu-item").Length())
}

func TestPageOverridesRoundTrip(t *testing.T) {
	t.Parallel()
	ts := newSiteServer(t)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/pages/10",
		strings.NewReader(`{"header_type":"transparent","menu_colors":{"normal":"#112233"},"page_description":"**Bold** <script>x</script>"}`))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPut, ts.URL+"/api/pages/10",
		strings.NewReader(`{"header_type":"transparent","menu_colors":{"normal":"#112233"},"page_description":"**Bold** <script>x</script>"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var saved model.PostOverride
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&saved))
	require.Equal(t, int64(10), saved.PostID)
	require.Equal(t, "transparent", saved.HeaderType)
	require.Equal(t, "#112233", saved.MenuColors["normal"])

	resp, err = http.Get(ts.URL + "/api/pages/10/description")
	require.NoError(t, err)
	d := doc(t, resp)
	require.Equal(t, "Bold", d.Find("strong").Text())
	require.Zero(t, d.Find("script").Length())
}

func TestSavePageRejectsInvalidHeaderType(t *testing.T) {
	t.Parallel()
	ts := newSiteServer(t)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/pages/10", strings.NewReader(`{"header_type":"floating"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
