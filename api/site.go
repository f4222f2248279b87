package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"digifusion/breadcrumbs"
	"digifusion/logging"
	"digifusion/model"
	"digifusion/navwalker"
	"digifusion/pages"
	"digifusion/woocommerce"
)

// Site groups the renderers behind the theme's HTML fragment routes.
type Site struct {
	Pages       *pages.Service
	Breadcrumbs *breadcrumbs.Builder
	Menus       *navwalker.Walker
	Shop        *woocommerce.Shop
}

func (s *Server) mountSite(router chi.Router) {
	site := s.deps.Site
	if site.Breadcrumbs != nil {
		router.Get("/api/breadcrumbs", s.handleBreadcrumbs)
	}
	if site.Menus != nil {
		router.Post("/api/menus/render", s.handleRenderMenu)
	}
	if site.Shop != nil {
		router.Get("/api/cart-icon", s.handleCartIcon)
	}
	if site.Pages != nil {
		router.Get("/api/pages/{id}", s.handleGetPage)
		router.Get("/api/pages/{id}/description", s.handlePageDescription)
		router.With(s.requireCapability).Put("/api/pages/{id}", s.handleSavePage)
	}
}

func writeHTML(w http.ResponseWriter, fragment string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = io.WriteString(w, fragment)
}

func queryID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return id
}

func (s *Server) handleBreadcrumbs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := breadcrumbs.Request{
		Kind:   breadcrumbs.Kind(q.Get("kind")),
		PostID: queryID(r, "post"),
		TermID: queryID(r, "term"),
		Query:  q.Get("s"),
		Title:  q.Get("title"),
		Shop:   q.Get("shop") == "1",
	}
	if req.Kind == "" {
		req.Kind = breadcrumbs.KindHome
	}
	out, err := s.deps.Site.Breadcrumbs.Render(r.Context(), req)
	if err != nil {
		logging.FromContext(r.Context()).Error("render breadcrumbs", zap.Error(err))
		http.Error(w, "failed to render breadcrumbs", http.StatusInternalServerError)
		return
	}
	writeHTML(w, out)
}

func (s *Server) handleRenderMenu(w http.ResponseWriter, r *http.Request) {
	var menu navwalker.Menu
	if err := decodeJSON(r, &menu); err != nil {
		writeError(w, http.StatusBadRequest, "invalid menu")
		return
	}
	menu.Items = navwalker.BuildTree(menu.Items)
	writeHTML(w, s.deps.Site.Menus.Render(r.Context(), menu))
}

func (s *Server) handleCartIcon(w http.ResponseWriter, r *http.Request) {
	shop := s.deps.Site.Shop
	writeHTML(w, shop.RenderCartIcon(r.Context(), shop.SessionID(w, r)))
}

func pageID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	id, ok := pageID(w, r)
	if !ok {
		return
	}
	o, err := s.deps.Site.Pages.Resolve(r.Context(), id)
	if err != nil {
		logging.FromContext(r.Context()).Error("resolve page overrides", zap.Int64("post", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handlePageDescription(w http.ResponseWriter, r *http.Request) {
	id, ok := pageID(w, r)
	if !ok {
		return
	}
	o, err := s.deps.Site.Pages.Resolve(r.Context(), id)
	if err == nil {
		var out string
		if out, err = s.deps.Site.Pages.DescriptionHTML(o); err == nil {
			writeHTML(w, out)
			return
		}
	}
	logging.FromContext(r.Context()).Error("render page description", zap.Int64("post", id), zap.Error(err))
	http.Error(w, "failed to render description", http.StatusInternalServerError)
}

func (s *Server) handleSavePage(w http.ResponseWriter, r *http.Request) {
	id, ok := pageID(w, r)
	if !ok {
		return
	}
	var o model.PostOverride
	if err := decodeJSON(r, &o); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	o.PostID = id
	if err := s.deps.Site.Pages.Save(r.Context(), o); err != nil {
		if errors.Is(err, pages.ErrInvalidOverride) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logging.FromContext(r.Context()).Error("save page overrides", zap.Int64("post", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	saved, err := s.deps.Site.Pages.Resolve(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
