package theme

import (
	"context"
	"html"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"digifusion/logging"
)

const (
	// StyleHandle is the main theme stylesheet the dynamic CSS depends on.
	StyleHandle = "digifusion-style"
	// FontsHandle identifies the web fonts stylesheet link.
	FontsHandle = "digifusion-fonts"
)

// FontsLinker resolves the stylesheet URL for the configured web fonts.
type FontsLinker interface {
	StylesheetURL(ctx context.Context) (string, error)
}

// Handler handles dynamic stylesheet HTTP requests.
type Handler struct {
	engine   *Engine
	fonts    FontsLinker
	styleURL string
}

// NewHandler creates a new stylesheet handler. styleURL is the public URL
// of the theme's static stylesheet.
func NewHandler(engine *Engine, fonts FontsLinker, styleURL string) *Handler {
	return &Handler{
		engine:   engine,
		fonts:    fonts,
		styleURL: styleURL,
	}
}

func requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	if v := r.URL.Query().Get("post"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			ctx = WithPostID(ctx, id)
		}
	}
	return ctx
}

// HandleDynamicCSS serves the generated stylesheet.
func (h *Handler) HandleDynamicCSS(w http.ResponseWriter, r *http.Request) {
	css, err := h.engine.Generate(requestContext(r))
	if err != nil {
		logging.FromContext(r.Context()).Error("generate dynamic css", zap.Error(err))
		http.Error(w, "failed to generate stylesheet", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(css))
}

// HandleHead serves the <head> fragment: fonts link, main stylesheet and
// the inline dynamic CSS attached to it.
func (h *Handler) HandleHead(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	css, err := h.engine.Generate(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("generate dynamic css", zap.Error(err))
		http.Error(w, "failed to generate stylesheet", http.StatusInternalServerError)
		return
	}

	fontsURL := ""
	if h.fonts != nil {
		fontsURL, err = h.fonts.StylesheetURL(ctx)
		if err != nil {
			logging.FromContext(ctx).Warn("resolve fonts stylesheet", zap.Error(err))
			fontsURL = ""
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(HeadHTML(h.styleURL, fontsURL, css)))
}

// HeadHTML renders the stylesheet links and the inline style block. The
// inline block is omitted when css is empty.
func HeadHTML(styleURL, fontsURL, css string) string {
	var builder strings.Builder
	if fontsURL != "" {
		builder.WriteString(`<link rel="stylesheet" id="` + FontsHandle + `-css" href="`)
		builder.WriteString(html.EscapeString(fontsURL))
		builder.WriteString(`" media="all">` + "\n")
	}
	if styleURL != "" {
		builder.WriteString(`<link rel="stylesheet" id="` + StyleHandle + `-css" href="`)
		builder.WriteString(html.EscapeString(styleURL))
		builder.WriteString(`" media="all">` + "\n")
	}
	if css != "" {
		builder.WriteString(`<style id="` + StyleHandle + `-inline-css">`)
		builder.WriteString(css)
		builder.WriteString("</style>\n")
	}
	return builder.String()
}
