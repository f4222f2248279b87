package woocommerce

import (
	"context"
	"errors"
	"html"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"digifusion/ajax"
	"digifusion/logging"
	"digifusion/model"
	"digifusion/schema"
	"digifusion/theme"
)

const (
	PluginSlug = "woocommerce"

	// CookieName holds the cart session id.
	CookieName = "digifusion_cart"
	// NonceAction protects the cart actions.
	NonceAction = "digifusion_cart_nonce"

	ActionGetCartData    = "digifusion_get_cart_data"
	ActionGetCartItems   = "digifusion_get_cart_items"
	ActionUpdateCartItem = "digifusion_update_cart_item"
	ActionRemoveCartItem = "digifusion_remove_cart_item"
	ActionAddCartItem    = "digifusion_add_cart_item"

	cookieMaxAge = 48 * time.Hour
)

const cartSVG = `<svg class="digi-cart-svg" width="20" height="20" viewBox="0 0 24 24" aria-hidden="true" focusable="false"><path d="M7 18a2 2 0 1 0 0 4 2 2 0 0 0 0-4zM1 2v2h2l3.6 7.59-1.35 2.45A2 2 0 0 0 7 17h12v-2H7.42a.25.25 0 0 1-.25-.25l.03-.12.9-1.63h7.45a2 2 0 0 0 1.75-1.03l3.58-6.49A1 1 0 0 0 20 4H5.21l-.94-2H1zm16 16a2 2 0 1 0 0 4 2 2 0 0 0 0-4z"/></svg>`

// PluginChecker reports companion plugin state.
type PluginChecker interface {
	IsPluginActive(ctx context.Context, slug string) bool
}

// SettingsReader reads stored theme settings.
type SettingsReader interface {
	ThemeMod(ctx context.Context, key string) (string, bool, error)
}

// Shop ties the carts to the plugin state and the HTTP layer.
type Shop struct {
	carts   *Carts
	plugins PluginChecker
	logger  *zap.Logger
	secure  bool
}

func NewShop(carts *Carts, plugins PluginChecker, secureCookies bool, logger *zap.Logger) *Shop {
	return &Shop{
		carts:   carts,
		plugins: plugins,
		logger:  logging.OrNop(logger).Named("woocommerce"),
		secure:  secureCookies,
	}
}

// Active reports whether WooCommerce is active.
func (s *Shop) Active(ctx context.Context) bool {
	return s.plugins != nil && s.plugins.IsPluginActive(ctx, PluginSlug)
}

// Carts returns the cart store.
func (s *Shop) Carts() *Carts { return s.carts }

// SessionID returns the cart session of r, issuing a cookie when there is
// none yet.
func (s *Shop) SessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// RegisterActions adds the cart actions to d.
func (s *Shop) RegisterActions(d *ajax.Dispatcher) {
	d.Register(ActionGetCartData, s.handleGetCartData, ajax.RequireNonce(NonceAction))
	d.Register(ActionGetCartItems, s.handleGetCartItems, ajax.RequireNonce(NonceAction))
	d.Register(ActionUpdateCartItem, s.handleUpdateCartItem, ajax.RequireNonce(NonceAction))
	d.Register(ActionRemoveCartItem, s.handleRemoveCartItem, ajax.RequireNonce(NonceAction))
	d.Register(ActionAddCartItem, s.handleAddCartItem, ajax.RequireNonce(NonceAction))
}

func (s *Shop) requireActive(r *ajax.Request) error {
	if !s.Active(r.Context()) {
		return ajax.Errorf(http.StatusBadRequest, "WooCommerce is not active")
	}
	return nil
}

type itemsResponse struct {
	Items []Item   `json:"items"`
	Cart  CartData `json:"cart"`
}

func (s *Shop) handleGetCartData(w http.ResponseWriter, r *ajax.Request) (any, error) {
	if err := s.requireActive(r); err != nil {
		return nil, err
	}
	return s.carts.Data(s.SessionID(w, r.Request)), nil
}

func (s *Shop) handleGetCartItems(w http.ResponseWriter, r *ajax.Request) (any, error) {
	if err := s.requireActive(r); err != nil {
		return nil, err
	}
	session := s.SessionID(w, r.Request)
	return itemsResponse{Items: s.carts.Items(session), Cart: s.carts.Data(session)}, nil
}

func (s *Shop) handleUpdateCartItem(w http.ResponseWriter, r *ajax.Request) (any, error) {
	if err := s.requireActive(r); err != nil {
		return nil, err
	}
	key := r.Param("cart_item_key")
	quantity, err := strconv.Atoi(r.Param("quantity"))
	if key == "" || err != nil {
		return nil, ajax.Errorf(http.StatusBadRequest, "Invalid parameters")
	}
	session := s.SessionID(w, r.Request)
	if err := s.carts.UpdateItem(session, key, quantity); err != nil {
		return nil, cartError(err)
	}
	return itemsResponse{Items: s.carts.Items(session), Cart: s.carts.Data(session)}, nil
}

func (s *Shop) handleRemoveCartItem(w http.ResponseWriter, r *ajax.Request) (any, error) {
	if err := s.requireActive(r); err != nil {
		return nil, err
	}
	key := r.Param("cart_item_key")
	if key == "" {
		return nil, ajax.Errorf(http.StatusBadRequest, "Invalid parameters")
	}
	session := s.SessionID(w, r.Request)
	if err := s.carts.RemoveItem(session, key); err != nil {
		return nil, cartError(err)
	}
	return itemsResponse{Items: s.carts.Items(session), Cart: s.carts.Data(session)}, nil
}

func (s *Shop) handleAddCartItem(w http.ResponseWriter, r *ajax.Request) (any, error) {
	if err := s.requireActive(r); err != nil {
		return nil, err
	}
	productID, err := strconv.ParseInt(r.Param("product_id"), 10, 64)
	if err != nil {
		return nil, ajax.Errorf(http.StatusBadRequest, "Invalid parameters")
	}
	quantity := 1
	if q := r.Param("quantity"); q != "" {
		if quantity, err = strconv.Atoi(q); err != nil {
			return nil, ajax.Errorf(http.StatusBadRequest, "Invalid parameters")
		}
	}
	session := s.SessionID(w, r.Request)
	if _, err := s.carts.AddItem(session, productID, quantity); err != nil {
		return nil, cartError(err)
	}
	return itemsResponse{Items: s.carts.Items(session), Cart: s.carts.Data(session)}, nil
}

func cartError(err error) error {
	switch {
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrProductNotFound):
		return ajax.Errorf(http.StatusNotFound, "%s", err.Error())
	case errors.Is(err, ErrInvalidQuantity):
		return ajax.Errorf(http.StatusBadRequest, "%s", err.Error())
	}
	return err
}

// RenderCartIcon renders the header cart link with its item count. It
// returns "" when WooCommerce is not active.
func (s *Shop) RenderCartIcon(ctx context.Context, session string) string {
	if !s.Active(ctx) {
		return ""
	}
	data := s.carts.Data(session)
	count := strconv.Itoa(data.Count)
	return `<a class="digi-cart-icon" href="` + html.EscapeString(data.CartURL) + `" aria-label="` +
		html.EscapeString("Cart, "+count+" items, "+data.Total) + `">` + cartSVG +
		`<span class="digi-cart-count">` + count + `</span></a>`
}

// CartColors contributes the cart color group while WooCommerce is
// active. Fields equal to their default are skipped.
type CartColors struct {
	schema   *schema.Schema
	settings SettingsReader
	plugins  PluginChecker
	logger   *zap.Logger
}

func NewCartColors(s *schema.Schema, settings SettingsReader, plugins PluginChecker, logger *zap.Logger) *CartColors {
	return &CartColors{schema: s, settings: settings, plugins: plugins, logger: logging.OrNop(logger)}
}

func (c *CartColors) Name() string { return "woocommerce-cart-colors" }

func (c *CartColors) Contribute(ctx context.Context, rules *theme.RuleSet) error {
	if c.plugins == nil || !c.plugins.IsPluginActive(ctx, PluginSlug) {
		return nil
	}
	def, ok := c.schema.ColorGroup(schema.CartColorsKey)
	if !ok {
		return nil
	}
	raw, ok, err := c.settings.ThemeMod(ctx, def.Key)
	if err != nil || !ok {
		return err
	}
	group, err := model.DecodeColorGroup(raw)
	if err != nil {
		c.logger.Warn("ignoring malformed cart colors", zap.Error(err))
		return nil
	}
	theme.AddColorGroupRules(rules, def, group, true)
	return nil
}
