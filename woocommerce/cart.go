// Package woocommerce provides the theme's shop integration: a session
// cart, its AJAX actions, the header cart icon and cart colors.
package woocommerce

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	ErrItemNotFound    = errors.New("woocommerce: cart item not found")
	ErrProductNotFound = errors.New("woocommerce: product not found")
	ErrInvalidQuantity = errors.New("woocommerce: invalid quantity")
)

const maxQuantity = 9999

// Product is a purchasable item. Prices are in minor units.
type Product struct {
	ID    int64  `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Price int64  `json:"price" yaml:"price"`
	URL   string `json:"url" yaml:"url"`
	Image string `json:"image,omitempty" yaml:"image"`
}

// Item is one cart line.
type Item struct {
	Key       string `json:"key"`
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Image     string `json:"image,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
	Subtotal  string `json:"subtotal"`

	unitPrice int64
}

// CartData summarises a cart.
type CartData struct {
	Count    int    `json:"count"`
	Total    string `json:"total"`
	TotalRaw int64  `json:"total_raw"`
	CartURL  string `json:"cart_url"`
}

// Money formats minor-unit amounts for one locale and currency symbol.
type Money struct {
	printer *message.Printer
	symbol  string
}

// NewMoney builds a formatter. Unparsable locales fall back to English.
func NewMoney(locale, symbol string) Money {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return Money{printer: message.NewPrinter(tag), symbol: symbol}
}

func (m Money) Format(minor int64) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return sign + m.symbol + m.printer.Sprintf("%.2f", float64(minor)/100)
}

type line struct {
	key       string
	productID int64
	quantity  int
	added     time.Time
}

// Carts holds one cart per session, in memory.
type Carts struct {
	mu       sync.Mutex
	products map[int64]Product
	carts    map[string]map[string]*line
	money    Money
	cartURL  string
	now      func() time.Time
}

func NewCarts(products []Product, money Money, cartURL string) *Carts {
	c := &Carts{
		products: make(map[int64]Product, len(products)),
		carts:    make(map[string]map[string]*line),
		money:    money,
		cartURL:  cartURL,
		now:      time.Now,
	}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func lineKey(productID int64) string {
	return "p" + strconv.FormatInt(productID, 10)
}

// AddItem adds quantity of a product and returns the line key. Adding a
// product already in the cart increases its quantity.
func (c *Carts) AddItem(session string, productID int64, quantity int) (string, error) {
	if quantity <= 0 || quantity > maxQuantity {
		return "", fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.products[productID]; !ok {
		return "", fmt.Errorf("%w: %d", ErrProductNotFound, productID)
	}
	cart := c.carts[session]
	if cart == nil {
		cart = make(map[string]*line)
		c.carts[session] = cart
	}
	key := lineKey(productID)
	if l, ok := cart[key]; ok {
		l.quantity = min(l.quantity+quantity, maxQuantity)
		return key, nil
	}
	cart[key] = &line{key: key, productID: productID, quantity: quantity, added: c.now()}
	return key, nil
}

// UpdateItem sets a line's quantity; zero removes the line.
func (c *Carts) UpdateItem(session, key string, quantity int) error {
	if quantity < 0 || quantity > maxQuantity {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.carts[session][key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, key)
	}
	if quantity == 0 {
		delete(c.carts[session], key)
		return nil
	}
	l.quantity = quantity
	return nil
}

// RemoveItem deletes a line.
func (c *Carts) RemoveItem(session, key string) error {
	return c.UpdateItem(session, key, 0)
}

// Items lists the cart lines in the order they were added.
func (c *Carts) Items(session string) []Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines := make([]*line, 0, len(c.carts[session]))
	for _, l := range c.carts[session] {
		lines = append(lines, l)
	}
	sort.Slice(lines, func(i, j int) bool {
		if !lines[i].added.Equal(lines[j].added) {
			return lines[i].added.Before(lines[j].added)
		}
		return lines[i].key < lines[j].key
	})

	items := make([]Item, 0, len(lines))
	for _, l := range lines {
		p := c.products[l.productID]
		items = append(items, Item{
			Key:       l.key,
			ProductID: p.ID,
			Name:      p.Name,
			URL:       p.URL,
			Image:     p.Image,
			Quantity:  l.quantity,
			Price:     c.money.Format(p.Price),
			Subtotal:  c.money.Format(p.Price * int64(l.quantity)),
			unitPrice: p.Price,
		})
	}
	return items
}

// Data returns the cart summary shown by the header icon.
func (c *Carts) Data(session string) CartData {
	data := CartData{CartURL: c.cartURL}
	for _, it := range c.Items(session) {
		data.Count += it.Quantity
		data.TotalRaw += it.unitPrice * int64(it.Quantity)
	}
	data.Total = c.money.Format(data.TotalRaw)
	return data
}
