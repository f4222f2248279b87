package woocommerce

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the product list the cart sells, with its currency.
type Catalog struct {
	Locale   string    `yaml:"locale"`
	Currency string    `yaml:"currency_symbol"`
	Products []Product `yaml:"products"`
}

// DefaultCatalog is used when no catalog file exists: no products, US
// dollars.
func DefaultCatalog() Catalog {
	return Catalog{Locale: "en-US", Currency: "$"}
}

// LoadCatalog reads a YAML catalog. A missing file yields DefaultCatalog.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultCatalog(), nil
	}
	if err != nil {
		return Catalog{}, err
	}

	cat := DefaultCatalog()
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	seen := make(map[int64]bool, len(cat.Products))
	for _, p := range cat.Products {
		if p.ID <= 0 || p.Name == "" {
			return Catalog{}, fmt.Errorf("catalog %s: product %d needs an id and a name", path, p.ID)
		}
		if p.Price < 0 {
			return Catalog{}, fmt.Errorf("catalog %s: product %d has a negative price", path, p.ID)
		}
		if seen[p.ID] {
			return Catalog{}, fmt.Errorf("catalog %s: duplicate product %d", path, p.ID)
		}
		seen[p.ID] = true
	}
	return cat, nil
}

// Carts builds the cart service selling the catalog's products.
func (c Catalog) Carts(cartURL string) *Carts {
	return NewCarts(c.Products, NewMoney(c.Locale, c.Currency), cartURL)
}
