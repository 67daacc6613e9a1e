package product

import (
	"fmt"
	"math"
	"time"

	"pricetracker-backend/internal/textutil"
)

// PriceTolerance is the largest difference between two prices that is still
// considered the same price.
const PriceTolerance = 0.01

var ErrMissingItemCode = fmt.Errorf("product has no item code")

// ItemCodeAttribute is the attribute key product pages list the item code under.
const ItemCodeAttribute = "ASIN"

type Product struct {
	ItemCode   string
	Name       string
	Price      float64
	Url        string
	ImageUrls  []string
	Attributes map[string]string
	CreatedAt  time.Time
	// UpdatedAt is nil until the first price change after creation.
	UpdatedAt *time.Time
}

// New builds a product candidate, the item code comes from the ItemCodeAttribute
// attribute when present and valid, otherwise from the url.
func New(name string, price float64, url string, images []string, attributes map[string]string) (Product, error) {
	code, ok := ResolveItemCode(attributes, url)
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrMissingItemCode, url)
	}
	if attributes == nil {
		attributes = map[string]string{}
	}
	return Product{
		ItemCode:   code,
		Name:       name,
		Price:      RoundPrice(price),
		Url:        url,
		ImageUrls:  DedupeImages(images),
		Attributes: attributes,
	}, nil
}

func ResolveItemCode(attributes map[string]string, url string) (string, bool) {
	if value, ok := attributes[ItemCodeAttribute]; ok {
		if code, valid := textutil.NormalizeItemCode(value); valid {
			return code, true
		}
	}
	return textutil.ExtractItemCode(url)
}

// Validate checks the invariants a product must hold before it is stored.
func (p Product) Validate() error {
	if _, ok := textutil.NormalizeItemCode(p.ItemCode); !ok {
		return fmt.Errorf("%w: %q", ErrMissingItemCode, p.ItemCode)
	}
	if p.Price < 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
		return fmt.Errorf("invalid price %v", p.Price)
	}
	return nil
}

// RoundPrice rounds to whole cents.
func RoundPrice(price float64) float64 {
	return math.Round(price*100) / 100
}

// PriceChanged reports whether two prices differ by more than PriceTolerance.
func PriceChanged(old, new float64) bool {
	return math.Abs(RoundPrice(old)-RoundPrice(new)) > PriceTolerance+1e-9
}

// DedupeImages removes repeated urls keeping the first occurrence.
func DedupeImages(images []string) []string {
	seen := make(map[string]struct{}, len(images))
	out := make([]string, 0, len(images))
	for _, img := range images {
		if _, ok := seen[img]; ok {
			continue
		}
		seen[img] = struct{}{}
		out = append(out, img)
	}
	return out
}
