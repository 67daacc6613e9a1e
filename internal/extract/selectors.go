package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"pricetracker-backend/internal/htmlutil"
)

// Matcher looks for a single text value in a document.
type Matcher func(doc *goquery.Selection) (string, bool)

// Css matches the text of the first element selected by css whose trimmed text is
// not empty.
func Css(css string) Matcher {
	return func(doc *goquery.Selection) (string, bool) {
		var found string
		doc.Find(css).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(htmlutil.SelectionText(s))
			if text == "" {
				return true
			}
			found = text
			return false
		})
		return found, found != ""
	}
}

// ExactClass matches elements of tag whose class attribute is exactly class,
// the order and count of class names matter.
func ExactClass(tag, class string) Matcher {
	return func(doc *goquery.Selection) (string, bool) {
		var found string
		doc.Find(tag).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			attr, ok := s.Attr("class")
			if !ok || strings.TrimSpace(attr) != class {
				return true
			}
			text := strings.TrimSpace(htmlutil.SelectionText(s))
			if text == "" {
				return true
			}
			found = text
			return false
		})
		return found, found != ""
	}
}

// FirstMatch tries matchers in order and returns the first hit.
func FirstMatch(doc *goquery.Selection, matchers []Matcher) (string, bool) {
	for _, m := range matchers {
		if text, ok := m(doc); ok {
			return text, true
		}
	}
	return "", false
}

// Selectors holds the ordered fallback chains used for every field. Page
// layouts change often so these are data rather than code.
type Selectors struct {
	Name          []Matcher
	PriceWhole    []Matcher
	PriceFraction []Matcher
	// PriceContainers are element ids searched for an offscreen price when the
	// whole/fraction pair is missing.
	PriceContainers []string
	OffscreenPrice  string
	ImagePrefix     string

	AttributeBullets string
	AttributeTable   string
}

const DefaultName = "Unknown Product"

func DefaultSelectors() Selectors {
	return Selectors{
		Name: []Matcher{
			Css("span#productTitle"),
			Css("h1#title"),
			Css("span#ebooksProductTitle"),
			ExactClass("span", "a-size-large product-title-word-break"),
			ExactClass("span", "a-size-large a-spacing-none"),
			ExactClass("h1", "a-size-large a-spacing-none"),
		},
		PriceWhole: []Matcher{
			Css("span.a-price-whole"),
			ExactClass("span", "a-price a-text-price"),
			Css("span.a-offscreen"),
		},
		PriceFraction: []Matcher{
			Css("span.a-price-fraction"),
			Css("span.a-offscreen"),
		},
		PriceContainers: []string{
			"corePriceDisplay_desktop_feature_div",
			"corePrice_desktop",
			"centerCol",
		},
		OffscreenPrice:   "span.a-offscreen",
		ImagePrefix:      "https://m.media-amazon.com/images/",
		AttributeBullets: "div#detailBullets_feature_div",
		AttributeTable:   "div#prodDetails",
	}
}
