package extract

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"pricetracker-backend/internal/components/assert"
	"pricetracker-backend/internal/components/telemetry"
	"pricetracker-backend/internal/htmlutil"
	"pricetracker-backend/internal/product"
	"pricetracker-backend/internal/textutil"
)

const (
	report_extract_field_panic = "extract.field-panic"
	report_extract_no_name     = "extract.no-name"
	report_extract_no_price    = "extract.no-price"
)

var tracer = otel.Tracer("pricetracker-backend/internal/extract")

var (
	ErrNameNotFound     = fmt.Errorf("product name not found")
	ErrPriceNotFound    = fmt.Errorf("product price not found")
	ErrItemCodeNotFound = product.ErrMissingItemCode
)

var nonPriceChars = regexp.MustCompile(`[^\d.]`)

type Extractor struct {
	tel       telemetry.API
	selectors Selectors
}

func NewExtractor(tel telemetry.API, selectors Selectors) Extractor {
	assert.NotNil(tel)
	assert.NotEmptyStr(selectors.ImagePrefix)
	return Extractor{tel: tel, selectors: selectors}
}

// ExtractHTML parses body and runs Extract over it.
func (e Extractor) ExtractHTML(ctx context.Context, body []byte, url string) (product.Product, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return product.Product{}, err
	}
	return e.Extract(ctx, doc, url)
}

// Extract reads every field from the page, a missing name or price makes the
// candidate invalid but images and attributes never do.
func (e Extractor) Extract(ctx context.Context, doc *goquery.Document, url string) (product.Product, error) {
	_, span := tracer.Start(ctx, "Extract")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	var (
		name       string
		nameOk     bool
		price      float64
		priceOk    bool
		images     []string
		attributes map[string]string
	)
	e.guard("name", func() { name, nameOk = e.Name(doc.Selection) })
	e.guard("price", func() { price, priceOk = e.Price(doc.Selection) })
	e.guard("images", func() { images = e.Images(doc.Selection) })
	e.guard("attributes", func() { attributes = e.Attributes(doc.Selection) })

	var err error
	switch {
	case !nameOk:
		e.tel.ReportWarning(report_extract_no_name, url)
		err = fmt.Errorf("%w: %s", ErrNameNotFound, url)
	case !priceOk:
		e.tel.ReportWarning(report_extract_no_price, url)
		err = fmt.Errorf("%w: %s", ErrPriceNotFound, url)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "incomplete product")
		return product.Product{}, err
	}

	p, err := product.New(name, price, url, images, attributes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no item code")
		return product.Product{}, err
	}
	return p, nil
}

func (e Extractor) guard(field string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.tel.ReportBroken(report_extract_field_panic, field, r)
		}
	}()
	fn()
}

// Name returns the product title, DefaultName and false if no selector matched.
func (e Extractor) Name(doc *goquery.Selection) (string, bool) {
	text, ok := FirstMatch(doc, e.selectors.Name)
	if !ok {
		return DefaultName, false
	}
	name := textutil.CleanText(text)
	if name == "" {
		return DefaultName, false
	}
	return name, true
}

// Price first tries the split whole/fraction rendering, then looks for a single
// formatted price inside the known buy box containers.
func (e Extractor) Price(doc *goquery.Selection) (float64, bool) {
	if price, ok := e.splitPrice(doc); ok {
		return price, true
	}
	return e.containerPrice(doc)
}

func (e Extractor) splitPrice(doc *goquery.Selection) (float64, bool) {
	whole, ok := FirstMatch(doc, e.selectors.PriceWhole)
	if !ok {
		return 0, false
	}
	whole = strings.NewReplacer(",", "", ".", "").Replace(strings.TrimSpace(whole))
	if whole == "" {
		return 0, false
	}

	fraction := "00"
	if text, ok := FirstMatch(doc, e.selectors.PriceFraction); ok {
		fraction = strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	}

	price, err := strconv.ParseFloat(whole+"."+fraction, 64)
	if err != nil || price < 0 {
		return 0, false
	}
	return product.RoundPrice(price), true
}

func (e Extractor) containerPrice(doc *goquery.Selection) (float64, bool) {
	for _, id := range e.selectors.PriceContainers {
		container := doc.Find("div#" + id).First()
		if container.Length() == 0 {
			continue
		}
		text, ok := Css(e.selectors.OffscreenPrice)(container)
		if !ok {
			continue
		}
		cleaned := nonPriceChars.ReplaceAllString(text, "")
		price, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			continue
		}
		return product.RoundPrice(price), true
	}
	return 0, false
}

// Images walks span > span > first span > img, keeping CDN hosted product
// images in document order without duplicates.
func (e Extractor) Images(doc *goquery.Selection) []string {
	var images []string
	doc.Find("span").Each(func(_ int, outer *goquery.Selection) {
		outer.Find("span").Each(func(_ int, item *goquery.Selection) {
			item.Find("span").First().Find("img").Each(func(_ int, img *goquery.Selection) {
				src, ok := img.Attr("src")
				if ok && strings.Contains(src, e.selectors.ImagePrefix) {
					images = append(images, src)
				}
			})
		})
	})
	return product.DedupeImages(images)
}

// Attributes reads "Label : value" pairs from the detail bullets, or from the
// product details table when the bullets are absent.
func (e Extractor) Attributes(doc *goquery.Selection) map[string]string {
	attributes := map[string]string{}

	bullets := doc.Find(e.selectors.AttributeBullets).First()
	if bullets.Length() > 0 {
		bullets.Find("ul li").Each(func(_ int, li *goquery.Selection) {
			label := li.Find("span.a-list-item").First()
			if label.Length() == 0 {
				return
			}
			text := textutil.CleanText(htmlutil.SelectionStrippedText(label))
			key, value, ok := strings.Cut(text, ":")
			if !ok {
				return
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return
			}
			attributes[key] = strings.TrimSpace(value)
		})
		return attributes
	}

	doc.Find(e.selectors.AttributeTable).First().Find("tr").Each(func(_ int, row *goquery.Selection) {
		th := row.Find("th").First()
		td := row.Find("td").First()
		if th.Length() == 0 || td.Length() == 0 {
			return
		}
		key := textutil.CleanText(htmlutil.SelectionText(th))
		if key == "" {
			return
		}
		attributes[key] = textutil.CleanText(htmlutil.SelectionText(td))
	})
	return attributes
}
