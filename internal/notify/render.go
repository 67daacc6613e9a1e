package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"pricetracker-backend/internal/product"
)

//go:embed templates/*.html
var templateFS embed.FS

// MaxImages is the most product images included in a message.
const MaxImages = 5

var templates = template.Must(
	template.New("").
		Funcs(template.FuncMap{"money": formatMoney}).
		ParseFS(templateFS, "templates/*.html"),
)

func formatMoney(value float64) string {
	return fmt.Sprintf("$%.2f", value)
}

type attributeRow struct {
	Key   string
	Value string
}

type messageData struct {
	Name           string
	Url            string
	Price          float64
	Target         float64
	Previous       float64
	HasSavings     bool
	Savings        float64
	SavingsPercent float64
	Images         []string
	Attributes     []attributeRow
}

func newMessageData(p product.Product) messageData {
	images := p.ImageUrls
	if len(images) > MaxImages {
		images = images[:MaxImages]
	}

	rows := make([]attributeRow, 0, len(p.Attributes))
	for key, value := range p.Attributes {
		rows = append(rows, attributeRow{Key: key, Value: value})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Key < rows[j].Key
	})

	return messageData{
		Name:       p.Name,
		Url:        p.Url,
		Price:      p.Price,
		Images:     images,
		Attributes: rows,
	}
}

type Message struct {
	Subject string
	Html    string
	Text    string
}

// RenderPriceAlert builds the alert message, a savings block is included only
// when the previous price was higher than the current one.
func RenderPriceAlert(p product.Product, targetPrice, previousPrice float64) (Message, error) {
	data := newMessageData(p)
	data.Target = targetPrice
	data.Previous = previousPrice
	if previousPrice > p.Price {
		data.HasSavings = true
		data.Savings = product.RoundPrice(previousPrice - p.Price)
		data.SavingsPercent = data.Savings / previousPrice * 100
	}

	var html bytes.Buffer
	err := templates.ExecuteTemplate(&html, "price_alert.html", data)
	if err != nil {
		return Message{}, err
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s is now %s (your target: %s).\n", p.Name, formatMoney(p.Price), formatMoney(targetPrice))
	if data.HasSavings {
		fmt.Fprintf(&text, "Down from %s, you save %s (%.1f%%).\n", formatMoney(previousPrice), formatMoney(data.Savings), data.SavingsPercent)
	}
	fmt.Fprintf(&text, "%s\n", p.Url)

	return Message{
		Subject: fmt.Sprintf("Price alert: %s is now %s", truncate(p.Name, 60), formatMoney(p.Price)),
		Html:    html.String(),
		Text:    text.String(),
	}, nil
}

// RenderProductSnapshot lists the price, images and attributes of a product.
func RenderProductSnapshot(p product.Product) (Message, error) {
	data := newMessageData(p)

	var html bytes.Buffer
	err := templates.ExecuteTemplate(&html, "snapshot.html", data)
	if err != nil {
		return Message{}, err
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s: %s\n", p.Name, formatMoney(p.Price))
	for _, row := range data.Attributes {
		fmt.Fprintf(&text, "%s: %s\n", row.Key, row.Value)
	}
	fmt.Fprintf(&text, "%s\n", p.Url)

	return Message{
		Subject: fmt.Sprintf("Product update: %s", truncate(p.Name, 60)),
		Html:    html.String(),
		Text:    text.String(),
	}, nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
