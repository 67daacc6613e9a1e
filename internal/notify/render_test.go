package notify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pricetracker-backend/internal/product"
)

func testProduct() product.Product {
	return product.Product{
		ItemCode: "B0CHRNR43T",
		Name:     "Widget <Pro>",
		Price:    19.99,
		Url:      "https://www.amazon.com/dp/B0CHRNR43T/",
		ImageUrls: []string{
			"https://m.media-amazon.com/images/I/1.jpg",
			"https://m.media-amazon.com/images/I/2.jpg",
			"https://m.media-amazon.com/images/I/3.jpg",
			"https://m.media-amazon.com/images/I/4.jpg",
			"https://m.media-amazon.com/images/I/5.jpg",
			"https://m.media-amazon.com/images/I/6.jpg",
		},
		Attributes: map[string]string{
			"Item Weight": "2.2 pounds",
			"ASIN":        "B0CHRNR43T",
		},
	}
}

func TestRenderPriceAlert(t *testing.T) {
	msg, err := RenderPriceAlert(testProduct(), 20.00, 25.00)
	require.NoError(t, err)

	require.Equal(t, "Price alert: Widget <Pro> is now $19.99", msg.Subject)
	require.Contains(t, msg.Html, "Widget &lt;Pro&gt;")
	require.Contains(t, msg.Html, "$19.99")
	require.Contains(t, msg.Html, "$20.00")
	require.Contains(t, msg.Html, "you save $5.01 (20.0%)")
	require.Contains(t, msg.Html, "images/I/5.jpg")
	require.NotContains(t, msg.Html, "images/I/6.jpg")
	require.Equal(t, MaxImages, strings.Count(msg.Html, "<img"))
	require.Contains(t, msg.Text, "you save $5.01")
}

func TestRenderPriceAlertWithoutSavings(t *testing.T) {
	msg, err := RenderPriceAlert(testProduct(), 20.00, 19.99)
	require.NoError(t, err)
	require.NotContains(t, msg.Html, "you save")
	require.NotContains(t, msg.Text, "you save")
}

func TestRenderProductSnapshot(t *testing.T) {
	msg, err := RenderProductSnapshot(testProduct())
	require.NoError(t, err)

	require.Contains(t, msg.Html, "<th align=\"left\">ASIN</th><td>B0CHRNR43T</td>")
	require.Contains(t, msg.Html, "<th align=\"left\">Item Weight</th><td>2.2 pounds</td>")
	// attribute rows are sorted by label
	require.Less(t, strings.Index(msg.Html, "ASIN"), strings.Index(msg.Html, "Item Weight"))
	require.Contains(t, msg.Text, "Widget <Pro>: $19.99")
}
