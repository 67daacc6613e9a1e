package textutil

import (
	"fmt"
	"regexp"
	"strings"
)

// SourceHost is the only host product pages are fetched from.
const SourceHost = "www.amazon.com"

var itemCodeRegex = regexp.MustCompile(`^[A-Za-z0-9]{10}$`)

// known permalink shapes, the first capture group is the item code.
var itemCodePathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/dp/(?:product/)?([a-z0-9]{10})(?:[/?]|$)`),
	regexp.MustCompile(`(?i)/gp/product/([a-z0-9]{10})(?:[/?]|$)`),
	regexp.MustCompile(`(?i)/gp/aw/d/([a-z0-9]{10})(?:[/?]|$)`),
	regexp.MustCompile(`(?i)/exec/obidos/(?:asin|tg/detail/-)/([a-z0-9]{10})(?:[/?]|$)`),
	regexp.MustCompile(`(?i)/o/asin/([a-z0-9]{10})(?:[/?]|$)`),
}

// IsItemCode reports whether s has the shape of an item code.
func IsItemCode(s string) bool {
	return itemCodeRegex.MatchString(s)
}

// NormalizeItemCode uppercases and trims an item code, the second return value is
// false when the result is not a valid item code.
func NormalizeItemCode(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	return s, IsItemCode(s)
}

// ExtractItemCode finds the item code in a product url. It tries the known path
// patterns first and then falls back to an `asin` query parameter (any case).
// ok is false when nothing matched.
func ExtractItemCode(rawUrl string) (code string, ok bool) {
	parsed, err := ParseURL(rawUrl)
	if err != nil {
		return "", false
	}

	for _, pattern := range itemCodePathPatterns {
		groups := pattern.FindStringSubmatch(parsed.Path)
		if len(groups) < 2 {
			continue
		}
		return strings.ToUpper(groups[1]), true
	}

	for key, values := range parsed.Query() {
		if !strings.EqualFold(key, "asin") || len(values) == 0 {
			continue
		}
		code, ok := NormalizeItemCode(values[0])
		if ok {
			return code, true
		}
	}

	return "", false
}

// CanonicalURL is the url every tracked product is stored under.
func CanonicalURL(code string) string {
	return fmt.Sprintf("https://%s/dp/%s/", SourceHost, strings.ToUpper(code))
}

// IsValidSourceURL accepts only http(s) urls whose host is exactly SourceHost.
func IsValidSourceURL(rawUrl string) bool {
	if strings.TrimSpace(rawUrl) == "" {
		return false
	}
	parsed, err := ParseURL(rawUrl)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Hostname() == SourceHost
}
