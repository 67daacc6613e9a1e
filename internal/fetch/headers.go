package fetch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"pricetracker-backend/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
)

const (
	report_headers_load = "headers.load"

	DefaultHeadersEndpoint = "http://headers.scrapeops.io/v1/browser-headers"
)

// HeaderSet is a bundle of request headers copied from a real desktop browser.
type HeaderSet map[string]string

func (h HeaderSet) userAgent() string {
	for k, v := range h {
		if strings.EqualFold(k, "user-agent") {
			return v
		}
	}
	return ""
}

// IsMobile reports whether the header set belongs to a phone browser.
func (h HeaderSet) IsMobile() bool {
	ua := strings.ToLower(h.userAgent())
	return strings.Contains(ua, "mobile") ||
		strings.Contains(ua, "iphone") ||
		strings.Contains(ua, "android")
}

// HeaderPool hands out random header sets, it is safe for concurrent use.
type HeaderPool struct {
	mutex sync.Mutex
	sets  []HeaderSet
	rnd   *rand.Rand
}

// NewHeaderPool builds a pool from the desktop entries of sets, falling back to
// the built-in list when none are left.
func NewHeaderPool(sets []HeaderSet, rnd *rand.Rand) *HeaderPool {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	desktop := desktopOnly(sets)
	if len(desktop) == 0 {
		desktop = desktopOnly(FallbackHeaderSets())
	}
	return &HeaderPool{sets: desktop, rnd: rnd}
}

func desktopOnly(sets []HeaderSet) []HeaderSet {
	out := make([]HeaderSet, 0, len(sets))
	for _, s := range sets {
		if len(s) == 0 || s.IsMobile() {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (p *HeaderPool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.sets)
}

// Random returns a copy of one of the header sets.
func (p *HeaderPool) Random() HeaderSet {
	p.mutex.Lock()
	chosen := p.sets[p.rnd.IntN(len(p.sets))]
	p.mutex.Unlock()

	out := make(HeaderSet, len(chosen))
	for k, v := range chosen {
		out[k] = v
	}
	return out
}

type HeaderSourceOptions struct {
	Endpoint   string
	ApiKey     string
	NumResults int
	// Http overrides the client used to reach the header service.
	Http *resty.Client
}

type headerServiceResponse struct {
	Result []HeaderSet `json:"result"`
}

// LoadHeaderPool asks the header service for a fresh list of browser header sets.
// Any failure (no api key, transport error, non-200, empty result) falls back to
// the built-in list, it never returns an unusable pool.
func LoadHeaderPool(ctx context.Context, tel telemetry.API, opts HeaderSourceOptions, rnd *rand.Rand) *HeaderPool {
	sets, err := fetchHeaderSets(ctx, opts)
	if err != nil {
		tel.ReportWarning(report_headers_load, fmt.Errorf("using fallback header sets: %w", err))
		return NewHeaderPool(nil, rnd)
	}
	pool := NewHeaderPool(sets, rnd)
	tel.ReportDebug("loaded browser header sets", pool.Len())
	return pool
}

func fetchHeaderSets(ctx context.Context, opts HeaderSourceOptions) ([]HeaderSet, error) {
	if opts.ApiKey == "" {
		return nil, fmt.Errorf("no api key configured")
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultHeadersEndpoint
	}
	numResults := opts.NumResults
	if numResults <= 0 {
		numResults = 20
	}
	client := opts.Http
	if client == nil {
		client = resty.New().SetTimeout(time.Second * 30)
	}

	var body headerServiceResponse
	res, err := client.R().
		SetContext(ctx).
		SetQueryParam("api_key", opts.ApiKey).
		SetQueryParam("num_results", fmt.Sprint(numResults)).
		SetResult(&body).
		Get(endpoint)
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != 200 {
		return nil, fmt.Errorf("header service status %d: %s", res.StatusCode(), res.String())
	}
	sets := desktopOnly(body.Result)
	if len(sets) == 0 {
		return nil, fmt.Errorf("header service returned no desktop header sets")
	}
	return sets, nil
}

// FallbackHeaderSets is the static list used whenever the header service is unavailable.
func FallbackHeaderSets() []HeaderSet {
	const accept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"
	chrome := func(secChUa, platform, userAgent string) HeaderSet {
		return HeaderSet{
			"sec-ch-ua":                 secChUa,
			"sec-ch-ua-mobile":          "?0",
			"sec-ch-ua-platform":        platform,
			"upgrade-insecure-requests": "1",
			"user-agent":                userAgent,
			"accept":                    accept,
			"sec-fetch-site":            "same-site",
			"sec-fetch-mode":            "navigate",
			"sec-fetch-user":            "?1",
			"sec-fetch-dest":            "document",
			"accept-encoding":           "gzip, deflate, br, zstd",
			"accept-language":           "en-US",
		}
	}
	const chrome131 = `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`
	const chrome123 = `"Google Chrome";v="123", "Not:A-Brand";v="8", "Chromium";v="123"`

	macDnt := chrome(chrome131, `"macOS"`, "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	macDnt["dnt"] = "1"

	return []HeaderSet{
		chrome(chrome131, `"Windows"`, "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"),
		chrome(chrome123, `"Linux"`, "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"),
		chrome(chrome131, `"macOS"`, "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"),
		macDnt,
	}
}
