// Package fetch retrieves product pages. Each request is retried with exponential
// backoff and a fresh browser header set until it connects or the retry limit runs out.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"pricetracker-backend/internal/components/assert"
	"pricetracker-backend/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const (
	report_client_fetch   = "client.fetch"
	report_client_attempt = "client.attempt"
)

// MaxBackoff caps the delay between two attempts.
const MaxBackoff = 30 * time.Second

var tracer = otel.Tracer("pricetracker-backend/internal/fetch")

// BotChallengeMarkers are substrings of the pages served instead of the product
// when the request was flagged as automated.
var BotChallengeMarkers = [][]byte{
	[]byte("<title>Robot or human?</title>"),
	[]byte("/errors/validateCaptcha"),
}

// DetectBotChallenge is the default placeholder check for a bot challenge page.
func DetectBotChallenge(body []byte) bool {
	for _, marker := range BotChallengeMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

type Options struct {
	RetryLimit     int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// RequestsPerSecond limits outbound requests, 0 disables the limiter.
	RequestsPerSecond float64

	// AntiBotCheck enables BotCheck on 200 responses.
	AntiBotCheck bool
	// BotCheck defaults to DetectBotChallenge.
	BotCheck func(body []byte) bool

	// Headers is the pool random browser headers are drawn from, nil sends only
	// the caller's headers.
	Headers *HeaderPool

	// Transport replaces the default (cloudflare bypassing) transport.
	Transport http.RoundTripper
	// Sleep replaces the context aware sleep between attempts.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  *rand.Rand
}

func (o *Options) setDefaults() {
	if o.RetryLimit <= 0 {
		o.RetryLimit = 5
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 30 * time.Second
	}
	if o.BotCheck == nil {
		o.BotCheck = DetectBotChallenge
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1))
	}
}

type Request struct {
	Method  string
	Url     string
	Headers map[string]string
}

// Result is the outcome of Fetch, Response is nil whenever OK is false.
//
// OK means the server was reached and answered with 200 or 404.
type Result struct {
	OK       bool
	Response *resty.Response
	Attempts int
	// Delays holds the backoff slept before each retry.
	Delays []time.Duration
}

func (r Result) StatusCode() int {
	if r.Response == nil {
		return 0
	}
	return r.Response.StatusCode()
}

type Client struct {
	http *resty.Client
	opts Options
	tel  telemetry.API
}

func NewClient(tel telemetry.API, opts Options) *Client {
	assert.NotNil(tel)
	opts.setDefaults()
	assert.Positive("retry limit", opts.RetryLimit)
	tel = telemetry.NewScopedAPI("fetch", tel)

	httpClient := resty.New()
	if opts.Transport != nil {
		httpClient.SetTransport(opts.Transport)
	} else {
		transport := &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext,
			TLSHandshakeTimeout:   opts.ConnectTimeout,
			ResponseHeaderTimeout: opts.ReadTimeout,
		}
		httpClient.SetTransport(cloudflarebp.AddCloudFlareByPass(transport))
	}
	httpClient.SetTimeout(opts.ConnectTimeout + opts.ReadTimeout)
	httpClient.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	if opts.RequestsPerSecond > 0 {
		limiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}
	telemetry.InstrumentResty(httpClient, tel)

	return &Client{http: httpClient, opts: opts, tel: tel}
}

// Get fetches url with the GET method.
func (c *Client) Get(ctx context.Context, url string) Result {
	return c.Fetch(ctx, Request{Method: http.MethodGet, Url: url})
}

func (c *Client) headersFor(req Request) map[string]string {
	headers := map[string]string{}
	if c.opts.Headers != nil {
		for k, v := range c.opts.Headers.Random() {
			headers[k] = v
		}
	}
	for k, v := range req.Headers {
		headers[k] = v
	}
	return headers
}

// Fetch performs req until it connects or the retry limit is reached. Transport
// errors, unexpected statuses and detected bot challenges all count as failed attempts.
func (c *Client) Fetch(ctx context.Context, req Request) Result {
	ctx, span := tracer.Start(ctx, "client:Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("url", req.Url))

	if req.Method == "" {
		req.Method = http.MethodGet
	}

	delays := newBackoff(c.opts.Rand)
	result := Result{}
	for attempt := 0; attempt < c.opts.RetryLimit; attempt++ {
		result.Attempts = attempt + 1

		res, err := c.http.R().
			SetContext(ctx).
			SetHeaders(c.headersFor(req)).
			Execute(req.Method, req.Url)
		switch {
		case err != nil:
			c.tel.ReportWarning(report_client_attempt, fmt.Errorf("request: %w", err), req.Url, attempt+1)
		case res.StatusCode() == http.StatusNotFound:
			result.OK = true
			result.Response = res
		case res.StatusCode() == http.StatusOK:
			if c.opts.AntiBotCheck && c.opts.BotCheck(res.Body()) {
				c.tel.ReportWarning(report_client_attempt, fmt.Errorf("bot challenge detected"), req.Url, attempt+1)
				break
			}
			result.OK = true
			result.Response = res
		default:
			c.tel.ReportWarning(report_client_attempt, fmt.Errorf("unexpected status %d", res.StatusCode()), req.Url, attempt+1)
		}
		if result.OK {
			span.SetAttributes(
				attribute.Int("attempts", result.Attempts),
				attribute.Int("status", res.StatusCode()),
			)
			return result
		}

		if attempt == c.opts.RetryLimit-1 || ctx.Err() != nil {
			break
		}
		delay := delays()
		result.Delays = append(result.Delays, delay)
		if err := c.opts.Sleep(ctx, delay); err != nil {
			break
		}
	}

	c.tel.ReportBroken(report_client_fetch, fmt.Errorf("gave up after %d attempts", result.Attempts), req.Url)
	span.SetStatus(codes.Error, "retry limit exhausted")
	return Result{Attempts: result.Attempts, Delays: result.Delays}
}

// newBackoff returns the delay generator for one Fetch: 1s, 2s, 4s, ... plus up to
// one second of jitter, never above MaxBackoff.
func newBackoff(rnd *rand.Rand) func() time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	return func() time.Duration {
		delay := b.NextBackOff()
		delay += time.Duration(rnd.Int64N(int64(time.Second)))
		if delay > MaxBackoff {
			delay = MaxBackoff
		}
		return delay
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
