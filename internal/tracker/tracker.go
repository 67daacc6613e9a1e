// Package tracker runs the scrape pipeline (fetch, extract, store, alert,
// notify) and validates the user facing operations around it.
package tracker

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"pricetracker-backend/internal/components/assert"
	"pricetracker-backend/internal/components/chrono"
	"pricetracker-backend/internal/components/telemetry"
	"pricetracker-backend/internal/extract"
	"pricetracker-backend/internal/fetch"
	"pricetracker-backend/internal/notify"
	"pricetracker-backend/internal/product"
	"pricetracker-backend/internal/store"
)

const (
	report_tracker_scrape = "tracker.scrape"
	report_tracker_panic  = "tracker.panic"
	report_tracker_notify = "tracker.notify"
	report_tracker_batch  = "tracker.batch"
)

var (
	tracer = otel.Tracer("pricetracker-backend/internal/tracker")
	meter  = otel.Meter("pricetracker-backend/internal/tracker")
)

var (
	scrapeSuccessCounter, _       = meter.Int64Counter("scrape.success")
	scrapeFailureCounter, _       = meter.Int64Counter("scrape.failure")
	alertsTriggeredCounter, _     = meter.Int64Counter("alerts.triggered")
	notificationsFailedCounter, _ = meter.Int64Counter("notifications.failed")
)

// Fetcher is the part of fetch.Client the pipeline uses.
type Fetcher interface {
	Get(ctx context.Context, url string) fetch.Result
}

type Options struct {
	// MinDelay and MaxDelay bound the random pause between two urls of a batch.
	MinDelay time.Duration
	MaxDelay time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
	Rand     *rand.Rand
}

func (o *Options) setDefaults() {
	if o.MinDelay <= 0 && o.MaxDelay <= 0 {
		o.MinDelay = 3 * time.Second
		o.MaxDelay = 10 * time.Second
	}
	if o.MaxDelay < o.MinDelay {
		o.MaxDelay = o.MinDelay
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 2))
	}
}

type Service struct {
	store     *store.Store
	fetcher   Fetcher
	extractor extract.Extractor
	notifier  notify.Notifier
	clock     chrono.API
	tel       telemetry.API
	opts      Options
}

func NewService(
	tel telemetry.API,
	st *store.Store,
	fetcher Fetcher,
	extractor extract.Extractor,
	notifier notify.Notifier,
	clock chrono.API,
	opts Options,
) Service {
	assert.NotNil(tel)
	assert.NotNil(st)
	assert.NotNil(fetcher)
	assert.NotNil(notifier)
	assert.NotNil(clock)
	opts.setDefaults()
	assert.Positive("max delay", int64(opts.MaxDelay))

	return Service{
		store:     st,
		fetcher:   fetcher,
		extractor: extractor,
		notifier:  notifier,
		clock:     clock,
		tel:       telemetry.NewScopedAPI("tracker", tel),
		opts:      opts,
	}
}

// URLOutcome describes what happened to one url, Err is set on failure.
type URLOutcome struct {
	Url       string
	ItemCode  string
	Err       error
	Created   bool
	Changed   bool
	OldPrice  float64
	Price     float64
	Triggered int
	Notified  int
}

func (o URLOutcome) OK() bool {
	return o.Err == nil
}

// ScrapeURL runs the pipeline for a single url. It never returns an error or
// panics, failures are reported through the outcome.
func (s Service) ScrapeURL(ctx context.Context, url string) (outcome URLOutcome) {
	ctx, span := tracer.Start(ctx, "ScrapeURL")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	outcome.Url = url
	defer func() {
		if r := recover(); r != nil {
			s.tel.ReportBroken(report_tracker_panic, url, r)
			outcome = URLOutcome{Url: url, Err: fmt.Errorf("panic: %v", r)}
		}
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
			span.SetStatus(codes.Error, "scrape failed")
			scrapeFailureCounter.Add(ctx, 1)
			s.tel.ReportWarning(report_tracker_scrape, url, outcome.Err)
			return
		}
		scrapeSuccessCounter.Add(ctx, 1)
	}()

	res := s.fetcher.Get(ctx, url)
	if !res.OK {
		outcome.Err = fmt.Errorf("fetch failed after %d attempts", res.Attempts)
		return outcome
	}
	if res.StatusCode() == 404 {
		outcome.Err = fmt.Errorf("%w: %s", ErrProductNotFound, url)
		return outcome
	}

	p, err := s.extractor.ExtractHTML(ctx, res.Response.Body(), url)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.ItemCode = p.ItemCode

	recorded, err := s.store.Record(ctx, p)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Created = recorded.Created
	outcome.Changed = recorded.Changed
	outcome.OldPrice = recorded.OldPrice
	outcome.Price = recorded.NewPrice
	outcome.Triggered = len(recorded.Triggered)

	if len(recorded.Triggered) > 0 {
		alertsTriggeredCounter.Add(ctx, int64(len(recorded.Triggered)))
	}
	for _, alert := range recorded.Triggered {
		if s.notify(ctx, alert, p, recorded.OldPrice) {
			outcome.Notified++
		}
	}

	s.tel.ReportDebug(
		"scraped",
		"item_code", p.ItemCode,
		"price", recorded.NewPrice,
		"changed", recorded.Changed,
		"triggered", len(recorded.Triggered),
	)
	return outcome
}

// notify sends one alert, a failed or panicking send is logged and counted but
// the alert stays consumed.
func (s Service) notify(ctx context.Context, alert store.PriceAlert, p product.Product, previousPrice float64) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			s.tel.ReportBroken(report_tracker_panic, "notify", alert.ID, r)
			sent = false
		}
		if !sent {
			notificationsFailedCounter.Add(ctx, 1)
		}
	}()

	sent = s.notifier.SendPriceAlert(ctx, alert.Email, p, alert.TargetPrice, previousPrice)
	if !sent {
		s.tel.ReportWarning(report_tracker_notify, alert.ID, alert.Email, p.ItemCode)
	}
	return sent
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
