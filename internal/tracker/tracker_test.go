package tracker

import (
	"context"
	"embed"
	"errors"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"pricetracker-backend/internal/components/chrono"
	"pricetracker-backend/internal/components/telemetry"
	"pricetracker-backend/internal/extract"
	"pricetracker-backend/internal/fetch"
	"pricetracker-backend/internal/product"
	"pricetracker-backend/internal/store"
	"pricetracker-backend/internal/store/db"
)

//go:embed testdata/*.html
var testdata embed.FS

// site serves fixture pages by path, unknown paths are 404.
type site struct {
	mutex  sync.Mutex
	pages  map[string]string
	status map[string]int
	hits   map[string]int
}

func newSite() *site {
	return &site{
		pages:  map[string]string{},
		status: map[string]int{},
		hits:   map[string]int{},
	}
}

func (s *site) serve(path, fixture string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.pages[path] = fixture
}

func (s *site) fail(path string, status int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.status[path] = status
}

func (s *site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.hits[r.URL.Path]++

	if status, ok := s.status[r.URL.Path]; ok {
		w.WriteHeader(status)
		return
	}
	fixture, ok := s.pages[r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	body, err := testdata.ReadFile("testdata/" + fixture)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", "text/html")
	w.Write(body)
}

// handlerTransport answers requests from a handler without touching the network.
type handlerTransport struct {
	handler http.Handler
}

func (t handlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	recorder := httptest.NewRecorder()
	t.handler.ServeHTTP(recorder, req)
	res := recorder.Result()
	res.Request = req
	return res, nil
}

type sentAlert struct {
	recipient string
	itemCode  string
	price     float64
	target    float64
	previous  float64
}

type fakeNotifier struct {
	mutex     sync.Mutex
	failFor   map[string]bool
	alerts    []sentAlert
	snapshots []string
}

func (n *fakeNotifier) SendPriceAlert(ctx context.Context, recipient string, p product.Product, targetPrice, previousPrice float64) bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.alerts = append(n.alerts, sentAlert{
		recipient: recipient,
		itemCode:  p.ItemCode,
		price:     p.Price,
		target:    targetPrice,
		previous:  previousPrice,
	})
	return !n.failFor[recipient]
}

func (n *fakeNotifier) SendProductSnapshot(ctx context.Context, recipient string, p product.Product) bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.snapshots = append(n.snapshots, recipient)
	return !n.failFor[recipient]
}

type harness struct {
	service  Service
	store    *store.Store
	site     *site
	notifier *fakeNotifier
	clock    *chrono.FakeClock
	tel      *telemetry.RecordingAPI
	sleeps   []time.Duration
}

func setup(t testing.TB) *harness {
	database, err := db.Open(context.Background(), db.MemoryUrl)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })

	h := &harness{
		site:     newSite(),
		notifier: &fakeNotifier{failFor: map[string]bool{}},
		clock:    chrono.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		tel:      telemetry.NewRecordingAPI(),
	}
	h.store = store.New(database, h.clock, h.tel)

	client := fetch.NewClient(h.tel, fetch.Options{
		RetryLimit: 2,
		Transport:  handlerTransport{handler: h.site},
		Sleep: func(ctx context.Context, d time.Duration) error {
			return nil
		},
		Rand: rand.New(rand.NewPCG(1, 2)),
	})

	h.service = NewService(
		h.tel,
		h.store,
		client,
		extract.NewExtractor(h.tel, extract.DefaultSelectors()),
		h.notifier,
		h.clock,
		Options{
			MinDelay: 3 * time.Second,
			MaxDelay: 10 * time.Second,
			Sleep: func(ctx context.Context, d time.Duration) error {
				h.sleeps = append(h.sleeps, d)
				h.clock.Advance(d)
				return ctx.Err()
			},
			Rand: rand.New(rand.NewPCG(3, 4)),
		},
	)
	return h
}

func TestScrapeTriggersAlert(t *testing.T) {
	ctx := context.Background()
	h := setup(t)

	added, err := h.service.AddURL(ctx, "https://www.amazon.com/dp/B0CHRNR43T/")
	require.NoError(t, err)
	require.Equal(t, store.URLCreated, added.Outcome)

	// first sighting at 25.00
	h.site.serve("/dp/B0CHRNR43T/", "product_2500.html")
	outcome := h.service.ScrapeURL(ctx, added.Url)
	require.NoError(t, outcome.Err)
	require.True(t, outcome.Created)
	require.False(t, outcome.Changed)

	alert, err := h.service.AddAlert(ctx, "B0CHRNR43T", "bob@example.com", 20.00)
	require.NoError(t, err)
	require.False(t, alert.AlreadyMet)

	h.clock.Advance(time.Hour)
	h.site.serve("/dp/B0CHRNR43T/", "product_1999.html")
	result, err := h.service.RunBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Succeeded)
	require.Equal(t, 0, result.Failed)
	require.Len(t, result.RunId, 8)

	outcome = result.Outcomes[0]
	require.True(t, outcome.Changed)
	require.Equal(t, 25.00, outcome.OldPrice)
	require.Equal(t, 19.99, outcome.Price)
	require.Equal(t, 1, outcome.Triggered)
	require.Equal(t, 1, outcome.Notified)

	p, history, err := h.service.PriceHistory(ctx, "B0CHRNR43T")
	require.NoError(t, err)
	require.Equal(t, 19.99, p.Price)
	require.Len(t, history, 2)

	require.Len(t, h.notifier.alerts, 1)
	require.Equal(t, sentAlert{
		recipient: "bob@example.com",
		itemCode:  "B0CHRNR43T",
		price:     19.99,
		target:    20.00,
		previous:  25.00,
	}, h.notifier.alerts[0])

	alerts, err := h.service.ListAlerts(ctx)
	require.NoError(t, err)
	require.Empty(t, alerts)

	// the same price again changes nothing and notifies nobody
	result, err = h.service.RunBatch(ctx)
	require.NoError(t, err)
	require.False(t, result.Outcomes[0].Changed)
	require.Len(t, h.notifier.alerts, 1)
}

func TestNotificationFailureDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	h := setup(t)

	h.site.serve("/dp/B0CHRNR43T", "product_2500.html")
	require.NoError(t, h.service.ScrapeURL(ctx, "https://www.amazon.com/dp/B0CHRNR43T").Err)

	_, err := h.service.AddAlert(ctx, "B0CHRNR43T", "first@example.com", 21)
	require.NoError(t, err)
	_, err = h.service.AddAlert(ctx, "B0CHRNR43T", "second@example.com", 22)
	require.NoError(t, err)
	h.notifier.failFor["first@example.com"] = true

	h.site.serve("/dp/B0CHRNR43T", "product_1999.html")
	outcome := h.service.ScrapeURL(ctx, "https://www.amazon.com/dp/B0CHRNR43T")
	require.NoError(t, outcome.Err)
	require.Equal(t, 2, outcome.Triggered)
	require.Equal(t, 1, outcome.Notified)
	require.Len(t, h.notifier.alerts, 2)
	require.Len(t, h.tel.Find(telemetry.LevelWarning, report_tracker_notify), 1)

	// the failed alert is consumed as well
	alerts, err := h.service.ListAlerts(ctx)
	require.NoError(t, err)
	require.Empty(t, alerts)
}

func TestBatchContinuesAfterFailures(t *testing.T) {
	ctx := context.Background()
	h := setup(t)

	for _, code := range []string{"B000000001", "B000000002", "B07XJ8C8F5", "B000000003"} {
		_, err := h.service.AddURL(ctx, "https://www.amazon.com/dp/"+code)
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}
	// B000000001 is gone, B000000002 errors on every attempt, B000000003
	// is served a page that has no price
	h.site.fail("/dp/B000000002/", http.StatusServiceUnavailable)
	h.site.serve("/dp/B07XJ8C8F5/", "other.html")
	h.site.serve("/dp/B000000003/", "no_price.html")

	result, err := h.service.RunBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Succeeded)
	require.Equal(t, 3, result.Failed)
	require.False(t, result.Cancelled)
	require.Len(t, result.Outcomes, 4)

	require.True(t, errors.Is(result.Outcomes[0].Err, ErrProductNotFound))
	require.Error(t, result.Outcomes[1].Err)
	require.True(t, result.Outcomes[2].OK())
	require.True(t, errors.Is(result.Outcomes[3].Err, extract.ErrPriceNotFound))

	// retried up to the limit, the 404 was not retried
	require.Equal(t, 2, h.site.hits["/dp/B000000002/"])
	require.Equal(t, 1, h.site.hits["/dp/B000000001/"])

	require.Len(t, h.sleeps, 3)
	for _, d := range h.sleeps {
		require.GreaterOrEqual(t, d, 3*time.Second)
		require.LessOrEqual(t, d, 10*time.Second)
	}
}

func TestBatchStopsWhenCancelled(t *testing.T) {
	h := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, code := range []string{"B000000001", "B000000002", "B000000003"} {
		_, err := h.service.AddURL(ctx, "https://www.amazon.com/dp/"+code)
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}

	h.service.opts.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	result, err := h.service.RunBatch(ctx)
	require.NoError(t, err)
	require.True(t, result.Cancelled)
	require.Len(t, result.Outcomes, 1)
}

func TestAddURL(t *testing.T) {
	ctx := context.Background()
	h := setup(t)

	_, err := h.service.AddURL(ctx, "https://example.com/dp/B0CHRNR43T")
	require.True(t, errors.Is(err, ErrInvalidURL))
	_, err = h.service.AddURL(ctx, "https://www.amazon.com/gp/help")
	require.True(t, errors.Is(err, ErrInvalidURL))
	_, err = h.service.AddURL(ctx, "not a url")
	require.True(t, errors.Is(err, ErrInvalidURL))

	added, err := h.service.AddURL(ctx, ` "https://www.amazon.com/Widget-Pro/dp/b0chrnr43t/ref=sr_1_1?th=1" `)
	require.NoError(t, err)
	require.Equal(t, "B0CHRNR43T", added.ItemCode)
	require.Equal(t, "https://www.amazon.com/dp/B0CHRNR43T/", added.Url)
	require.Equal(t, store.URLCreated, added.Outcome)

	added, err = h.service.AddURL(ctx, "https://www.amazon.com/gp/product/B0CHRNR43T")
	require.NoError(t, err)
	require.Equal(t, store.URLAlreadyActive, added.Outcome)

	code, err := h.service.RemoveURL(ctx, "https://www.amazon.com/dp/B0CHRNR43T")
	require.NoError(t, err)
	require.Equal(t, "B0CHRNR43T", code)
	_, err = h.service.RemoveURL(ctx, "B0CHRNR43T")
	require.True(t, errors.Is(err, store.ErrNotFound))

	urls, err := h.service.ListURLs(ctx)
	require.NoError(t, err)
	require.Empty(t, urls)

	added, err = h.service.AddURL(ctx, "https://www.amazon.com/dp/B0CHRNR43T")
	require.NoError(t, err)
	require.Equal(t, store.URLReactivated, added.Outcome)
}

func TestAddAlertValidation(t *testing.T) {
	ctx := context.Background()
	h := setup(t)

	_, err := h.service.AddAlert(ctx, "B0CHRNR43T", "bob@example.com", 10)
	require.True(t, errors.Is(err, ErrProductNotFound))

	h.site.serve("/dp/B0CHRNR43T", "product_1999.html")
	require.NoError(t, h.service.ScrapeURL(ctx, "https://www.amazon.com/dp/B0CHRNR43T").Err)

	_, err = h.service.AddAlert(ctx, "B0CHRNR43T", "not-an-email", 10)
	require.True(t, errors.Is(err, ErrInvalidEmail))
	for _, target := range []float64{0, -5, math.Inf(1), math.Inf(-1), math.NaN()} {
		_, err = h.service.AddAlert(ctx, "B0CHRNR43T", "bob@example.com", target)
		require.True(t, errors.Is(err, ErrInvalidTarget), "target %v: %v", target, err)
	}
	_, err = h.service.AddAlert(ctx, "https://example.com/dp/B0CHRNR43T", "bob@example.com", 10)
	require.True(t, errors.Is(err, ErrInvalidURL))

	res, err := h.service.AddAlert(ctx, "https://www.amazon.com/dp/B0CHRNR43T", "bob@example.com", 25)
	require.NoError(t, err)
	require.True(t, res.AlreadyMet)
	require.Equal(t, 25.0, res.Alert.TargetPrice)

	alerts, err := h.service.ListAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.True(t, alerts[0].Met())
	require.Equal(t, "Widget Pro, Stainless", alerts[0].ProductName)

	code, deleted, err := h.service.DeleteAlerts(ctx, "B0CHRNR43T")
	require.NoError(t, err)
	require.Equal(t, "B0CHRNR43T", code)
	require.EqualValues(t, 1, deleted)
}

func TestListProductsAndSnapshot(t *testing.T) {
	ctx := context.Background()
	h := setup(t)

	h.site.serve("/dp/B0CHRNR43T", "product_2500.html")
	require.NoError(t, h.service.ScrapeURL(ctx, "https://www.amazon.com/dp/B0CHRNR43T").Err)
	h.clock.Advance(time.Minute)
	h.site.serve("/dp/B0CHRNR43T", "product_1999.html")
	require.NoError(t, h.service.ScrapeURL(ctx, "https://www.amazon.com/dp/B0CHRNR43T").Err)

	products, err := h.service.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.EqualValues(t, 2, products[0].Observations)

	require.NoError(t, h.service.SendSnapshot(ctx, "B0CHRNR43T", "bob@example.com"))
	require.Equal(t, []string{"bob@example.com"}, h.notifier.snapshots)

	h.notifier.failFor["eve@example.com"] = true
	require.Error(t, h.service.SendSnapshot(ctx, "B0CHRNR43T", "eve@example.com"))
	require.True(t, errors.Is(h.service.SendSnapshot(ctx, "B000000001", "bob@example.com"), ErrProductNotFound))
}

type fakeCron struct {
	spec       string
	registered chan func()
	stopped    atomic.Bool
}

func (c *fakeCron) Cron(spec string, callback func()) error {
	c.spec = spec
	c.registered <- callback
	return nil
}

func (c *fakeCron) Stop() context.Context {
	c.stopped.Store(true)
	return context.Background()
}

func TestRunScheduled(t *testing.T) {
	h := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := h.service.AddURL(ctx, "https://www.amazon.com/dp/B0CHRNR43T")
	require.NoError(t, err)
	h.site.serve("/dp/B0CHRNR43T/", "product_1999.html")

	cron := &fakeCron{registered: make(chan func(), 1)}
	var runs []ScheduledRun
	done := make(chan error, 1)
	go func() {
		done <- h.service.RunScheduled(ctx, cron, 48*time.Hour, func(run ScheduledRun) {
			runs = append(runs, run)
		})
	}()

	var tick func()
	select {
	case tick = <-cron.registered:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job was never registered")
	}
	require.Equal(t, "@every 48h0m0s", cron.spec)

	// the first batch runs before anything is scheduled
	require.Len(t, runs, 1)
	require.Equal(t, 1, runs[0].Number)
	require.Equal(t, 1, runs[0].Result.Succeeded)
	require.Equal(t, h.clock.Now().Add(48*time.Hour), runs[0].NextRun)

	tick()
	require.Len(t, runs, 2)
	require.Equal(t, 2, runs[1].Number)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run did not stop")
	}
	require.True(t, cron.stopped.Load())

	// ticks after cancellation do nothing
	tick()
	require.Len(t, runs, 2)

	err = h.service.RunScheduled(ctx, cron, 0, nil)
	require.True(t, errors.Is(err, ErrInvalidInterval))
}

// metricReader installs a manual reader on the global meter provider once,
// package level counters delegate to it from then on.
var metricReader = sync.OnceValue(func() *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	return reader
})

func counterValue(t *testing.T, name string) int64 {
	var rm metricdata.ResourceMetrics
	require.NoError(t, metricReader().Collect(context.Background(), &rm))
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, point := range sum.DataPoints {
				total += point.Value
			}
		}
	}
	return total
}

type panickingFetcher struct{}

func (panickingFetcher) Get(ctx context.Context, url string) fetch.Result {
	panic("fetcher exploded")
}

func TestScrapePanicCountsOneFailure(t *testing.T) {
	ctx := context.Background()
	metricReader()
	h := setup(t)

	service := NewService(
		h.tel,
		h.store,
		panickingFetcher{},
		extract.NewExtractor(h.tel, extract.DefaultSelectors()),
		h.notifier,
		h.clock,
		Options{
			Sleep: func(ctx context.Context, d time.Duration) error { return nil },
		},
	)
	_, err := service.AddURL(ctx, "https://www.amazon.com/dp/B0CHRNR43T")
	require.NoError(t, err)

	successBefore := counterValue(t, "scrape.success")
	failureBefore := counterValue(t, "scrape.failure")

	outcome := service.ScrapeURL(ctx, "https://www.amazon.com/dp/B0CHRNR43T/")
	require.ErrorContains(t, outcome.Err, "fetcher exploded")

	result, err := service.RunBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, result.Succeeded)
	require.Equal(t, 1, result.Failed)

	require.Equal(t, successBefore, counterValue(t, "scrape.success"))
	require.Equal(t, failureBefore+2, counterValue(t, "scrape.failure"))
	require.Len(t, h.tel.Find(telemetry.LevelBroken, report_tracker_panic), 2)
}
