package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"pricetracker-backend/internal/components/chrono"
	"pricetracker-backend/internal/components/telemetry"
	"pricetracker-backend/internal/configutil"
	"pricetracker-backend/internal/extract"
	"pricetracker-backend/internal/fetch"
	"pricetracker-backend/internal/notify"
	"pricetracker-backend/internal/store"
	"pricetracker-backend/internal/store/db"
	"pricetracker-backend/internal/tracker"
)

// app is shared by every command of one process, the interactive shell runs
// many commands against the same instance.
type app struct {
	config configutil.Config
	tel    telemetry.API

	once     sync.Once
	err      error
	database *sql.DB
	service  tracker.Service
	closers  []func()
}

var current *app

func newApp(config configutil.Config) *app {
	return &app{
		config: config,
		tel:    telemetry.SlogAPI{},
	}
}

// Tracker opens the database and wires the pipeline on first use.
func (a *app) Tracker(ctx context.Context) (tracker.Service, error) {
	a.once.Do(func() {
		a.err = a.open(ctx)
	})
	return a.service, a.err
}

func (a *app) open(ctx context.Context) error {
	shutdown, err := telemetry.Setup(ctx, "pricetracker", a.config.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("failed to flush telemetry", "err", err)
		}
	})

	a.database, err = db.Open(ctx, a.config.Database.Url)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", a.config.Database.Url, err)
	}
	a.closers = append(a.closers, func() { a.database.Close() })

	clock, err := chrono.NewStandardImpl("")
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.NewDisabledNotifier(a.tel)
	if a.config.Smtp.Server != "" {
		smtpNotifier, err := notify.NewSmtpNotifier(a.tel, a.config.SmtpOptions())
		if err != nil {
			return fmt.Errorf("failed to setup smtp: %w", err)
		}
		notifier = smtpNotifier
	}

	a.service = tracker.NewService(
		a.tel,
		store.New(a.database, clock, a.tel),
		&lazyFetcher{config: a.config, tel: a.tel},
		extract.NewExtractor(a.tel, extract.DefaultSelectors()),
		notifier,
		clock,
		a.config.TrackerOptions(),
	)
	return nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// lazyFetcher only loads browser headers once something is actually fetched.
type lazyFetcher struct {
	config configutil.Config
	tel    telemetry.API

	once   sync.Once
	client *fetch.Client
}

func (f *lazyFetcher) Get(ctx context.Context, url string) fetch.Result {
	f.once.Do(func() {
		rnd := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
		var headers *fetch.HeaderPool
		if f.config.UseBrowserHeaders() {
			headers = fetch.LoadHeaderPool(ctx, f.tel, f.config.HeaderSourceOptions(), rnd)
		}
		opts := f.config.FetchOptions(headers)
		opts.Rand = rnd
		f.client = fetch.NewClient(f.tel, opts)
	})
	return f.client.Get(ctx, url)
}

func withTracker(cmd interface{ Context() context.Context }) (tracker.Service, error) {
	return current.Tracker(cmd.Context())
}
