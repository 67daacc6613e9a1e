package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"pricetracker-backend/internal/components/assert"
	"pricetracker-backend/internal/components/chrono"
	"pricetracker-backend/internal/components/telemetry"
	"pricetracker-backend/internal/store/db"
)

var tracer = otel.Tracer("pricetracker-backend/internal/store")

var (
	ErrNotFound       = fmt.Errorf("not found")
	ErrInvalidProduct = fmt.Errorf("invalid product")
)

// Store persists products, their price history, tracked urls and alerts.
// Every write goes through a single mutex so the read-compare-write sequence
// of an upsert and the alert evaluation that follows can never interleave.
type Store struct {
	db     *sql.DB
	qry    *db.Queries
	makeTx db.MakeTx
	clock  chrono.API
	tel    telemetry.API

	writeLock sync.Mutex
}

func New(database *sql.DB, clock chrono.API, tel telemetry.API) *Store {
	assert.NotNil(database)
	assert.NotNil(clock)
	assert.NotNil(tel)

	return &Store{
		db:     database,
		qry:    db.New(database),
		makeTx: db.NewMakeTx(database),
		clock:  clock,
		tel:    tel,
	}
}

// inTx runs fn in a transaction while holding the write lock, fn's error rolls
// the transaction back.
func (s *Store) inTx(ctx context.Context, fn func(qry *db.Queries) error) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	tx, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		return err
	}
	defer discard()

	err = fn(tx)
	if err != nil {
		return err
	}
	return commit()
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
