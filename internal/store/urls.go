package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pricetracker-backend/internal/store/db"
)

type TrackedURL struct {
	ID       int64
	ItemCode string
	Url      string
	// AddedAt is when the item code was first tracked, reactivation keeps it.
	AddedAt       time.Time
	ReactivatedAt *time.Time
	Active        bool
}

type AddURLOutcome int

const (
	URLCreated AddURLOutcome = iota
	URLReactivated
	URLAlreadyActive
)

func (o AddURLOutcome) String() string {
	switch o {
	case URLCreated:
		return "created"
	case URLReactivated:
		return "reactivated"
	case URLAlreadyActive:
		return "already active"
	}
	return "unknown"
}

// AddTrackedURL tracks itemCode, reactivating it when it was removed before.
// There is at most one row per item code.
func (s *Store) AddTrackedURL(ctx context.Context, itemCode, url string) (AddURLOutcome, error) {
	var outcome AddURLOutcome
	err := s.inTx(ctx, func(qry *db.Queries) error {
		now := toMillis(s.clock.Now())

		existing, err := qry.GetTrackedURL(ctx, itemCode)
		if errors.Is(err, sql.ErrNoRows) {
			outcome = URLCreated
			return qry.InsertTrackedURL(ctx, db.InsertTrackedURLParams{
				ItemCode: itemCode,
				Url:      url,
				AddedAt:  now,
			})
		}
		if err != nil {
			return err
		}
		if existing.Active {
			outcome = URLAlreadyActive
			return nil
		}

		outcome = URLReactivated
		return qry.ReactivateTrackedURL(ctx, db.ReactivateTrackedURLParams{
			Url:           url,
			ReactivatedAt: sql.NullInt64{Int64: now, Valid: true},
			ItemCode:      itemCode,
		})
	})
	return outcome, err
}

// DeactivateTrackedURL stops tracking itemCode, its history is kept. Returns
// ErrNotFound when there was no active row.
func (s *Store) DeactivateTrackedURL(ctx context.Context, itemCode string) error {
	return s.inTx(ctx, func(qry *db.Queries) error {
		affected, err := qry.DeactivateTrackedURL(ctx, itemCode)
		if err != nil {
			return err
		}
		if affected == 0 {
			return notFound(sql.ErrNoRows, itemCode)
		}
		return nil
	})
}

func (s *Store) GetTrackedURL(ctx context.Context, itemCode string) (TrackedURL, error) {
	row, err := s.qry.GetTrackedURL(ctx, itemCode)
	if err != nil {
		return TrackedURL{}, notFound(err, itemCode)
	}
	return trackedFromRow(row), nil
}

// ListActiveTrackedURLs returns active rows in the order they were added.
func (s *Store) ListActiveTrackedURLs(ctx context.Context) ([]TrackedURL, error) {
	rows, err := s.qry.ListActiveTrackedURLs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TrackedURL, len(rows))
	for i, row := range rows {
		out[i] = trackedFromRow(row)
	}
	return out, nil
}

func trackedFromRow(row db.TrackedUrl) TrackedURL {
	tracked := TrackedURL{
		ID:       row.ID,
		ItemCode: row.ItemCode,
		Url:      row.Url,
		AddedAt:  fromMillis(row.AddedAt),
		Active:   row.Active,
	}
	if row.ReactivatedAt.Valid {
		reactivatedAt := fromMillis(row.ReactivatedAt.Int64)
		tracked.ReactivatedAt = &reactivatedAt
	}
	return tracked
}

// ReactivateTrackedURL resumes tracking an item code that was removed before.
func (s *Store) ReactivateTrackedURL(ctx context.Context, itemCode string) error {
	return s.inTx(ctx, func(qry *db.Queries) error {
		existing, err := qry.GetTrackedURL(ctx, itemCode)
		if err != nil {
			return notFound(err, itemCode)
		}
		if existing.Active {
			return nil
		}
		return qry.ReactivateTrackedURL(ctx, db.ReactivateTrackedURLParams{
			Url:           existing.Url,
			ReactivatedAt: sql.NullInt64{Int64: toMillis(s.clock.Now()), Valid: true},
			ItemCode:      itemCode,
		})
	})
}
