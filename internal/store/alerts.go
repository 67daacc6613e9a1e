package store

import (
	"context"
	"time"

	"pricetracker-backend/internal/store/db"
)

type PriceAlert struct {
	ID          int64
	ItemCode    string
	Email       string
	TargetPrice float64
	CreatedAt   time.Time
	Active      bool
}

// ActiveAlert is an active alert joined with the product it watches.
type ActiveAlert struct {
	PriceAlert
	ProductName  string
	CurrentPrice float64
}

// Met reports whether the current price has already reached the target.
func (a ActiveAlert) Met() bool {
	return a.TargetPrice >= a.CurrentPrice
}

// AddAlert creates an active alert, the product must already be stored.
func (s *Store) AddAlert(ctx context.Context, itemCode, email string, targetPrice float64) (PriceAlert, error) {
	var alert PriceAlert
	err := s.inTx(ctx, func(qry *db.Queries) error {
		_, err := qry.GetProduct(ctx, itemCode)
		if err != nil {
			return notFound(err, itemCode)
		}

		now := s.clock.Now()
		id, err := qry.InsertPriceAlert(ctx, db.InsertPriceAlertParams{
			ItemCode:    itemCode,
			Email:       email,
			TargetPrice: targetPrice,
			CreatedAt:   toMillis(now),
		})
		if err != nil {
			return err
		}
		alert = PriceAlert{
			ID:          id,
			ItemCode:    itemCode,
			Email:       email,
			TargetPrice: targetPrice,
			CreatedAt:   fromMillis(toMillis(now)),
			Active:      true,
		}
		return nil
	})
	return alert, err
}

// EvaluateAndConsumeAlerts returns the active alerts for itemCode whose target
// is at or above currentPrice and deactivates them in the same transaction, so
// each alert is returned at most once.
func (s *Store) EvaluateAndConsumeAlerts(ctx context.Context, itemCode string, currentPrice float64) ([]PriceAlert, error) {
	var triggered []PriceAlert
	err := s.inTx(ctx, func(qry *db.Queries) error {
		var err error
		triggered, err = s.consumeAlerts(ctx, qry, itemCode, currentPrice)
		return err
	})
	return triggered, err
}

func (s *Store) consumeAlerts(ctx context.Context, qry *db.Queries, itemCode string, currentPrice float64) ([]PriceAlert, error) {
	rows, err := qry.ListMetPriceAlerts(ctx, db.ListMetPriceAlertsParams{
		ItemCode: itemCode,
		Price:    currentPrice,
	})
	if err != nil {
		return nil, err
	}

	triggered := make([]PriceAlert, 0, len(rows))
	for _, row := range rows {
		err = qry.DeactivatePriceAlert(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		alert := alertFromRow(row)
		alert.Active = false
		triggered = append(triggered, alert)
	}
	return triggered, nil
}

func (s *Store) ListActiveAlerts(ctx context.Context) ([]ActiveAlert, error) {
	rows, err := s.qry.ListActivePriceAlerts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ActiveAlert, len(rows))
	for i, row := range rows {
		out[i] = ActiveAlert{
			PriceAlert: PriceAlert{
				ID:          row.ID,
				ItemCode:    row.ItemCode,
				Email:       row.Email,
				TargetPrice: row.TargetPrice,
				CreatedAt:   fromMillis(row.CreatedAt),
				Active:      true,
			},
			ProductName:  row.Name,
			CurrentPrice: row.Price,
		}
	}
	return out, nil
}

// DeleteAlerts removes every alert for itemCode whatever its state and returns
// how many were removed.
func (s *Store) DeleteAlerts(ctx context.Context, itemCode string) (int64, error) {
	var deleted int64
	err := s.inTx(ctx, func(qry *db.Queries) error {
		var err error
		deleted, err = qry.DeletePriceAlerts(ctx, itemCode)
		return err
	})
	return deleted, err
}

func alertFromRow(row db.PriceAlert) PriceAlert {
	return PriceAlert{
		ID:          row.ID,
		ItemCode:    row.ItemCode,
		Email:       row.Email,
		TargetPrice: row.TargetPrice,
		CreatedAt:   fromMillis(row.CreatedAt),
		Active:      row.Active,
	}
}
