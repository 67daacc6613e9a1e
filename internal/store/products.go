package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"pricetracker-backend/internal/product"
	"pricetracker-backend/internal/store/db"
)

const report_store_decode = "store.decode-product"

type PricePoint struct {
	Price     float64
	Timestamp time.Time
}

type UpsertResult struct {
	// Created is true on the first sighting of an item code.
	Created bool
	// Changed is true when the stored price moved by more than the tolerance,
	// it is never true for a newly created product.
	Changed  bool
	OldPrice float64
	NewPrice float64
}

type RecordResult struct {
	UpsertResult
	Triggered []PriceAlert
}

// Upsert inserts or updates a product and appends to its price history when
// the product is new or its price changed.
func (s *Store) Upsert(ctx context.Context, p product.Product) (UpsertResult, error) {
	var result UpsertResult
	err := s.inTx(ctx, func(qry *db.Queries) error {
		var err error
		result, err = s.upsert(ctx, qry, p)
		return err
	})
	return result, err
}

// Record upserts the product and, when its price changed, consumes the alerts
// the new price satisfies. Both steps share one transaction.
func (s *Store) Record(ctx context.Context, p product.Product) (RecordResult, error) {
	ctx, span := tracer.Start(ctx, "Record")
	defer span.End()
	span.SetAttributes(attribute.String("item_code", p.ItemCode))

	var result RecordResult
	err := s.inTx(ctx, func(qry *db.Queries) error {
		upserted, err := s.upsert(ctx, qry, p)
		if err != nil {
			return err
		}
		result.UpsertResult = upserted
		if !upserted.Changed {
			return nil
		}
		result.Triggered, err = s.consumeAlerts(ctx, qry, p.ItemCode, upserted.NewPrice)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record failed")
		return RecordResult{}, err
	}
	return result, nil
}

func (s *Store) upsert(ctx context.Context, qry *db.Queries, p product.Product) (UpsertResult, error) {
	err := p.Validate()
	if err != nil {
		return UpsertResult{}, fmt.Errorf("%w: %w", ErrInvalidProduct, err)
	}
	price := product.RoundPrice(p.Price)

	imageUrls, details, err := encodeProduct(p)
	if err != nil {
		return UpsertResult{}, err
	}

	now := toMillis(s.clock.Now())

	existing, err := qry.GetProduct(ctx, p.ItemCode)
	if errors.Is(err, sql.ErrNoRows) {
		err = qry.InsertProduct(ctx, db.InsertProductParams{
			ItemCode:  p.ItemCode,
			Name:      p.Name,
			Price:     price,
			Url:       p.Url,
			ImageUrls: imageUrls,
			Details:   details,
			CreatedAt: now,
		})
		if err != nil {
			return UpsertResult{}, err
		}
		err = qry.InsertPriceHistory(ctx, db.InsertPriceHistoryParams{
			ItemCode:  p.ItemCode,
			Price:     price,
			Timestamp: now,
		})
		if err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{Created: true, OldPrice: price, NewPrice: price}, nil
	}
	if err != nil {
		return UpsertResult{}, err
	}

	if !product.PriceChanged(existing.Price, price) {
		return UpsertResult{OldPrice: existing.Price, NewPrice: existing.Price}, nil
	}

	err = qry.UpdateProduct(ctx, db.UpdateProductParams{
		Name:      p.Name,
		Price:     price,
		Url:       p.Url,
		ImageUrls: imageUrls,
		Details:   details,
		UpdatedAt: sql.NullInt64{Int64: now, Valid: true},
		ItemCode:  p.ItemCode,
	})
	if err != nil {
		return UpsertResult{}, err
	}
	err = qry.InsertPriceHistory(ctx, db.InsertPriceHistoryParams{
		ItemCode:  p.ItemCode,
		Price:     price,
		Timestamp: now,
	})
	if err != nil {
		return UpsertResult{}, err
	}

	return UpsertResult{
		Changed:  true,
		OldPrice: existing.Price,
		NewPrice: price,
	}, nil
}

func (s *Store) GetProduct(ctx context.Context, itemCode string) (product.Product, error) {
	row, err := s.qry.GetProduct(ctx, itemCode)
	if err != nil {
		return product.Product{}, notFound(err, itemCode)
	}
	return s.decodeProduct(row), nil
}

// ListProducts returns every product, most recently changed first.
func (s *Store) ListProducts(ctx context.Context) ([]product.Product, error) {
	rows, err := s.qry.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]product.Product, len(rows))
	for i, row := range rows {
		out[i] = s.decodeProduct(row)
	}
	return out, nil
}

// GetPriceHistory returns observations in ascending time order.
func (s *Store) GetPriceHistory(ctx context.Context, itemCode string) ([]PricePoint, error) {
	rows, err := s.qry.GetPriceHistory(ctx, itemCode)
	if err != nil {
		return nil, err
	}
	out := make([]PricePoint, len(rows))
	for i, row := range rows {
		out[i] = PricePoint{Price: row.Price, Timestamp: fromMillis(row.Timestamp)}
	}
	return out, nil
}

func (s *Store) CountPriceHistory(ctx context.Context, itemCode string) (int64, error) {
	return s.qry.CountPriceHistory(ctx, itemCode)
}

func encodeProduct(p product.Product) (imageUrls, details string, err error) {
	images := p.ImageUrls
	if images == nil {
		images = []string{}
	}
	attributes := p.Attributes
	if attributes == nil {
		attributes = map[string]string{}
	}

	imagesJson, err := json.Marshal(images)
	if err != nil {
		return "", "", err
	}
	detailsJson, err := json.Marshal(attributes)
	if err != nil {
		return "", "", err
	}
	return string(imagesJson), string(detailsJson), nil
}

func (s *Store) decodeProduct(row db.Product) product.Product {
	p := product.Product{
		ItemCode:   row.ItemCode,
		Name:       row.Name,
		Price:      row.Price,
		Url:        row.Url,
		ImageUrls:  []string{},
		Attributes: map[string]string{},
		CreatedAt:  fromMillis(row.CreatedAt),
	}
	if row.UpdatedAt.Valid {
		updatedAt := fromMillis(row.UpdatedAt.Int64)
		p.UpdatedAt = &updatedAt
	}

	err := json.Unmarshal([]byte(row.ImageUrls), &p.ImageUrls)
	if err != nil {
		s.tel.ReportBroken(report_store_decode, row.ItemCode, "image_urls", err)
	}
	err = json.Unmarshal([]byte(row.Details), &p.Attributes)
	if err != nil {
		s.tel.ReportBroken(report_store_decode, row.ItemCode, "details", err)
	}
	return p
}
