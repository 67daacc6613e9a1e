package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"pricetracker-backend/internal/product"
	"pricetracker-backend/internal/store"
	"pricetracker-backend/internal/textutil"
)

var (
	ErrInvalidURL      = fmt.Errorf("invalid product url")
	ErrInvalidEmail    = fmt.Errorf("invalid email address")
	ErrInvalidTarget   = fmt.Errorf("invalid target price")
	ErrInvalidInterval = fmt.Errorf("invalid interval")
	ErrProductNotFound = fmt.Errorf("product not found")
)

// ResolveItemCode accepts either a product url of the tracked site or a bare
// item code.
func ResolveItemCode(urlOrCode string) (string, error) {
	trimmed := strings.TrimSpace(urlOrCode)
	if code, ok := textutil.NormalizeItemCode(trimmed); ok {
		return code, nil
	}
	parsed, err := textutil.ParseURL(trimmed)
	if err != nil || !textutil.IsValidSourceURL(parsed.String()) {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, urlOrCode)
	}
	code, ok := textutil.ExtractItemCode(parsed.String())
	if !ok {
		return "", fmt.Errorf("%w: no item code in %q", ErrInvalidURL, urlOrCode)
	}
	return code, nil
}

type AddURLResult struct {
	ItemCode string
	Url      string
	Outcome  store.AddURLOutcome
}

// AddURL validates a product url and tracks its canonical form.
func (s Service) AddURL(ctx context.Context, rawUrl string) (AddURLResult, error) {
	parsed, err := textutil.ParseURL(rawUrl)
	if err != nil || !textutil.IsValidSourceURL(parsed.String()) {
		return AddURLResult{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawUrl)
	}
	code, ok := textutil.ExtractItemCode(parsed.String())
	if !ok {
		return AddURLResult{}, fmt.Errorf("%w: no item code in %q", ErrInvalidURL, rawUrl)
	}

	canonical := textutil.CanonicalURL(code)
	outcome, err := s.store.AddTrackedURL(ctx, code, canonical)
	if err != nil {
		return AddURLResult{}, err
	}
	return AddURLResult{ItemCode: code, Url: canonical, Outcome: outcome}, nil
}

// RemoveURL stops tracking a url or item code, its history is kept.
func (s Service) RemoveURL(ctx context.Context, urlOrCode string) (string, error) {
	code, err := ResolveItemCode(urlOrCode)
	if err != nil {
		return "", err
	}
	return code, s.store.DeactivateTrackedURL(ctx, code)
}

func (s Service) ListURLs(ctx context.Context) ([]store.TrackedURL, error) {
	return s.store.ListActiveTrackedURLs(ctx)
}

type AddAlertResult struct {
	Alert   store.PriceAlert
	Product product.Product
	// AlreadyMet is set when the current price is already at or below the
	// target, the alert fires on the next price change.
	AlreadyMet bool
}

func (s Service) AddAlert(ctx context.Context, urlOrCode, email string, targetPrice float64) (AddAlertResult, error) {
	code, err := ResolveItemCode(urlOrCode)
	if err != nil {
		return AddAlertResult{}, err
	}
	email = strings.TrimSpace(email)
	if !textutil.IsValidEmail(email) {
		return AddAlertResult{}, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	if math.IsNaN(targetPrice) || math.IsInf(targetPrice, 0) || targetPrice <= 0 {
		return AddAlertResult{}, fmt.Errorf("%w: %v", ErrInvalidTarget, targetPrice)
	}
	targetPrice = product.RoundPrice(targetPrice)

	p, err := s.store.GetProduct(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return AddAlertResult{}, fmt.Errorf("%w: %s, run a scrape first", ErrProductNotFound, code)
	}
	if err != nil {
		return AddAlertResult{}, err
	}

	alert, err := s.store.AddAlert(ctx, code, email, targetPrice)
	if errors.Is(err, store.ErrNotFound) {
		return AddAlertResult{}, fmt.Errorf("%w: %s", ErrProductNotFound, code)
	}
	if err != nil {
		return AddAlertResult{}, err
	}

	return AddAlertResult{
		Alert:      alert,
		Product:    p,
		AlreadyMet: targetPrice >= p.Price,
	}, nil
}

func (s Service) ListAlerts(ctx context.Context) ([]store.ActiveAlert, error) {
	return s.store.ListActiveAlerts(ctx)
}

func (s Service) DeleteAlerts(ctx context.Context, urlOrCode string) (string, int64, error) {
	code, err := ResolveItemCode(urlOrCode)
	if err != nil {
		return "", 0, err
	}
	deleted, err := s.store.DeleteAlerts(ctx, code)
	return code, deleted, err
}

type ProductSummary struct {
	product.Product
	Observations int64
}

// ListProducts returns every stored product, most recently changed first,
// with the size of its price history.
func (s Service) ListProducts(ctx context.Context) ([]ProductSummary, error) {
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProductSummary, len(products))
	for i, p := range products {
		count, err := s.store.CountPriceHistory(ctx, p.ItemCode)
		if err != nil {
			return nil, err
		}
		out[i] = ProductSummary{Product: p, Observations: count}
	}
	return out, nil
}

func (s Service) PriceHistory(ctx context.Context, urlOrCode string) (product.Product, []store.PricePoint, error) {
	code, err := ResolveItemCode(urlOrCode)
	if err != nil {
		return product.Product{}, nil, err
	}
	p, err := s.store.GetProduct(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return product.Product{}, nil, fmt.Errorf("%w: %s", ErrProductNotFound, code)
	}
	if err != nil {
		return product.Product{}, nil, err
	}
	history, err := s.store.GetPriceHistory(ctx, code)
	return p, history, err
}

// SendSnapshot mails the stored state of a product to recipient.
func (s Service) SendSnapshot(ctx context.Context, urlOrCode, recipient string) error {
	code, err := ResolveItemCode(urlOrCode)
	if err != nil {
		return err
	}
	recipient = strings.TrimSpace(recipient)
	if !textutil.IsValidEmail(recipient) {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, recipient)
	}
	p, err := s.store.GetProduct(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrProductNotFound, code)
	}
	if err != nil {
		return err
	}
	if !s.notifier.SendProductSnapshot(ctx, recipient, p) {
		return fmt.Errorf("failed to send snapshot of %s to %s", code, recipient)
	}
	return nil
}
