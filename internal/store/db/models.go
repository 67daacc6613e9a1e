package db

import (
	"database/sql"
)

type Product struct {
	ItemCode  string
	Name      string
	Price     float64
	Url       string
	ImageUrls string
	Details   string
	CreatedAt int64
	UpdatedAt sql.NullInt64
}

type PriceHistory struct {
	ID        int64
	ItemCode  string
	Price     float64
	Timestamp int64
}

type TrackedUrl struct {
	ID            int64
	ItemCode      string
	Url           string
	AddedAt       int64
	ReactivatedAt sql.NullInt64
	Active        bool
}

type PriceAlert struct {
	ID          int64
	ItemCode    string
	Email       string
	TargetPrice float64
	CreatedAt   int64
	Active      bool
}
