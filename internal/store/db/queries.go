package db

import (
	"context"
	"database/sql"
)

const getProduct = `-- name: GetProduct :one
select item_code, name, price, url, image_urls, details, created_at, updated_at from products where item_code = ?
`

func (q *Queries) GetProduct(ctx context.Context, itemCode string) (Product, error) {
	row := q.db.QueryRowContext(ctx, getProduct, itemCode)
	var i Product
	err := row.Scan(
		&i.ItemCode,
		&i.Name,
		&i.Price,
		&i.Url,
		&i.ImageUrls,
		&i.Details,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const insertProduct = `-- name: InsertProduct :exec
insert into products(item_code, name, price, url, image_urls, details, created_at, updated_at)
values (?, ?, ?, ?, ?, ?, ?, null)
`

type InsertProductParams struct {
	ItemCode  string
	Name      string
	Price     float64
	Url       string
	ImageUrls string
	Details   string
	CreatedAt int64
}

func (q *Queries) InsertProduct(ctx context.Context, arg InsertProductParams) error {
	_, err := q.db.ExecContext(ctx, insertProduct,
		arg.ItemCode,
		arg.Name,
		arg.Price,
		arg.Url,
		arg.ImageUrls,
		arg.Details,
		arg.CreatedAt,
	)
	return err
}

const updateProduct = `-- name: UpdateProduct :exec
update products set
    name = ?,
    price = ?,
    url = ?,
    image_urls = ?,
    details = ?,
    updated_at = ?
where item_code = ?
`

type UpdateProductParams struct {
	Name      string
	Price     float64
	Url       string
	ImageUrls string
	Details   string
	UpdatedAt sql.NullInt64
	ItemCode  string
}

func (q *Queries) UpdateProduct(ctx context.Context, arg UpdateProductParams) error {
	_, err := q.db.ExecContext(ctx, updateProduct,
		arg.Name,
		arg.Price,
		arg.Url,
		arg.ImageUrls,
		arg.Details,
		arg.UpdatedAt,
		arg.ItemCode,
	)
	return err
}

const listProducts = `-- name: ListProducts :many
select item_code, name, price, url, image_urls, details, created_at, updated_at from products
order by coalesce(updated_at, created_at) desc, item_code asc
`

func (q *Queries) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := q.db.QueryContext(ctx, listProducts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Product
	for rows.Next() {
		var i Product
		if err := rows.Scan(
			&i.ItemCode,
			&i.Name,
			&i.Price,
			&i.Url,
			&i.ImageUrls,
			&i.Details,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertPriceHistory = `-- name: InsertPriceHistory :exec
insert into price_history(item_code, price, timestamp) values (?, ?, ?)
`

type InsertPriceHistoryParams struct {
	ItemCode  string
	Price     float64
	Timestamp int64
}

func (q *Queries) InsertPriceHistory(ctx context.Context, arg InsertPriceHistoryParams) error {
	_, err := q.db.ExecContext(ctx, insertPriceHistory, arg.ItemCode, arg.Price, arg.Timestamp)
	return err
}

const getPriceHistory = `-- name: GetPriceHistory :many
select id, item_code, price, timestamp from price_history
where item_code = ?
order by timestamp asc, id asc
`

func (q *Queries) GetPriceHistory(ctx context.Context, itemCode string) ([]PriceHistory, error) {
	rows, err := q.db.QueryContext(ctx, getPriceHistory, itemCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PriceHistory
	for rows.Next() {
		var i PriceHistory
		if err := rows.Scan(
			&i.ID,
			&i.ItemCode,
			&i.Price,
			&i.Timestamp,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countPriceHistory = `-- name: CountPriceHistory :one
select count(*) from price_history where item_code = ?
`

func (q *Queries) CountPriceHistory(ctx context.Context, itemCode string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countPriceHistory, itemCode)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const getTrackedURL = `-- name: GetTrackedURL :one
select id, item_code, url, added_at, reactivated_at, active from tracked_urls where item_code = ?
`

func (q *Queries) GetTrackedURL(ctx context.Context, itemCode string) (TrackedUrl, error) {
	row := q.db.QueryRowContext(ctx, getTrackedURL, itemCode)
	var i TrackedUrl
	err := row.Scan(
		&i.ID,
		&i.ItemCode,
		&i.Url,
		&i.AddedAt,
		&i.ReactivatedAt,
		&i.Active,
	)
	return i, err
}

const insertTrackedURL = `-- name: InsertTrackedURL :exec
insert into tracked_urls(item_code, url, added_at, active) values (?, ?, ?, true)
`

type InsertTrackedURLParams struct {
	ItemCode string
	Url      string
	AddedAt  int64
}

func (q *Queries) InsertTrackedURL(ctx context.Context, arg InsertTrackedURLParams) error {
	_, err := q.db.ExecContext(ctx, insertTrackedURL, arg.ItemCode, arg.Url, arg.AddedAt)
	return err
}

const reactivateTrackedURL = `-- name: ReactivateTrackedURL :exec
update tracked_urls set active = true, url = ?, reactivated_at = ? where item_code = ?
`

type ReactivateTrackedURLParams struct {
	Url           string
	ReactivatedAt sql.NullInt64
	ItemCode      string
}

func (q *Queries) ReactivateTrackedURL(ctx context.Context, arg ReactivateTrackedURLParams) error {
	_, err := q.db.ExecContext(ctx, reactivateTrackedURL, arg.Url, arg.ReactivatedAt, arg.ItemCode)
	return err
}

const deactivateTrackedURL = `-- name: DeactivateTrackedURL :execrows
update tracked_urls set active = false where item_code = ? and active = true
`

func (q *Queries) DeactivateTrackedURL(ctx context.Context, itemCode string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deactivateTrackedURL, itemCode)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listActiveTrackedURLs = `-- name: ListActiveTrackedURLs :many
select id, item_code, url, added_at, reactivated_at, active from tracked_urls where active = true order by id asc
`

func (q *Queries) ListActiveTrackedURLs(ctx context.Context) ([]TrackedUrl, error) {
	rows, err := q.db.QueryContext(ctx, listActiveTrackedURLs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TrackedUrl
	for rows.Next() {
		var i TrackedUrl
		if err := rows.Scan(
			&i.ID,
			&i.ItemCode,
			&i.Url,
			&i.AddedAt,
			&i.ReactivatedAt,
			&i.Active,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertPriceAlert = `-- name: InsertPriceAlert :one
insert into price_alerts(item_code, email, target_price, created_at, active)
values (?, ?, ?, ?, true)
returning id
`

type InsertPriceAlertParams struct {
	ItemCode    string
	Email       string
	TargetPrice float64
	CreatedAt   int64
}

func (q *Queries) InsertPriceAlert(ctx context.Context, arg InsertPriceAlertParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, insertPriceAlert,
		arg.ItemCode,
		arg.Email,
		arg.TargetPrice,
		arg.CreatedAt,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const listMetPriceAlerts = `-- name: ListMetPriceAlerts :many
select id, item_code, email, target_price, created_at, active from price_alerts
where item_code = ? and active = true and target_price >= ?
order by id asc
`

type ListMetPriceAlertsParams struct {
	ItemCode string
	Price    float64
}

func (q *Queries) ListMetPriceAlerts(ctx context.Context, arg ListMetPriceAlertsParams) ([]PriceAlert, error) {
	rows, err := q.db.QueryContext(ctx, listMetPriceAlerts, arg.ItemCode, arg.Price)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PriceAlert
	for rows.Next() {
		var i PriceAlert
		if err := rows.Scan(
			&i.ID,
			&i.ItemCode,
			&i.Email,
			&i.TargetPrice,
			&i.CreatedAt,
			&i.Active,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deactivatePriceAlert = `-- name: DeactivatePriceAlert :exec
update price_alerts set active = false where id = ?
`

func (q *Queries) DeactivatePriceAlert(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deactivatePriceAlert, id)
	return err
}

const listActivePriceAlerts = `-- name: ListActivePriceAlerts :many
select
    price_alerts.id, price_alerts.item_code, price_alerts.email,
    price_alerts.target_price, price_alerts.created_at,
    products.name, products.price
from price_alerts
inner join products on products.item_code = price_alerts.item_code
where price_alerts.active = true
order by price_alerts.created_at asc, price_alerts.id asc
`

type ListActivePriceAlertsRow struct {
	ID          int64
	ItemCode    string
	Email       string
	TargetPrice float64
	CreatedAt   int64
	Name        string
	Price       float64
}

func (q *Queries) ListActivePriceAlerts(ctx context.Context) ([]ListActivePriceAlertsRow, error) {
	rows, err := q.db.QueryContext(ctx, listActivePriceAlerts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListActivePriceAlertsRow
	for rows.Next() {
		var i ListActivePriceAlertsRow
		if err := rows.Scan(
			&i.ID,
			&i.ItemCode,
			&i.Email,
			&i.TargetPrice,
			&i.CreatedAt,
			&i.Name,
			&i.Price,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deletePriceAlerts = `-- name: DeletePriceAlerts :execrows
delete from price_alerts where item_code = ?
`

func (q *Queries) DeletePriceAlerts(ctx context.Context, itemCode string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deletePriceAlerts, itemCode)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
