// Package postgres is the pgx backed orders.Store.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"print-order-service/internal/orders"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Conf struct {
	db *pgxpool.Pool
}

func NewConf(db *pgxpool.Pool) (*Conf, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Conf{db: db}, nil
}

var _ orders.Store = (*Conf)(nil)

// Open creates a pool and waits until the database answers a ping.
func Open(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Numeric columns are read as text so decimal.Decimal keeps its exact value.
const orderColumns = `id, user_id, type, total_price::text, currency, status, payment_session_ref,
	refund_amount::text, refund_ref, printful_order_id, created_at`

const itemColumns = `id, order_id, type, title, image_url, template_id, size, frame, quantity, price::text, created_at`

func (c *Conf) InsertOrder(ctx context.Context, o orders.Order) (orders.Order, error) {
	query := `
		INSERT INTO orders (id, user_id, type, total_price, currency, status, payment_session_ref, printful_order_id,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $9)
		RETURNING ` + orderColumns

	var typ *string
	if o.Type != nil {
		s := string(*o.Type)
		typ = &s
	}
	row := c.db.QueryRow(ctx, query, o.ID, o.UserID, typ, o.TotalPrice.String(), o.Currency,
		string(o.Status), o.PaymentSessionRef, o.PrintfulOrderID, o.CreatedAt)
	created, err := scanOrder(row)
	if err != nil {
		return orders.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return created, nil
}

// InsertItems writes every item with a single multi-row INSERT.
func (c *Conf) InsertItems(ctx context.Context, items []orders.OrderItem) ([]orders.OrderItem, error) {
	if len(items) == 0 {
		return []orders.OrderItem{}, nil
	}

	const perRow = 11
	values := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*perRow)
	for i, it := range items {
		n := i * perRow
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d::numeric, $%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8, n+9, n+10, n+11))
		args = append(args, it.ID, it.OrderID, it.Type, it.Title, it.ImageURL, it.TemplateID,
			it.Size, it.Frame, it.Quantity, it.Price.String(), it.CreatedAt)
	}

	query := `
		INSERT INTO order_items (id, order_id, type, title, image_url, template_id, size, frame, quantity, price, created_at)
		VALUES ` + strings.Join(values, ", ") + `
		RETURNING ` + itemColumns

	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert order items: %w", err)
	}
	out, err := collectItems(rows)
	if err != nil {
		return nil, fmt.Errorf("insert order items: %w", err)
	}
	return out, nil
}

func (c *Conf) DeleteOrder(ctx context.Context, id string) error {
	if _, err := c.db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

func (c *Conf) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	row := c.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.Order{}, fmt.Errorf("order %s: %w", id, orders.ErrNotFound)
		}
		return orders.Order{}, fmt.Errorf("select order: %w", err)
	}
	list, err := c.attachItems(ctx, []orders.Order{o})
	if err != nil {
		return orders.Order{}, err
	}
	return list[0], nil
}

func (c *Conf) ListOrdersByUser(ctx context.Context, userID string, offset, limit int) ([]orders.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		OFFSET $2 LIMIT $3`

	rows, err := c.db.Query(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	list, err := collectOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	return c.attachItems(ctx, list)
}

func (c *Conf) UpdateOrder(ctx context.Context, id string, p orders.Patch) (orders.Order, error) {
	set, args := patchClauses(p)
	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	where, args = onlyFrom(where, args, p.OnlyFrom)

	query := `UPDATE orders SET ` + set + ` WHERE ` + where + ` RETURNING ` + orderColumns
	o, err := scanOrder(c.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.Order{}, fmt.Errorf("order %s: %w", id, orders.ErrNotFound)
		}
		return orders.Order{}, fmt.Errorf("update order: %w", err)
	}
	list, err := c.attachItems(ctx, []orders.Order{o})
	if err != nil {
		return orders.Order{}, err
	}
	return list[0], nil
}

func (c *Conf) UpdateOrdersByPaymentRef(ctx context.Context, ref string, p orders.Patch) ([]orders.Order, error) {
	set, args := patchClauses(p)
	args = append(args, ref)
	where := fmt.Sprintf("payment_session_ref = $%d", len(args))
	where, args = onlyFrom(where, args, p.OnlyFrom)

	rows, err := c.db.Query(ctx, `UPDATE orders SET `+set+` WHERE `+where+` RETURNING `+orderColumns, args...)
	if err != nil {
		return nil, fmt.Errorf("update orders by payment ref: %w", err)
	}
	list, err := collectOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("update orders by payment ref: %w", err)
	}
	return c.attachItems(ctx, list)
}

func (c *Conf) ListItems(ctx context.Context, f orders.ItemFilter, offset, limit int) ([]orders.OrderItem, error) {
	var (
		conds []string
		args  []any
	)
	if f.OrderID != "" {
		args = append(args, f.OrderID)
		conds = append(conds, fmt.Sprintf("order_id = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}

	query := `SELECT ` + itemColumns + ` FROM order_items`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, offset, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id OFFSET $%d LIMIT $%d`, len(args)-1, len(args))

	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	out, err := collectItems(rows)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	return out, nil
}

func (c *Conf) UpdateItem(ctx context.Context, id string, p orders.ItemPatch) (orders.OrderItem, error) {
	var (
		set  []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if v, ok := p.Type.Get(); ok {
		add("type", v)
	}
	if v, ok := p.Title.Get(); ok {
		add("title", v)
	}
	if v, ok := p.ImageURL.Get(); ok {
		add("image_url", v)
	}
	if v, ok := p.TemplateID.Get(); ok {
		add("template_id", v)
	}
	if v, ok := p.Size.Get(); ok {
		add("size", v)
	}
	if v, ok := p.Frame.Get(); ok {
		add("frame", v)
	}
	if v, ok := p.Quantity.Get(); ok {
		add("quantity", v)
	}
	if v, ok := p.Price.Get(); ok {
		args = append(args, v.String())
		set = append(set, fmt.Sprintf("price = $%d::numeric", len(args)))
	}
	if len(set) == 0 {
		return orders.OrderItem{}, fmt.Errorf("%w: empty item update", orders.ErrValidation)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE order_items SET %s WHERE id = $%d RETURNING %s`, strings.Join(set, ", "), len(args), itemColumns)
	it, err := scanItem(c.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.OrderItem{}, fmt.Errorf("order item %s: %w", id, orders.ErrNotFound)
		}
		return orders.OrderItem{}, fmt.Errorf("update order item: %w", err)
	}
	return it, nil
}

func (c *Conf) DeleteItem(ctx context.Context, id string) error {
	tag, err := c.db.Exec(ctx, `DELETE FROM order_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order item %s: %w", id, orders.ErrNotFound)
	}
	return nil
}

// attachItems loads the items of every order in list with one query.
func (c *Conf) attachItems(ctx context.Context, list []orders.Order) ([]orders.Order, error) {
	if len(list) == 0 {
		return []orders.Order{}, nil
	}
	ids := make([]string, len(list))
	for i, o := range list {
		ids[i] = o.ID
	}

	rows, err := c.db.Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}

	byOrder := make(map[string][]orders.OrderItem, len(list))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	for i := range list {
		list[i].Items = byOrder[list[i].ID]
		if list[i].Items == nil {
			list[i].Items = []orders.OrderItem{}
		}
	}
	return list, nil
}

// patchClauses renders the SET list for p. The returned args are numbered from $1.
func patchClauses(p orders.Patch) (string, []any) {
	set := []string{"updated_at = NOW()"}
	var args []any
	if v, ok := p.Status.Get(); ok {
		args = append(args, string(v))
		set = append(set, fmt.Sprintf("status = $%d", len(args)))
	}
	if v, ok := p.PaymentSessionRef.Get(); ok {
		args = append(args, v)
		set = append(set, fmt.Sprintf("payment_session_ref = $%d", len(args)))
	}
	if v, ok := p.RefundAmount.Get(); ok {
		args = append(args, v.String())
		set = append(set, fmt.Sprintf("refund_amount = $%d::numeric", len(args)))
	}
	if v, ok := p.RefundRef.Get(); ok {
		args = append(args, v)
		set = append(set, fmt.Sprintf("refund_ref = $%d", len(args)))
	}
	return strings.Join(set, ", "), args
}

func onlyFrom(where string, args []any, from []orders.Status) (string, []any) {
	if len(from) == 0 {
		return where, args
	}
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	args = append(args, statuses)
	return where + fmt.Sprintf(" AND status = ANY($%d)", len(args)), args
}

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o      orders.Order
		typ    *string
		total  string
		status string
		refund *string
	)
	if err := row.Scan(&o.ID, &o.UserID, &typ, &total, &o.Currency, &status, &o.PaymentSessionRef,
		&refund, &o.RefundRef, &o.PrintfulOrderID, &o.CreatedAt); err != nil {
		return orders.Order{}, err
	}
	if typ != nil {
		t := orders.OrderType(*typ)
		o.Type = &t
	}
	o.Status = orders.Status(status)

	var err error
	if o.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return orders.Order{}, fmt.Errorf("parse total_price: %w", err)
	}
	if refund != nil {
		d, err := decimal.NewFromString(*refund)
		if err != nil {
			return orders.Order{}, fmt.Errorf("parse refund_amount: %w", err)
		}
		o.RefundAmount = &d
	}
	return o, nil
}

func scanItem(row pgx.Row) (orders.OrderItem, error) {
	var (
		it    orders.OrderItem
		price string
	)
	if err := row.Scan(&it.ID, &it.OrderID, &it.Type, &it.Title, &it.ImageURL, &it.TemplateID,
		&it.Size, &it.Frame, &it.Quantity, &price, &it.CreatedAt); err != nil {
		return orders.OrderItem{}, err
	}
	var err error
	if it.Price, err = decimal.NewFromString(price); err != nil {
		return orders.OrderItem{}, fmt.Errorf("parse price: %w", err)
	}
	return it, nil
}

func collectOrders(rows pgx.Rows) ([]orders.Order, error) {
	defer rows.Close()
	out := []orders.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func collectItems(rows pgx.Rows) ([]orders.OrderItem, error) {
	defer rows.Close()
	out := []orders.OrderItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
