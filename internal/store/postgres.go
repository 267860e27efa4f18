package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/pkg/models"
)

type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewPostgresStore(db *sql.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// OpenPostgres connects and waits for the database to accept connections.
func OpenPostgres(ctx context.Context, dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for i := 0; i < 30; i++ {
		if err = db.PingContext(ctx); err == nil {
			logger.Info("Database connection established")
			return NewPostgresStore(db, logger), nil
		}
		logger.Info("Waiting for database...")
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	db.Close()
	return nil, fmt.Errorf("database not reachable: %w", err)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS locations (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			address VARCHAR(500) NOT NULL,
			phone VARCHAR(50),
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(255) PRIMARY KEY,
			location_id VARCHAR(255) NOT NULL,
			customer_name VARCHAR(255) NOT NULL,
			customer_phone VARCHAR(50) NOT NULL,
			customer_address VARCHAR(500),
			type VARCHAR(20) NOT NULL,
			status VARCHAR(50) NOT NULL,
			cancel_reason TEXT,
			total_cents BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(255) NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			product_id VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			qty INTEGER NOT NULL CHECK (qty > 0),
			price_cents BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			price_cents BIGINT NOT NULL,
			category VARCHAR(100) NOT NULL,
			image_url TEXT,
			inventory_count BIGINT CHECK (inventory_count >= 0),
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS catering_contacts (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL,
			phone VARCHAR(50),
			message TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const insertOrderQuery = `
	INSERT INTO orders (id, location_id, customer_name, customer_phone, customer_address,
		type, status, total_cents, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const insertItemQuery = `
	INSERT INTO order_items (order_id, product_id, name, qty, price_cents)
	VALUES ($1, $2, $3, $4, $5)
`

func insertOrder(ctx context.Context, ex execer, order *models.Order) error {
	_, err := ex.ExecContext(ctx, insertOrderQuery,
		order.ID, order.LocationID, order.CustomerName, order.CustomerPhone,
		nullString(order.CustomerAddress), string(order.Type), string(order.Status),
		order.TotalCents, order.CreatedAt, order.UpdatedAt)
	return err
}

func insertItems(ctx context.Context, ex execer, orderID string, items []models.OrderItem) error {
	for _, item := range items {
		if _, err := ex.ExecContext(ctx, insertItemQuery,
			orderID, item.ProductID, item.Name, item.Qty, item.PriceCents); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) InsertOrder(ctx context.Context, order *models.Order) error {
	return insertOrder(ctx, s.db, order)
}

func (s *PostgresStore) InsertItems(ctx context.Context, orderID string, items []models.OrderItem) error {
	return insertItems(ctx, s.db, orderID, items)
}

// CreateOrderWithItems writes the order and its items in one transaction.
func (s *PostgresStore) CreateOrderWithItems(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertOrder(ctx, tx, order); err != nil {
		return err
	}
	if err := insertItems(ctx, tx, order.ID, order.Items); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) DeleteOrder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const selectOrderColumns = `
	SELECT o.id, o.location_id, COALESCE(l.name, ''), o.customer_name, o.customer_phone,
		o.customer_address, o.type, o.status, o.cancel_reason, o.total_cents,
		o.created_at, o.updated_at
	FROM orders o LEFT JOIN locations l ON l.id = o.location_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var address, reason sql.NullString
	var orderType, status string
	err := row.Scan(
		&order.ID, &order.LocationID, &order.LocationName, &order.CustomerName,
		&order.CustomerPhone, &address, &orderType, &status, &reason,
		&order.TotalCents, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	order.CustomerAddress = address.String
	order.CancelReason = reason.String
	order.Type = models.OrderType(orderType)
	order.Status = models.Status(status)
	return order, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, selectOrderColumns+` WHERE o.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if order.Items, err = s.getItems(ctx, id); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *PostgresStore) getItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, name, qty, price_cents
		FROM order_items WHERE order_id = $1 ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name, &item.Qty, &item.PriceCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListOrders(ctx context.Context, filter OrderFilter) ([]*models.Order, error) {
	query := selectOrderColumns
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" WHERE o.status = $%d", len(args))
	}
	query += " ORDER BY o.created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, order)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, order := range orders {
		if order.Items, err = s.getItems(ctx, order.ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id string, update StatusUpdate) (*models.Order, error) {
	query := `UPDATE orders SET status = $2, cancel_reason = $3, updated_at = $4 WHERE id = $1`
	args := []any{id, string(update.Status), nullString(update.CancelReason), time.Now().UTC()}
	if update.Expected != nil {
		query += ` AND status = $5`
		args = append(args, string(*update.Expected))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if err := requireRow(res); err != nil {
		if update.Expected == nil {
			return nil, err
		}
		// Zero rows under a condition: either gone or changed underneath us.
		if _, getErr := s.GetOrder(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	return s.GetOrder(ctx, id)
}

const selectProductColumns = `
	SELECT id, name, description, price_cents, category, image_url, inventory_count,
		created_at, updated_at
	FROM products
`

func scanProduct(row rowScanner) (*models.Product, error) {
	p := &models.Product{}
	var description, imageURL sql.NullString
	var count sql.NullInt64
	err := row.Scan(&p.ID, &p.Name, &description, &p.PriceCents, &p.Category,
		&imageURL, &count, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Description = description.String
	p.ImageURL = imageURL.String
	var column *int64
	if count.Valid {
		column = &count.Int64
	}
	if p.Inventory, err = models.InventoryFromCount(column); err != nil {
		return nil, fmt.Errorf("product %s: %w", p.ID, err)
	}
	return p, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, filter ProductFilter) ([]*models.Product, error) {
	var where []string
	var args []any
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Grocery != nil {
		args = append(args, models.GroceriesCategory)
		op := "="
		if !*filter.Grocery {
			op = "<>"
		}
		where = append(where, fmt.Sprintf("category %s $%d", op, len(args)))
	}
	query := selectProductColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY LOWER(name)"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, selectProductColumns+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) InsertProduct(ctx context.Context, p *models.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, price_cents, category, image_url,
			inventory_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.Name, nullString(p.Description), p.PriceCents, p.Category,
		nullString(p.ImageURL), p.Inventory.Column(), p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, p *models.Product) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET name = $2, description = $3, price_cents = $4, category = $5,
			image_url = $6, inventory_count = $7, updated_at = $8
		WHERE id = $1
	`, p.ID, p.Name, nullString(p.Description), p.PriceCents, p.Category,
		nullString(p.ImageURL), p.Inventory.Column(), p.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateInventory(ctx context.Context, id string, inventory models.Inventory) (*models.Product, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET inventory_count = $2, updated_at = $3 WHERE id = $1`,
		id, inventory.Column(), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, id)
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) ListLocations(ctx context.Context) ([]models.Location, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, address, COALESCE(phone, ''), lat, lng FROM locations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []models.Location
	for rows.Next() {
		var loc models.Location
		if err := rows.Scan(&loc.ID, &loc.Name, &loc.Address, &loc.Phone, &loc.Lat, &loc.Lng); err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

func (s *PostgresStore) GetLocation(ctx context.Context, id string) (*models.Location, error) {
	var loc models.Location
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, address, COALESCE(phone, ''), lat, lng FROM locations WHERE id = $1`, id,
	).Scan(&loc.ID, &loc.Name, &loc.Address, &loc.Phone, &loc.Lat, &loc.Lng)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (s *PostgresStore) InsertContact(ctx context.Context, c *models.Contact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catering_contacts (id, name, email, phone, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Name, c.Email, nullString(c.Phone), c.Message, c.CreatedAt)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
