package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/money"
	ppostgres "github.com/homebitez/api/internal/platform/postgres"
	"github.com/homebitez/api/internal/repositories"
)

const productColumns = `id, name, name_key, price::text, stock, updated_at`

// ProductRepository manages the menu and its stock levels.
type ProductRepository struct {
	db    *ppostgres.DB
	clock func() time.Time
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Postgres-backed product repository.
func NewProductRepository(db *ppostgres.DB, clock func() time.Time) (*ProductRepository, error) {
	if db == nil {
		return nil, errors.New("product repository requires postgres db")
	}
	if clock == nil {
		clock = time.Now
	}
	return &ProductRepository{db: db, clock: func() time.Time { return clock().UTC() }}, nil
}

// List returns all products ordered by name.
func (r *ProductRepository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name ASC`)
	if err != nil {
		return nil, ppostgres.WrapError("products.list", err)
	}
	defer rows.Close()
	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, ppostgres.WrapError("products.list", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("products.list", err)
	}
	return products, nil
}

// FindByID loads a product by id.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	product, err := scanProduct(r.db.Conn(ctx).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID))
	if err != nil {
		return domain.Product{}, ppostgres.WrapError("products.find", err)
	}
	return product, nil
}

// FindByNameKey loads a product by its normalized name.
func (r *ProductRepository) FindByNameKey(ctx context.Context, nameKey string) (domain.Product, error) {
	product, err := scanProduct(r.db.Conn(ctx).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE name_key = $1`, nameKey))
	if err != nil {
		return domain.Product{}, ppostgres.WrapError("products.find_by_name", err)
	}
	return product, nil
}

// SetStock overwrites the stock level.
func (r *ProductRepository) SetStock(ctx context.Context, productID string, stock int) (domain.Product, error) {
	if stock < 0 {
		return domain.Product{}, errors.New("product repository: stock must not be negative")
	}
	row := r.db.Conn(ctx).QueryRow(ctx, `
		UPDATE products SET stock = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+productColumns, productID, stock, r.clock())
	product, err := scanProduct(row)
	if err != nil {
		return domain.Product{}, ppostgres.WrapError("products.set_stock", err)
	}
	return product, nil
}

// DecrementStockByName lowers stock by quantity with a floor of zero. It reports whether a
// product matched.
func (r *ProductRepository) DecrementStockByName(ctx context.Context, nameKey string, quantity int) (bool, error) {
	nameKey = strings.TrimSpace(nameKey)
	if nameKey == "" || quantity <= 0 {
		return false, nil
	}
	tag, err := r.db.Conn(ctx).Exec(ctx, `
		UPDATE products SET stock = GREATEST(stock - $2, 0), updated_at = $3
		WHERE name_key = $1`, nameKey, quantity, r.clock())
	if err != nil {
		return false, ppostgres.WrapError("products.decrement_stock", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var (
		product domain.Product
		price   string
	)
	if err := row.Scan(&product.ID, &product.Name, &product.NameKey, &price, &product.Stock, &product.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	product.Price = money.NormalizeOrZero(price)
	product.UpdatedAt = product.UpdatedAt.UTC()
	return product, nil
}
