package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"julianmorley.ca/con-plar/storefront/pkg/models"
)

// Store implements the cart store over database/sql. Every cart statement
// carries a user_id predicate, so one user's calls never see another's rows.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const productColumns = `p.id, p.name, COALESCE(p.description, ''), p.price, p.retailer_name, p.is_verified,
	COALESCE(p.main_image_url, ''), p.additional_image_urls, p.available_sizes, COALESCE(p.return_policy, ''), p.created_at`

func productDest(p *models.Product) []any {
	return []any{
		&p.ID, &p.Name, &p.Description, &p.Price, &p.RetailerName, &p.IsVerified,
		&p.MainImageURL, pq.Array(&p.AdditionalImageURLs), pq.Array(&p.AvailableSizes), &p.ReturnPolicy, &p.CreatedAt,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) GetProduct(ctx context.Context, productID string) (models.Product, error) {
	var p models.Product
	err := s.db.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products p WHERE p.id = $1", productID).
		Scan(productDest(&p)...)
	if err != nil {
		return models.Product{}, mapErr("get product", err)
	}
	return p, nil
}

// likeEscaper makes a search term match literally inside ILIKE.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (s *Store) ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	filter = filter.Normalize()

	var where []string
	var args []any
	if filter.MinPrice != nil {
		args = append(args, *filter.MinPrice)
		where = append(where, fmt.Sprintf("p.price >= $%d", len(args)))
	}
	if filter.MaxPrice != nil {
		args = append(args, *filter.MaxPrice)
		where = append(where, fmt.Sprintf("p.price <= $%d", len(args)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+likeEscaper.Replace(q)+"%")
		where = append(where, fmt.Sprintf(`p.name ILIKE $%d ESCAPE '\'`, len(args)))
	}

	query := "SELECT " + productColumns + " FROM products p"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY p.created_at DESC, p.id LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("list products", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(productDest(&p)...); err != nil {
			return nil, mapErr("scan product", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list products", err)
	}
	return products, nil
}

func (s *Store) ListCartLines(ctx context.Context, userID string) ([]models.CartLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT up.id, up.user_id, up.product_id, up.quantity, up.status, up.purchase_date, up.created_at,
			`+productColumns+`
		FROM user_products up
		JOIN products p ON p.id = up.product_id
		WHERE up.user_id = $1 AND up.status = 'in_cart'
		ORDER BY up.created_at, up.id`, userID)
	if err != nil {
		return nil, mapErr("list cart lines", err)
	}
	defer rows.Close()

	var lines []models.CartLine
	for rows.Next() {
		var l models.CartLine
		var purchased sql.NullTime
		dest := append([]any{
			&l.ID, &l.UserID, &l.ProductID, &l.Quantity, &l.Status, &purchased, &l.CreatedAt,
		}, productDest(&l.Product)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, mapErr("scan cart line", err)
		}
		if purchased.Valid {
			t := purchased.Time
			l.PurchaseDate = &t
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list cart lines", err)
	}
	return lines, nil
}

func (s *Store) CountInCart(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_products WHERE user_id = $1 AND status = 'in_cart'", userID).
		Scan(&n)
	if err != nil {
		return 0, mapErr("count cart lines", err)
	}
	return n, nil
}

const upsertOverwrite = `
	INSERT INTO user_products (user_id, product_id, quantity, status)
	VALUES ($1, $2, 1, 'in_cart')
	ON CONFLICT (user_id, product_id) WHERE status = 'in_cart' DO UPDATE SET
		quantity = 1
	RETURNING id, user_id, product_id, quantity, status, created_at`

const upsertIncrement = `
	INSERT INTO user_products (user_id, product_id, quantity, status)
	VALUES ($1, $2, 1, 'in_cart')
	ON CONFLICT (user_id, product_id) WHERE status = 'in_cart' DO UPDATE SET
		quantity = user_products.quantity + 1
	RETURNING id, user_id, product_id, quantity, status, created_at`

// UpsertCartLine adds productID to the user's cart. The partial unique index
// keeps a single in_cart row per product; policy decides the conflict update.
func (s *Store) UpsertCartLine(ctx context.Context, userID, productID string, policy models.AddPolicy) (models.CartLineItem, error) {
	query := upsertOverwrite
	if policy == models.AddIncrement {
		query = upsertIncrement
	}

	var item models.CartLineItem
	err := s.db.QueryRowContext(ctx, query, userID, productID).
		Scan(&item.ID, &item.UserID, &item.ProductID, &item.Quantity, &item.Status, &item.CreatedAt)
	if err != nil {
		return models.CartLineItem{}, mapErr("upsert cart line", err)
	}
	return item, nil
}

func (s *Store) UpdateQuantity(ctx context.Context, userID, lineID string, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE user_products SET quantity = $3 WHERE id = $1 AND user_id = $2 AND status = 'in_cart'",
		lineID, userID, quantity)
	return affectedOne("update quantity", res, err)
}

func (s *Store) DeleteLine(ctx context.Context, userID, lineID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM user_products WHERE id = $1 AND user_id = $2 AND status = 'in_cart'",
		lineID, userID)
	return affectedOne("delete cart line", res, err)
}

// MarkPurchased moves every in_cart row of the user to purchased in a single
// statement and reports how many rows moved.
func (s *Store) MarkPurchased(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE user_products SET status = 'purchased', purchase_date = $2 WHERE user_id = $1 AND status = 'in_cart'",
		userID, at.UTC())
	if err != nil {
		return 0, mapErr("mark purchased", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapErr("mark purchased", err)
	}
	return n, nil
}

func affectedOne(op string, res sql.Result, err error) error {
	if err != nil {
		return mapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}
