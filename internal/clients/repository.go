package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for clients.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const clientColumns = `
	id, name, email, phone, address_line1, address_line2, city, postal_code,
	country, siret, notes, is_active, created_at, updated_at`

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	var email, phone, addr1, addr2, city, postalCode, siret, notes pgtype.Text

	err := row.Scan(
		&c.ID, &c.Name, &email, &phone, &addr1, &addr2, &city, &postalCode,
		&c.Country, &siret, &notes, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	assign := func(dst **string, src pgtype.Text) {
		if src.Valid {
			v := src.String
			*dst = &v
		}
	}
	assign(&c.Email, email)
	assign(&c.Phone, phone)
	assign(&c.AddressLine1, addr1)
	assign(&c.AddressLine2, addr2)
	assign(&c.City, city)
	assign(&c.PostalCode, postalCode)
	assign(&c.SIRET, siret)
	assign(&c.Notes, notes)
	return &c, nil
}

// Get retrieves a client by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`
	c, err := scanClient(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// List returns a filtered, paginated client list.
func (r *Repository) List(ctx context.Context, req ListClientsRequest) ([]Client, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	argn := 1
	if req.IsActive != nil {
		where += fmt.Sprintf(" AND is_active = $%d", argn)
		args = append(args, *req.IsActive)
		argn++
	}
	if req.Search != nil && *req.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR email ILIKE $%d)", argn, argn)
		args = append(args, "%"+*req.Search+"%")
		argn++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM clients"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + clientColumns + ` FROM clients` + where +
		fmt.Sprintf(" ORDER BY name LIMIT $%d OFFSET $%d", argn, argn+1)
	args = append(args, limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

// Create inserts a client.
func (r *Repository) Create(ctx context.Context, c Client) (int64, error) {
	query := `
		INSERT INTO clients (
			name, email, phone, address_line1, address_line2, city, postal_code,
			country, siret, notes, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		c.Name, c.Email, c.Phone, c.AddressLine1, c.AddressLine2, c.City,
		c.PostalCode, c.Country, c.SIRET, c.Notes, c.IsActive,
	).Scan(&id)
	return id, err
}

// Update applies a partial update.
func (r *Repository) Update(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	set := "updated_at = NOW()"
	args := []any{id}
	argn := 2
	for col, val := range updates {
		set += fmt.Sprintf(", %s = $%d", col, argn)
		args = append(args, val)
		argn++
	}
	query := fmt.Sprintf("UPDATE clients SET %s WHERE id = $1", set)
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
