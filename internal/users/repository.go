// Package users resolves the customer and caller identities the order core
// depends on. Account management lives elsewhere.
package users

import (
	"context"
	"database/sql"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindByID returns nil, nil when the user does not exist.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	user := &domain.User{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, email, role
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Username, &user.Email, &user.Role)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return user, nil
}
