package repository

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"parkeaya/internal/db"
)

const userColumns = `id, email, name, phone, password_hash, roles, state, created_at`

func scanUser(row interface{ Scan(...any) error }) (*db.User, error) {
	var u db.User
	var state string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.PasswordHash, pq.Array(&u.Roles), &state, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.State = db.UserState(state)
	return &u, nil
}

func (r *queries) GetUser(ctx context.Context, id int64) (*db.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

func (r *queries) GetUserByEmail(ctx context.Context, email string) (*db.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return nil, notFound(err, "user", email)
	}
	return u, nil
}

// CreateUser hashes password and inserts a user. It is used by the
// seeding command, the services never create users.
func (s *PostgresStore) CreateUser(ctx context.Context, u *db.User, password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if u.State == "" {
		u.State = db.UserActive
	}
	query := `INSERT INTO users (email, name, phone, password_hash, roles, state)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`
	err = s.DB.QueryRowContext(ctx, query, u.Email, u.Name, u.Phone, string(hashedPassword), pq.Array(u.Roles), string(u.State)).
		Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.Email, ErrDuplicate)
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}
