package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/db"
	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn inside one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListUsers returns all users.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, email, name, is_active, created_at, updated_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser loads a user joined with its profile.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	var user User
	var role, department, phone *string
	err := r.pool.QueryRow(ctx, `SELECT u.id, u.email, u.name, u.is_active, u.created_at, u.updated_at, p.role, p.department, p.phone
FROM users u LEFT JOIN user_profiles p ON p.user_id = u.id WHERE u.id = $1`, id).
		Scan(&user.ID, &user.Email, &user.Name, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &role, &department, &phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	if role != nil {
		user.Profile = &Profile{Role: Role(*role), Department: deref(department), Phone: deref(phone)}
	}
	return user, nil
}

func (r *txRepository) InsertUser(ctx context.Context, u User, passwordHash string) (User, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO users (email, name, password_hash, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5) RETURNING id`, u.Email, u.Name, passwordHash, u.IsActive, u.CreatedAt).Scan(&u.ID)
	if shared.IsUniqueViolation(err) {
		return User{}, ErrDuplicateEmail
	}
	return u, err
}

func (r *txRepository) InsertProfile(ctx context.Context, userID int64, p Profile) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO user_profiles (user_id, role, department, phone) VALUES ($1, $2, $3, $4)`,
		userID, string(p.Role), p.Department, p.Phone)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
