package users

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
}

// TxRepository writes a user and its profile together.
type TxRepository interface {
	InsertUser(ctx context.Context, u User, passwordHash string) (User, error)
	InsertProfile(ctx context.Context, userID int64, p Profile) error
}

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
	cost int
	now  func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, cost: bcrypt.DefaultCost, now: time.Now}
}

// WithHashCost overrides the bcrypt cost, e.g. bcrypt.MinCost in tests.
func (s *Service) WithHashCost(cost int) {
	s.cost = cost
}

// CreateUser hashes the password and stores the user with its profile in one
// transaction.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	name := strings.TrimSpace(input.Name)
	if email == "" || name == "" {
		return User{}, shared.Validation("users: email and name required")
	}
	if len(input.Password) < minPasswordLength {
		return User{}, ErrWeakPassword
	}
	if !input.Role.Valid() {
		return User{}, ErrInvalidRole
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	profile := Profile{Role: input.Role, Department: input.Department, Phone: input.Phone}
	var user User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		u, err := tx.InsertUser(ctx, User{Email: email, Name: name, IsActive: true, CreatedAt: now, UpdatedAt: now}, string(hash))
		if err != nil {
			return err
		}
		if err := tx.InsertProfile(ctx, u.ID, profile); err != nil {
			return err
		}
		u.Profile = &profile
		user = u
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser returns one user with its profile.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}
