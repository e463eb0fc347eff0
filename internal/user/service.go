package user

import (
	"context"
	"strings"

	"github.com/MrJamesThe3rd/ledger/internal/apperr"
)

//go:generate mockgen -source=service.go -destination=repository_mock.go -package=user
type Repository interface {
	CreateUser(ctx context.Context, u *User) error
	// GetUser returns apperr.ErrUserNotFound when no user has the id.
	GetUser(ctx context.Context, id int64) (*User, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, name string) (*User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "name is required")
	}

	u := &User{Name: name}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, apperr.Infra("creating user", err)
	}

	return u, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, apperr.Infra("getting user", err)
	}

	return u, nil
}
