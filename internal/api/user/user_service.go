package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/messagely/messagely-server/internal/types"
)

var _ UserService = (*UserServiceImpl)(nil)

type UserService interface {
	GetUser(ctx context.Context, username string) (*types.User, error)
	ListUsers(ctx context.Context) ([]types.UserSummary, error)
}

type UserServiceImpl struct {
	logger *slog.Logger
	repo   UserRepo
}

func NewUserService(repo UserRepo, logger *slog.Logger) *UserServiceImpl {
	return &UserServiceImpl{
		logger: logger,
		repo:   repo,
	}
}

func (s *UserServiceImpl) GetUser(ctx context.Context, username string) (*types.User, error) {
	user, err := s.repo.GetUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *UserServiceImpl) ListUsers(ctx context.Context) ([]types.UserSummary, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}
