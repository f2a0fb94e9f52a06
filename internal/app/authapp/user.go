package authapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/burenotti/healthlog/internal/app/unitofwork"
	"github.com/burenotti/healthlog/internal/domain/auth"
)

var (
	ErrInvalidAuthorization = errors.New("invalid authorization")
)

type UnitOfWork = unitofwork.UnitOfWork[*AtomicContext]

type Service struct {
	logger     *slog.Logger
	Authorizer *Authorizer
}

func NewService(auth *Authorizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:     logger,
		Authorizer: auth,
	}
}

func (s *Service) CreateUser(
	ctx context.Context,
	uow *UnitOfWork,
	login string,
	password string,
	authorities ...string,
) (u *auth.User, err error) {
	err = uow.Atomic(ctx, func(ctx *AtomicContext) error {
		u = auth.NewUser(login, password, authorities, s.Authorizer)
		if err := ctx.Users.Add(ctx.Context(), u); err != nil {
			return err
		}

		return ctx.Commit()
	})
	return
}

// EnsureAdmin creates the administrator account unless a user with that login exists.
func (s *Service) EnsureAdmin(
	ctx context.Context,
	uow *UnitOfWork,
	login string,
	password string,
) error {
	_, err := s.CreateUser(ctx, uow, login, password, auth.RoleAdmin, auth.RoleUser)
	if errors.Is(err, auth.ErrUserExists) {
		s.logger.Debug("admin account already exists", "login", login)
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("admin account created", "login", login)
	return nil
}

func (s *Service) Login(
	ctx context.Context,
	uow *UnitOfWork,
	device auth.Device,
	login string,
	password string,
) (tokens Tokens, err error) {
	err = uow.Atomic(ctx, func(ctx *AtomicContext) error {
		u, err := ctx.Users.GetByLogin(ctx.Context(), login)
		if errors.Is(err, auth.ErrUserNotFound) {
			return auth.ErrInvalidCredentials
		}
		if err != nil {
			return err
		}

		a, err := u.Authorize(s.Authorizer, password, device)
		if err != nil {
			return err
		}

		accessToken, err := s.Authorizer.GenerateAccessToken(u, a)
		if err != nil {
			return err
		}

		if err := ctx.Users.Persist(ctx.Context(), u); err != nil {
			return err
		}

		tokens = Tokens{
			AccessToken:  accessToken,
			RefreshToken: a.Secret,
		}
		return ctx.Commit()
	})
	return
}

func (s *Service) Logout(
	ctx context.Context,
	uow *UnitOfWork,
	userID int64,
	authID string,
) error {
	return uow.Atomic(ctx, func(ctx *AtomicContext) error {
		u, err := ctx.Users.GetByID(ctx.Context(), userID)
		if err != nil {
			return err
		}

		if err := u.Logout(authID); err != nil {
			return err
		}

		if err := ctx.Users.Persist(ctx.Context(), u); err != nil {
			return err
		}

		return ctx.Commit()
	})
}

// Refresh issues a new access token for an active authorization identified by its secret.
func (s *Service) Refresh(
	ctx context.Context,
	uow *UnitOfWork,
	secret string,
) (tokens Tokens, err error) {
	err = uow.Atomic(ctx, func(ctx *AtomicContext) error {
		u, err := ctx.Users.GetByAuthSecret(ctx.Context(), secret)
		if errors.Is(err, auth.ErrUserNotFound) {
			return fmt.Errorf("%w: unknown refresh token", ErrInvalidAuthorization)
		}
		if err != nil {
			return err
		}

		a := u.GetAuthBySecret(secret)
		if a == nil || !a.IsActive() {
			return fmt.Errorf("%w: authorization is not active", ErrInvalidAuthorization)
		}

		tokens.AccessToken, err = s.Authorizer.GenerateAccessToken(u, a)
		if err != nil {
			return err
		}
		tokens.RefreshToken = a.Secret
		return ctx.Commit()
	})
	return
}

type Tokens struct {
	AccessToken  string
	RefreshToken string
}
