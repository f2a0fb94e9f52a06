package authapp

import (
	"context"
	"errors"
	"fmt"

	"github.com/burenotti/healthlog/internal/adapter/storage"
	"github.com/burenotti/healthlog/internal/adapter/storage/userstorage"
	"github.com/burenotti/healthlog/internal/domain"
	"github.com/burenotti/healthlog/internal/domain/auth"
)

type UserStorage interface {
	Add(ctx context.Context, u *auth.User) error
	GetByLogin(ctx context.Context, login string) (*auth.User, error)
	GetByID(ctx context.Context, userID int64) (*auth.User, error)
	GetByAuthSecret(ctx context.Context, secret string) (*auth.User, error)
	Persist(ctx context.Context, u *auth.User) error
	CollectEvents() []domain.Event
	Close() error
}

type AtomicContext struct {
	ctx   context.Context
	db    storage.DBContext
	Users UserStorage
}

func (a *AtomicContext) Context() context.Context {
	return a.ctx
}

func (a *AtomicContext) Commit() error {
	return a.db.Commit()
}

func (a *AtomicContext) Close() (err error) {
	if closeErr := a.Users.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}

	if err != nil {
		err = errors.Join(fmt.Errorf("failed to close storage"), err)
	}

	return err
}

func (a *AtomicContext) CollectEvents() []domain.Event {
	return a.Users.CollectEvents()
}

func NewAtomicContext(ctx context.Context, dbContext storage.DBContext) (*AtomicContext, error) {
	return &AtomicContext{
		ctx:   ctx,
		db:    dbContext,
		Users: userstorage.NewPostgresStorage(dbContext, nil),
	}, nil
}

// NewAtomicContextWith builds atomic contexts over users instead of postgres.
func NewAtomicContextWith(users UserStorage) func(context.Context, storage.DBContext) (*AtomicContext, error) {
	return func(ctx context.Context, dbContext storage.DBContext) (*AtomicContext, error) {
		return &AtomicContext{
			ctx:   ctx,
			db:    dbContext,
			Users: users,
		}, nil
	}
}
