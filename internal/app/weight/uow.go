package weightservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/burenotti/healthlog/internal/adapter/storage"
	"github.com/burenotti/healthlog/internal/adapter/storage/userstorage"
	"github.com/burenotti/healthlog/internal/adapter/storage/weightstorage"
	"github.com/burenotti/healthlog/internal/domain"
	"github.com/burenotti/healthlog/internal/domain/auth"
	"github.com/burenotti/healthlog/internal/domain/weight"
)

type WeightStorage interface {
	Add(ctx context.Context, w *weight.Weight) error
	Persist(ctx context.Context, w *weight.Weight) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*weight.Weight, error)
	List(ctx context.Context, filter weight.Filter, req domain.PageRequest) (domain.Page[*weight.Weight], error)
	ListBetween(ctx context.Context, login string, from, to time.Time) ([]*weight.Weight, error)
	CollectEvents() []domain.Event
	Close() error
}

// OwnerStorage resolves the users a weight can belong to.
type OwnerStorage interface {
	GetByLogin(ctx context.Context, login string) (*auth.User, error)
	GetByID(ctx context.Context, userID int64) (*auth.User, error)
}

type AtomicContext struct {
	ctx     context.Context
	db      storage.DBContext
	Weights WeightStorage
	Owners  OwnerStorage
}

func (a *AtomicContext) Context() context.Context {
	return a.ctx
}

func (a *AtomicContext) Commit() error {
	return a.db.Commit()
}

func (a *AtomicContext) Close() (err error) {
	if closeErr := a.Weights.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}

	if err != nil {
		err = errors.Join(fmt.Errorf("failed to close storage"), err)
	}

	return err
}

func (a *AtomicContext) CollectEvents() []domain.Event {
	return a.Weights.CollectEvents()
}

func NewAtomicContext(ctx context.Context, dbContext storage.DBContext) (*AtomicContext, error) {
	return &AtomicContext{
		ctx:     ctx,
		db:      dbContext,
		Weights: weightstorage.NewPostgresStorage(dbContext),
		Owners:  userstorage.NewPostgresStorage(dbContext, nil),
	}, nil
}

// NewAtomicContextWith builds atomic contexts over the given storages instead of postgres.
func NewAtomicContextWith(
	weights WeightStorage,
	owners OwnerStorage,
) func(context.Context, storage.DBContext) (*AtomicContext, error) {
	return func(ctx context.Context, dbContext storage.DBContext) (*AtomicContext, error) {
		return &AtomicContext{
			ctx:     ctx,
			db:      dbContext,
			Weights: weights,
			Owners:  owners,
		}, nil
	}
}
