package weightservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/burenotti/healthlog/internal/app/unitofwork"
	"github.com/burenotti/healthlog/internal/domain"
	"github.com/burenotti/healthlog/internal/domain/auth"
	"github.com/burenotti/healthlog/internal/domain/weight"
)

const ReindexBatchSize = 500

var (
	ErrSearchIndex = errors.New("search index failure")
)

// SearchIndex is the free-text mirror of the weights table.
type SearchIndex interface {
	Save(ctx context.Context, w *weight.Weight) error
	SaveMany(ctx context.Context, ws []*weight.Weight) error
	Delete(ctx context.Context, id int64) error
	Reset(ctx context.Context) error
	Search(ctx context.Context, query string, req domain.PageRequest) (domain.Page[*weight.Weight], error)
}

type UnitOfWork = unitofwork.UnitOfWork[*AtomicContext]

type Service struct {
	logger *slog.Logger
	index  SearchIndex
	now    func() time.Time
}

type Option func(*Service)

// Clock replaces time.Now as the source of the current time.
func Clock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(logger *slog.Logger, index SearchIndex, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		logger: logger,
		index:  index,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new weight and mirrors it into the search index.
// Non-admin callers always become the owner of what they create.
func (s *Service) Create(
	ctx context.Context,
	uow *UnitOfWork,
	caller auth.Caller,
	w *weight.Weight,
) (*weight.Weight, error) {
	s.logger.Debug("request to save weight", "weight", w.String(), "caller", caller.Login)
	if w.ID != 0 {
		return nil, weight.ErrIDExists
	}

	err := uow.Atomic(ctx, func(ctx *AtomicContext) error {
		if caller.IsAdmin() {
			if err := s.resolveOwner(ctx, w); err != nil {
				return err
			}
		} else if err := s.assignCaller(ctx, caller, w); err != nil {
			return err
		}

		if err := ctx.Weights.Add(ctx.Context(), w); err != nil {
			return err
		}

		return ctx.Commit()
	})
	if err != nil {
		return nil, err
	}

	if err := s.index.Save(ctx, w); err != nil {
		return nil, indexError(w.ID, err)
	}
	return w, nil
}

// Update replaces a stored weight with w. A weight without an id is created instead.
func (s *Service) Update(
	ctx context.Context,
	uow *UnitOfWork,
	caller auth.Caller,
	w *weight.Weight,
) (*weight.Weight, error) {
	s.logger.Debug("request to update weight", "weight", w.String(), "caller", caller.Login)
	if w.ID == 0 {
		return s.Create(ctx, uow, caller, w)
	}

	err := uow.Atomic(ctx, func(ctx *AtomicContext) error {
		if err := s.resolveOwner(ctx, w); err != nil {
			return err
		}

		if err := ctx.Weights.Persist(ctx.Context(), w); err != nil {
			return err
		}

		return ctx.Commit()
	})
	if err != nil {
		return nil, err
	}

	if err := s.index.Save(ctx, w); err != nil {
		return nil, indexError(w.ID, err)
	}
	return w, nil
}

// List returns a page of every weight for admins and of the caller's own weights otherwise.
func (s *Service) List(
	ctx context.Context,
	uow *UnitOfWork,
	caller auth.Caller,
	req domain.PageRequest,
) (page domain.Page[*weight.Weight], outErr error) {
	if err := req.CheckSort(weight.SortFields); err != nil {
		return page, err
	}

	filter := weight.Filter{}
	if !caller.IsAdmin() {
		filter.OwnerLogin = caller.Login
	}

	outErr = uow.Atomic(ctx, func(ctx *AtomicContext) error {
		var err error
		if page, err = ctx.Weights.List(ctx.Context(), filter, req); err != nil {
			return err
		}

		return ctx.Commit()
	})
	return
}

func (s *Service) Get(
	ctx context.Context,
	uow *UnitOfWork,
	id int64,
) (w *weight.Weight, outErr error) {
	outErr = uow.Atomic(ctx, func(ctx *AtomicContext) error {
		var err error
		if w, err = ctx.Weights.GetByID(ctx.Context(), id); err != nil {
			return err
		}

		return ctx.Commit()
	})
	return
}

// Delete removes the weight from both stores. Unknown ids are not an error.
func (s *Service) Delete(
	ctx context.Context,
	uow *UnitOfWork,
	id int64,
) error {
	s.logger.Debug("request to delete weight", "id", id)
	err := uow.Atomic(ctx, func(ctx *AtomicContext) error {
		if err := ctx.Weights.Delete(ctx.Context(), id); err != nil {
			return err
		}

		return ctx.Commit()
	})
	if err != nil {
		return err
	}

	if err := s.index.Delete(ctx, id); err != nil {
		return indexError(id, err)
	}
	return nil
}

// Search runs a free-text query against the search index.
func (s *Service) Search(
	ctx context.Context,
	query string,
	req domain.PageRequest,
) (domain.Page[*weight.Weight], error) {
	if err := req.CheckSort(weight.SortFields); err != nil {
		return domain.Page[*weight.Weight]{}, err
	}

	page, err := s.index.Search(ctx, query, req)
	if err != nil {
		return page, errors.Join(fmt.Errorf("search %q: %w", query, err), ErrSearchIndex)
	}
	return page, nil
}

// ReadingsInLastNDays returns the caller's weights measured within the last days days.
func (s *Service) ReadingsInLastNDays(
	ctx context.Context,
	uow *UnitOfWork,
	caller auth.Caller,
	days int,
) (result weight.ByPeriod, outErr error) {
	if days < 0 || days > weight.MaxPeriodDays {
		return result, fmt.Errorf("%w: %d", weight.ErrInvalidPeriod, days)
	}

	to := s.now().UTC()
	from := to.AddDate(0, 0, -days)

	outErr = uow.Atomic(ctx, func(ctx *AtomicContext) error {
		readings, err := ctx.Weights.ListBetween(ctx.Context(), caller.Login, from, to)
		if err != nil {
			return err
		}

		result = weight.ByPeriod{
			Label:    weight.PeriodLabel(days),
			Readings: readings,
		}
		return ctx.Commit()
	})
	return
}

// Reindex clears the search index and mirrors every stored weight into it again.
func (s *Service) Reindex(ctx context.Context, uow *UnitOfWork) (int, error) {
	if err := s.index.Reset(ctx); err != nil {
		return 0, errors.Join(fmt.Errorf("reset index: %w", err), ErrSearchIndex)
	}

	indexed := 0
	req := domain.PageRequest{
		Size: ReindexBatchSize,
		Sort: []domain.Order{{Field: "id"}},
	}
	for {
		var batch []*weight.Weight
		err := uow.Atomic(ctx, func(ctx *AtomicContext) error {
			page, err := ctx.Weights.List(ctx.Context(), weight.Filter{}, req)
			if err != nil {
				return err
			}
			batch = page.Items
			return ctx.Commit()
		})
		if err != nil {
			return indexed, err
		}

		if len(batch) > 0 {
			if err := s.index.SaveMany(ctx, batch); err != nil {
				return indexed, errors.Join(fmt.Errorf("reindex batch %d: %w", req.Page, err), ErrSearchIndex)
			}
		}
		indexed += len(batch)

		if len(batch) < req.Size {
			break
		}
		req.Page++
	}

	s.logger.Info("search index rebuilt", "indexed", indexed)
	return indexed, nil
}

// assignCaller makes the caller the owner of w.
func (s *Service) assignCaller(ctx *AtomicContext, caller auth.Caller, w *weight.Weight) error {
	u, err := ctx.Owners.GetByLogin(ctx.Context(), caller.Login)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return fmt.Errorf("%w: %s", weight.ErrOwnerNotFound, caller.Login)
		}
		return err
	}
	w.AssignOwner(u.UserID, u.Login)
	return nil
}

// resolveOwner checks the owner supplied with w, by login first and by id otherwise.
func (s *Service) resolveOwner(ctx *AtomicContext, w *weight.Weight) error {
	var (
		u   *auth.User
		err error
	)
	switch {
	case w.OwnerLogin != "":
		u, err = ctx.Owners.GetByLogin(ctx.Context(), w.OwnerLogin)
	case w.UserID != nil:
		u, err = ctx.Owners.GetByID(ctx.Context(), *w.UserID)
	default:
		w.ClearOwner()
		return nil
	}

	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return fmt.Errorf("%w: %s", weight.ErrOwnerNotFound, ownerRef(w))
		}
		return err
	}
	w.AssignOwner(u.UserID, u.Login)
	return nil
}

func ownerRef(w *weight.Weight) string {
	if w.OwnerLogin == "" && w.UserID != nil {
		return fmt.Sprintf("id %d", *w.UserID)
	}
	return w.OwnerLogin
}

func indexError(id int64, err error) error {
	return errors.Join(fmt.Errorf("mirror weight %d: %w", id, err), ErrSearchIndex)
}
