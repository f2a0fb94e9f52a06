package weightstorage

import (
	"context"
	"database/sql"
	"time"

	"github.com/burenotti/healthlog/internal/adapter/storage"
	"github.com/burenotti/healthlog/internal/adapter/storage/pgutil"
	"github.com/burenotti/healthlog/internal/domain"
	"github.com/burenotti/healthlog/internal/domain/weight"
	"github.com/leporo/sqlf"
)

const constraintOwner = "weights_user_id_fkey"

var defaultOrder = []string{"w.date_time DESC", "w.id DESC"}

type PostgresStorage struct {
	base *pgutil.BasePostgresStorage
}

func NewPostgresStorage(db storage.DBContext) *PostgresStorage {
	return &PostgresStorage{
		base: pgutil.NewBasePostgresStorage(db),
	}
}

func (s *PostgresStorage) Add(ctx context.Context, w *weight.Weight) error {
	var id int64
	if err := insertStmt(w, &id).QueryRowAndClose(ctx, s.base.DB); err != nil {
		if pgutil.ViolatesConstraint(err, constraintOwner) {
			return weight.ErrOwnerNotFound
		}
		return storage.InternalError(err)
	}

	w.MarkCreated(id)
	s.base.MarkSeen(w)
	return nil
}

// Persist overwrites every column of an existing row.
func (s *PostgresStorage) Persist(ctx context.Context, w *weight.Weight) error {
	res, err := updateStmt(w).ExecAndClose(ctx, s.base.DB)
	if pgutil.ViolatesConstraint(err, constraintOwner) {
		return weight.ErrOwnerNotFound
	}
	if err := pgutil.AssertUpdated(res, err, weight.ErrWeightNotFound); err != nil {
		return err
	}

	w.MarkUpdated()
	s.base.MarkSeen(w)
	return nil
}

func (s *PostgresStorage) Delete(ctx context.Context, id int64) error {
	res, err := sqlf.DeleteFrom("weights").Where("id = ?", id).ExecAndClose(ctx, s.base.DB)
	if err != nil {
		return storage.InternalError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.base.Record(weight.NewDeletedEvent(id))
	}
	return nil
}

func (s *PostgresStorage) get(
	ctx context.Context,
	modify func(stmt *sqlf.Stmt),
) ([]*weight.Weight, error) {
	var tmp weightRow

	q := selectWeights(&tmp)
	modify(q)

	var result []*weight.Weight
	err := q.QueryAndClose(ctx, s.base.DB, func(rows *sql.Rows) {
		result = append(result, tmp.toDomain())
	})
	if err != nil {
		return nil, storage.InternalError(err)
	}
	return result, nil
}

func (s *PostgresStorage) GetByID(ctx context.Context, id int64) (*weight.Weight, error) {
	result, err := s.get(ctx, func(stmt *sqlf.Stmt) {
		stmt.Where("w.id = ?", id)
	})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, weight.ErrWeightNotFound
	}
	return result[0], nil
}

func (s *PostgresStorage) List(
	ctx context.Context,
	filter weight.Filter,
	req domain.PageRequest,
) (domain.Page[*weight.Weight], error) {
	page := domain.Page[*weight.Weight]{Page: req.Page, Size: req.Size}

	if err := countStmt(filter, &page.Total).QueryRowAndClose(ctx, s.base.DB); err != nil {
		return page, storage.InternalError(err)
	}

	items, err := s.get(ctx, func(stmt *sqlf.Stmt) {
		listPage(stmt, filter, req)
	})
	if err != nil {
		return page, err
	}
	page.Items = items
	return page, nil
}

// ListBetween returns the owner's readings in [from, to], newest first.
func (s *PostgresStorage) ListBetween(ctx context.Context, login string, from, to time.Time) ([]*weight.Weight, error) {
	return s.get(ctx, func(stmt *sqlf.Stmt) {
		between(stmt, login, from, to)
	})
}

func (s *PostgresStorage) CollectEvents() []domain.Event {
	return s.base.CollectEvents()
}

func (s *PostgresStorage) Close() error {
	s.base.Close()
	return nil
}

type weightRow struct {
	ID       int64
	DateTime time.Time
	Value    float64
	UserID   *int64
	Login    *string
}

func (r *weightRow) toDomain() *weight.Weight {
	w := &weight.Weight{
		ID:       r.ID,
		DateTime: r.DateTime.UTC(),
		Value:    r.Value,
	}
	if r.UserID != nil {
		login := ""
		if r.Login != nil {
			login = *r.Login
		}
		w.AssignOwner(*r.UserID, login)
	}
	return w
}

func insertStmt(w *weight.Weight, id *int64) *sqlf.Stmt {
	return sqlf.InsertInto("weights").
		Set("date_time", w.DateTime).
		Set("value", w.Value).
		Set("user_id", w.UserID).
		Returning("id").To(id)
}

func updateStmt(w *weight.Weight) *sqlf.Stmt {
	return sqlf.Update("weights").
		Set("date_time", w.DateTime).
		Set("value", w.Value).
		Set("user_id", w.UserID).
		Where("id = ?", w.ID)
}

func selectWeights(tmp *weightRow) *sqlf.Stmt {
	return sqlf.From("weights w").
		LeftJoin("users u", "u.user_id = w.user_id").
		Select("w.id").To(&tmp.ID).
		Select("w.date_time").To(&tmp.DateTime).
		Select("w.value").To(&tmp.Value).
		Select("w.user_id").To(&tmp.UserID).
		Select("u.login").To(&tmp.Login)
}

func countStmt(filter weight.Filter, total *int64) *sqlf.Stmt {
	stmt := sqlf.From("weights w").
		LeftJoin("users u", "u.user_id = w.user_id").
		Select("COUNT(*)").To(total)
	filterOwner(stmt, filter)
	return stmt
}

// filterOwner narrows stmt to the owner's readings. An empty login keeps every row.
func filterOwner(stmt *sqlf.Stmt, filter weight.Filter) {
	if filter.OwnerLogin != "" {
		stmt.Where("u.login = ?", filter.OwnerLogin)
	}
}

// listPage applies the owner filter, the requested order (newest first by default) and the page window.
func listPage(stmt *sqlf.Stmt, filter weight.Filter, req domain.PageRequest) *sqlf.Stmt {
	filterOwner(stmt, filter)
	return pgutil.Paginate(stmt, req, weight.SortFields, defaultOrder...)
}

func between(stmt *sqlf.Stmt, login string, from, to time.Time) {
	stmt.Where("u.login = ?", login).
		Where("w.date_time BETWEEN ? AND ?", from.UTC(), to.UTC()).
		OrderBy(defaultOrder...)
}
