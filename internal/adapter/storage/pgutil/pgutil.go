package pgutil

import (
	"database/sql"
	"errors"
	"sync"

	"github.com/burenotti/healthlog/internal/adapter/storage"
	"github.com/burenotti/healthlog/internal/domain"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/leporo/sqlf"
	"github.com/r3labs/diff"
)

type EventSource interface {
	PopEvents() []domain.Event
}

// BasePostgresStorage tracks aggregates touched by a storage so that their
// events can be collected once the unit of work succeeds.
type BasePostgresStorage struct {
	DB      storage.DBContext
	seenMu  sync.Mutex
	seen    []EventSource
	pending []domain.Event
}

func NewBasePostgresStorage(db storage.DBContext) *BasePostgresStorage {
	return &BasePostgresStorage{
		DB: db,
	}
}

func (s *BasePostgresStorage) CollectEvents() []domain.Event {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()

	events := s.pending
	for _, a := range s.seen {
		events = append(events, a.PopEvents()...)
	}
	s.seen = nil
	s.pending = nil
	return events
}

func (s *BasePostgresStorage) Close() {
	s.seenMu.Lock()
	s.seen = nil
	s.pending = nil
	s.seenMu.Unlock()
}

func (s *BasePostgresStorage) MarkSeen(a EventSource) {
	s.seenMu.Lock()
	s.seen = append(s.seen, a)
	s.seenMu.Unlock()
}

// Record queues an event that has no aggregate behind it, e.g. a deletion.
func (s *BasePostgresStorage) Record(e domain.Event) {
	s.seenMu.Lock()
	s.pending = append(s.pending, e)
	s.seenMu.Unlock()
}

func ViolatesConstraint(err error, constraintName string) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) &&
		pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) &&
		pgErr.ConstraintName == constraintName
}

func MakeUpdateQuery(stmt *sqlf.Stmt, updates diff.Changelog) *sqlf.Stmt {

	for _, upd := range updates {
		if upd.Type != "update" {
			panic("invalid update type " + upd.Type)
		}
		if len(upd.Path) > 1 {
			panic("cannot process updates in nested structures")
		}

		stmt = stmt.Set(upd.Path[0], upd.To)
	}
	return stmt
}

func AssertUpdated(res sql.Result, err error, notUpdatedError error) error {
	if err != nil {
		return storage.InternalError(err)
	}

	affected, err := res.RowsAffected()

	if err != nil {
		return storage.InternalError(err)
	}

	if affected == 0 {
		return notUpdatedError
	}
	return nil
}

// Paginate applies the requested orders (falling back to defaults), limit and offset.
// Fields must already be validated against columns.
func Paginate(stmt *sqlf.Stmt, req domain.PageRequest, columns map[string]string, defaults ...string) *sqlf.Stmt {
	if len(req.Sort) == 0 {
		stmt = stmt.OrderBy(defaults...)
	}
	for _, o := range req.Sort {
		col := columns[o.Field]
		if o.Desc {
			col += " DESC"
		}
		stmt = stmt.OrderBy(col)
	}
	return stmt.Limit(req.Size).Offset(req.Offset())
}
