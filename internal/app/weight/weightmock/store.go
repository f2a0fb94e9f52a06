// Package weightmock provides in-memory stand-ins for the weight service collaborators.
package weightmock

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/burenotti/healthlog/internal/adapter/storage"
	"github.com/burenotti/healthlog/internal/domain"
	"github.com/burenotti/healthlog/internal/domain/auth"
	"github.com/burenotti/healthlog/internal/domain/weight"
)

var errNotSupported = errors.New("not supported by the in-memory transaction")

// NopTx is a transaction that only counts commits and rollbacks.
type NopTx struct {
	mu        sync.Mutex
	Commits   int
	Rollbacks int
}

func (t *NopTx) Begin(context.Context) (storage.DBContext, error) {
	return t, nil
}

func (t *NopTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Commits++
	return nil
}

func (t *NopTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Rollbacks++
	return nil
}

func (t *NopTx) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errNotSupported
}

func (t *NopTx) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errNotSupported
}

func (t *NopTx) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

type record struct {
	id       int64
	dateTime time.Time
	value    float64
	userID   *int64
}

// MemoryUsers keeps the owners weights can reference.
type MemoryUsers struct {
	mu     sync.Mutex
	lastID int64
	users  map[int64]*auth.User
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{users: make(map[int64]*auth.User)}
}

// AddUser registers an owner and returns its identity.
func (m *MemoryUsers) AddUser(login string, authorities ...string) auth.Caller {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(authorities) == 0 {
		authorities = []string{auth.RoleUser}
	}
	m.lastID++
	u := &auth.User{
		UserID:      m.lastID,
		Login:       strings.ToLower(login),
		Authorities: authorities,
	}
	m.users[u.UserID] = u
	return u.Caller()
}

func (m *MemoryUsers) GetByLogin(_ context.Context, login string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	login = strings.ToLower(login)
	for _, u := range m.users {
		if u.Login == login {
			return cloneUser(u), nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (m *MemoryUsers) GetByID(_ context.Context, userID int64) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.users[userID]; ok {
		return cloneUser(u), nil
	}
	return nil, auth.ErrUserNotFound
}

func (m *MemoryUsers) login(userID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return "", false
	}
	return u.Login, true
}

// MemoryStore keeps weights in a map and joins owners from Users.
type MemoryStore struct {
	mu      sync.Mutex
	lastID  int64
	weights map[int64]record
	pending []domain.Event

	Users *MemoryUsers
	// Err, when set, is returned by every write.
	Err error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		weights: make(map[int64]record),
		Users:   NewMemoryUsers(),
	}
}

func (m *MemoryStore) Add(_ context.Context, w *weight.Weight) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if err := m.checkOwner(w); err != nil {
		return err
	}

	m.lastID++
	m.weights[m.lastID] = toRecord(m.lastID, w)
	w.MarkCreated(m.lastID)
	m.pending = append(m.pending, w.PopEvents()...)
	return nil
}

func (m *MemoryStore) Persist(_ context.Context, w *weight.Weight) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.weights[w.ID]; !ok {
		return weight.ErrWeightNotFound
	}
	if err := m.checkOwner(w); err != nil {
		return err
	}

	m.weights[w.ID] = toRecord(w.ID, w)
	w.MarkUpdated()
	m.pending = append(m.pending, w.PopEvents()...)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.weights[id]; ok {
		delete(m.weights, id)
		m.pending = append(m.pending, weight.NewDeletedEvent(id))
	}
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id int64) (*weight.Weight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.weights[id]
	if !ok {
		return nil, weight.ErrWeightNotFound
	}
	return m.toDomain(r), nil
}

func (m *MemoryStore) List(
	_ context.Context,
	filter weight.Filter,
	req domain.PageRequest,
) (domain.Page[*weight.Weight], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []*weight.Weight
	for _, r := range m.weights {
		w := m.toDomain(r)
		if filter.OwnerLogin != "" && w.OwnerLogin != filter.OwnerLogin {
			continue
		}
		all = append(all, w)
	}

	orders := req.Sort
	if len(orders) == 0 {
		orders = []domain.Order{{Field: "dateTime", Desc: true}, {Field: "id", Desc: true}}
	}
	SortWeights(all, orders)

	return Paginate(all, req), nil
}

func (m *MemoryStore) ListBetween(_ context.Context, login string, from, to time.Time) ([]*weight.Weight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*weight.Weight
	for _, r := range m.weights {
		w := m.toDomain(r)
		if w.OwnerLogin != login || w.DateTime.Before(from) || w.DateTime.After(to) {
			continue
		}
		result = append(result, w)
	}
	SortWeights(result, []domain.Order{{Field: "dateTime", Desc: true}, {Field: "id", Desc: true}})
	return result, nil
}

func (m *MemoryStore) CollectEvents() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.pending
	m.pending = nil
	return events
}

func (m *MemoryStore) Close() error {
	return nil
}

// Len reports how many weights are stored.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.weights)
}

func (m *MemoryStore) checkOwner(w *weight.Weight) error {
	if w.UserID == nil {
		return nil
	}
	if _, ok := m.Users.login(*w.UserID); !ok {
		return weight.ErrOwnerNotFound
	}
	return nil
}

func (m *MemoryStore) toDomain(r record) *weight.Weight {
	w := &weight.Weight{
		ID:       r.id,
		DateTime: r.dateTime,
		Value:    r.value,
	}
	if r.userID != nil {
		login, _ := m.Users.login(*r.userID)
		w.AssignOwner(*r.userID, login)
	}
	return w
}

func toRecord(id int64, w *weight.Weight) record {
	r := record{
		id:       id,
		dateTime: w.DateTime.UTC(),
		value:    w.Value,
	}
	if w.UserID != nil {
		userID := *w.UserID
		r.userID = &userID
	}
	return r
}

func cloneUser(u *auth.User) *auth.User {
	return &auth.User{
		UserID:      u.UserID,
		Login:       u.Login,
		Authorities: append([]string(nil), u.Authorities...),
	}
}

// SortWeights orders ws by the given criteria, first criterion first.
func SortWeights(ws []*weight.Weight, orders []domain.Order) {
	sort.SliceStable(ws, func(i, j int) bool {
		for _, o := range orders {
			c := compare(ws[i], ws[j], o.Field)
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compare(a, b *weight.Weight, field string) int {
	switch field {
	case "dateTime":
		return a.DateTime.Compare(b.DateTime)
	case "value":
		switch {
		case a.Value < b.Value:
			return -1
		case a.Value > b.Value:
			return 1
		}
		return 0
	default:
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	}
}

// Paginate cuts the requested page out of an already sorted slice.
func Paginate(all []*weight.Weight, req domain.PageRequest) domain.Page[*weight.Weight] {
	page := domain.Page[*weight.Weight]{
		Total: int64(len(all)),
		Page:  req.Page,
		Size:  req.Size,
		Items: []*weight.Weight{},
	}
	start := req.Offset()
	if start >= len(all) {
		return page
	}
	end := min(start+req.Size, len(all))
	page.Items = all[start:end]
	return page
}
