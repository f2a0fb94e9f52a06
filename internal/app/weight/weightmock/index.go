package weightmock

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/burenotti/healthlog/internal/adapter/search/weightsearch"
	"github.com/burenotti/healthlog/internal/domain"
	"github.com/burenotti/healthlog/internal/domain/weight"
)

// MemoryIndex matches queries against the same keywords the mongo index stores.
type MemoryIndex struct {
	mu   sync.Mutex
	docs map[int64]*weight.Weight

	// Err, when set, is returned by every call.
	Err error
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[int64]*weight.Weight)}
}

func (m *MemoryIndex) Save(_ context.Context, w *weight.Weight) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.docs[w.ID] = clone(w)
	return nil
}

func (m *MemoryIndex) SaveMany(ctx context.Context, ws []*weight.Weight) error {
	for _, w := range ws {
		if err := m.Save(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryIndex) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	delete(m.docs, id)
	return nil
}

func (m *MemoryIndex) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.docs = make(map[int64]*weight.Weight)
	return nil
}

func (m *MemoryIndex) Search(
	_ context.Context,
	query string,
	req domain.PageRequest,
) (domain.Page[*weight.Weight], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return domain.Page[*weight.Weight]{}, m.Err
	}

	terms := strings.Fields(strings.ToLower(query))
	var found []*weight.Weight
	for _, w := range m.docs {
		if weightsearch.IsMatchAll(query) || matches(w, terms) {
			found = append(found, clone(w))
		}
	}

	orders := req.Sort
	if len(orders) == 0 {
		orders = []domain.Order{{Field: "id"}}
	}
	SortWeights(found, orders)
	return Paginate(found, req), nil
}

// Get returns the indexed copy of a weight.
func (m *MemoryIndex) Get(id int64) (*weight.Weight, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.docs[id]
	if !ok {
		return nil, false
	}
	return clone(w), true
}

func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

func matches(w *weight.Weight, terms []string) bool {
	keywords := strings.Fields(weightsearch.Keywords(w))
	for _, t := range terms {
		if slices.Contains(keywords, t) {
			return true
		}
	}
	return false
}

func clone(w *weight.Weight) *weight.Weight {
	c := &weight.Weight{
		ID:       w.ID,
		DateTime: w.DateTime,
		Value:    w.Value,
	}
	if w.UserID != nil {
		c.AssignOwner(*w.UserID, w.OwnerLogin)
	}
	return c
}
