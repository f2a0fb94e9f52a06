package weightservice_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/burenotti/healthlog/internal/app/messagebus"
	"github.com/burenotti/healthlog/internal/app/unitofwork"
	weightservice "github.com/burenotti/healthlog/internal/app/weight"
	"github.com/burenotti/healthlog/internal/app/weight/weightmock"
	"github.com/burenotti/healthlog/internal/domain"
	"github.com/burenotti/healthlog/internal/domain/auth"
	"github.com/burenotti/healthlog/internal/domain/weight"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *weightmock.MemoryStore
	index   *weightmock.MemoryIndex
	tx      *weightmock.NopTx
	bus     *messagebus.MessageBus
	uow     *weightservice.UnitOfWork
	service *weightservice.Service

	admin auth.Caller
	alice auth.Caller
	bob   auth.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: weightmock.NewMemoryStore(),
		index: weightmock.NewMemoryIndex(),
		tx:    &weightmock.NopTx{},
		bus:   messagebus.New(nil),
	}
	f.uow = unitofwork.New(f.tx, weightservice.NewAtomicContextWith(f.store, f.store.Users), f.bus, nil)
	f.service = weightservice.New(nil, f.index, weightservice.Clock(func() time.Time { return now }))

	f.admin = f.store.Users.AddUser("admin", auth.RoleAdmin, auth.RoleUser)
	f.alice = f.store.Users.AddUser("alice")
	f.bob = f.store.Users.AddUser("bob")

	t.Cleanup(f.bus.Close)
	return f
}

func (f *fixture) create(t *testing.T, caller auth.Caller, at time.Time, value float64) *weight.Weight {
	t.Helper()
	w, err := f.service.Create(context.Background(), f.uow, caller, weight.New(at, value))
	require.NoError(t, err)
	return w
}

func TestCreate_AssignsIDAndMirrors(t *testing.T) {
	f := newFixture(t)

	w := f.create(t, f.alice, now.Add(-time.Hour), 80.5)

	assert.NotZero(t, w.ID)
	assert.Equal(t, "alice", w.OwnerLogin)
	if assert.NotNil(t, w.UserID) {
		assert.Equal(t, f.alice.UserID, *w.UserID)
	}

	indexed, ok := f.index.Get(w.ID)
	require.True(t, ok)
	assert.Equal(t, 80.5, indexed.Value)
	assert.Equal(t, "alice", indexed.OwnerLogin)
}

func TestCreate_RejectsPresetID(t *testing.T) {
	f := newFixture(t)

	w := weight.New(now, 70)
	w.ID = 5

	_, err := f.service.Create(context.Background(), f.uow, f.alice, w)
	assert.ErrorIs(t, err, weight.ErrIDExists)
	assert.Zero(t, f.store.Len())
	assert.Zero(t, f.index.Len())
}

func TestCreate_UserOwnerIsOverwritten(t *testing.T) {
	f := newFixture(t)

	w := weight.New(now, 70)
	w.AssignOwner(f.bob.UserID, f.bob.Login)

	created, err := f.service.Create(context.Background(), f.uow, f.alice, w)
	require.NoError(t, err)
	assert.Equal(t, "alice", created.OwnerLogin)
	assert.Equal(t, f.alice.UserID, *created.UserID)
}

func TestCreate_AdminKeepsSuppliedOwner(t *testing.T) {
	f := newFixture(t)

	byLogin := weight.New(now, 70)
	byLogin.OwnerLogin = "bob"
	created, err := f.service.Create(context.Background(), f.uow, f.admin, byLogin)
	require.NoError(t, err)
	assert.Equal(t, "bob", created.OwnerLogin)
	assert.Equal(t, f.bob.UserID, *created.UserID)

	byID := weight.New(now, 71)
	id := f.alice.UserID
	byID.UserID = &id
	created, err = f.service.Create(context.Background(), f.uow, f.admin, byID)
	require.NoError(t, err)
	assert.Equal(t, "alice", created.OwnerLogin)

	ownerless, err := f.service.Create(context.Background(), f.uow, f.admin, weight.New(now, 72))
	require.NoError(t, err)
	assert.False(t, ownerless.HasOwner())
}

func TestCreate_UnknownOwner(t *testing.T) {
	f := newFixture(t)

	w := weight.New(now, 70)
	w.OwnerLogin = "nobody"

	_, err := f.service.Create(context.Background(), f.uow, f.admin, w)
	assert.ErrorIs(t, err, weight.ErrOwnerNotFound)
	assert.ErrorIs(t, err, unitofwork.ErrRollback)
	assert.Zero(t, f.store.Len())
}

func TestCreate_UnknownOwnerByID(t *testing.T) {
	f := newFixture(t)

	w := weight.New(now, 70)
	missing := int64(404)
	w.UserID = &missing

	_, err := f.service.Create(context.Background(), f.uow, f.admin, w)
	assert.ErrorIs(t, err, weight.ErrOwnerNotFound)
	assert.Contains(t, err.Error(), "weight owner not found: id 404")
	assert.Zero(t, f.store.Len())
}

func TestCreate_IndexFailureAfterCommit(t *testing.T) {
	f := newFixture(t)
	f.index.Err = errors.New("mongo down")

	_, err := f.service.Create(context.Background(), f.uow, f.alice, weight.New(now, 70))
	assert.ErrorIs(t, err, weightservice.ErrSearchIndex)
	// The primary store keeps the committed row.
	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, 1, f.tx.Commits)
}

func TestUpdate_WithoutIDCreates(t *testing.T) {
	f := newFixture(t)

	w, err := f.service.Update(context.Background(), f.uow, f.alice, weight.New(now, 65))
	require.NoError(t, err)
	assert.NotZero(t, w.ID)
	assert.Equal(t, 1, f.store.Len())
}

func TestUpdate_ReplacesRecord(t *testing.T) {
	f := newFixture(t)
	w := f.create(t, f.alice, now.Add(-2*time.Hour), 80)

	changed := weight.New(now.Add(-time.Hour), 79.2)
	changed.ID = w.ID
	changed.OwnerLogin = "alice"

	updated, err := f.service.Update(context.Background(), f.uow, f.alice, changed)
	require.NoError(t, err)
	assert.Equal(t, 79.2, updated.Value)

	stored, err := f.service.Get(context.Background(), f.uow, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 79.2, stored.Value)
	assert.True(t, now.Add(-time.Hour).Equal(stored.DateTime))

	indexed, _ := f.index.Get(w.ID)
	assert.Equal(t, 79.2, indexed.Value)
}

func TestUpdate_OwnerTakenFromPayload(t *testing.T) {
	f := newFixture(t)
	w := f.create(t, f.alice, now, 80)

	changed := weight.New(now, 80)
	changed.ID = w.ID

	updated, err := f.service.Update(context.Background(), f.uow, f.bob, changed)
	require.NoError(t, err)
	assert.False(t, updated.HasOwner())
}

func TestUpdate_UnknownID(t *testing.T) {
	f := newFixture(t)

	w := weight.New(now, 80)
	w.ID = 999

	_, err := f.service.Update(context.Background(), f.uow, f.alice, w)
	assert.ErrorIs(t, err, weight.ErrWeightNotFound)
}

func TestList_VisibilityAndOrder(t *testing.T) {
	f := newFixture(t)
	a1 := f.create(t, f.alice, now.Add(-3*time.Hour), 80)
	f.create(t, f.bob, now.Add(-2*time.Hour), 90)
	a2 := f.create(t, f.alice, now.Add(-time.Hour), 79)

	req := domain.PageRequest{Size: domain.DefaultPageSize}

	mine, err := f.service.List(context.Background(), f.uow, f.alice, req)
	require.NoError(t, err)
	assert.EqualValues(t, 2, mine.Total)
	require.Len(t, mine.Items, 2)
	assert.Equal(t, a2.ID, mine.Items[0].ID)
	assert.Equal(t, a1.ID, mine.Items[1].ID)

	all, err := f.service.List(context.Background(), f.uow, f.admin, req)
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.Total)
	assert.Len(t, all.Items, 3)
}

func TestList_TiesBrokenByID(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, f.alice, now, 80)
	second := f.create(t, f.alice, now, 81)

	page, err := f.service.List(context.Background(), f.uow, f.alice, domain.PageRequest{Size: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, second.ID, page.Items[0].ID)
	assert.Equal(t, first.ID, page.Items[1].ID)
}

func TestList_Paging(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.create(t, f.alice, now.Add(-time.Duration(i)*time.Hour), float64(70+i))
	}

	page, err := f.service.List(context.Background(), f.uow, f.alice, domain.PageRequest{Page: 2, Size: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages())
	assert.Len(t, page.Items, 1)
	assert.False(t, page.HasNext())
}

func TestList_InvalidSort(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.List(context.Background(), f.uow, f.alice, domain.PageRequest{
		Size: 10,
		Sort: []domain.Order{{Field: "password"}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSort)
}

func TestGet_NoOwnershipCheck(t *testing.T) {
	f := newFixture(t)
	w := f.create(t, f.alice, now, 80)

	got, err := f.service.Get(context.Background(), f.uow, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerLogin)

	_, err = f.service.Get(context.Background(), f.uow, 12345)
	assert.ErrorIs(t, err, weight.ErrWeightNotFound)
}

func TestDelete_RemovesFromBothStores(t *testing.T) {
	f := newFixture(t)
	w := f.create(t, f.alice, now, 80)

	require.NoError(t, f.service.Delete(context.Background(), f.uow, w.ID))
	assert.Zero(t, f.store.Len())
	assert.Zero(t, f.index.Len())

	_, err := f.service.Get(context.Background(), f.uow, w.ID)
	assert.ErrorIs(t, err, weight.ErrWeightNotFound)

	// Deleting again still succeeds.
	assert.NoError(t, f.service.Delete(context.Background(), f.uow, w.ID))
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	f.create(t, f.alice, now, 80)
	f.create(t, f.bob, now, 90)

	req := domain.PageRequest{Size: 10}

	all, err := f.service.Search(context.Background(), "*", req)
	require.NoError(t, err)
	assert.EqualValues(t, 2, all.Total)

	blank, err := f.service.Search(context.Background(), "", req)
	require.NoError(t, err)
	assert.EqualValues(t, 2, blank.Total)

	bobs, err := f.service.Search(context.Background(), "bob", req)
	require.NoError(t, err)
	require.Len(t, bobs.Items, 1)
	assert.Equal(t, 90.0, bobs.Items[0].Value)

	none, err := f.service.Search(context.Background(), "carol", req)
	require.NoError(t, err)
	assert.Empty(t, none.Items)
}

func TestSearch_IndexFailure(t *testing.T) {
	f := newFixture(t)
	f.index.Err = errors.New("mongo down")

	_, err := f.service.Search(context.Background(), "alice", domain.PageRequest{Size: 10})
	assert.ErrorIs(t, err, weightservice.ErrSearchIndex)
}

func TestReadingsInLastNDays(t *testing.T) {
	f := newFixture(t)
	recent := f.create(t, f.alice, now.Add(-24*time.Hour), 80)
	newest := f.create(t, f.alice, now.Add(-time.Hour), 79)
	f.create(t, f.alice, now.AddDate(0, 0, -10), 85)
	f.create(t, f.bob, now.Add(-time.Hour), 95)

	result, err := f.service.ReadingsInLastNDays(context.Background(), f.uow, f.alice, 7)
	require.NoError(t, err)
	assert.Equal(t, "Last 7 Days", result.Label)
	require.Len(t, result.Readings, 2)
	assert.Equal(t, newest.ID, result.Readings[0].ID)
	assert.Equal(t, recent.ID, result.Readings[1].ID)
}

func TestReadingsInLastNDays_ZeroAndNegative(t *testing.T) {
	f := newFixture(t)
	f.create(t, f.alice, now.Add(-time.Hour), 80)

	result, err := f.service.ReadingsInLastNDays(context.Background(), f.uow, f.alice, 0)
	require.NoError(t, err)
	assert.Equal(t, "Last 0 Days", result.Label)
	assert.Empty(t, result.Readings)

	_, err = f.service.ReadingsInLastNDays(context.Background(), f.uow, f.alice, -1)
	assert.ErrorIs(t, err, weight.ErrInvalidPeriod)
}

func TestReadingsInLastNDays_Bounds(t *testing.T) {
	f := newFixture(t)
	f.create(t, f.alice, now.AddDate(-50, 0, 0), 80)

	result, err := f.service.ReadingsInLastNDays(context.Background(), f.uow, f.alice, weight.MaxPeriodDays)
	require.NoError(t, err)
	assert.Len(t, result.Readings, 1)

	_, err = f.service.ReadingsInLastNDays(context.Background(), f.uow, f.alice, weight.MaxPeriodDays+1)
	assert.ErrorIs(t, err, weight.ErrInvalidPeriod)

	_, err = f.service.ReadingsInLastNDays(context.Background(), f.uow, f.alice, 99999999)
	assert.ErrorIs(t, err, weight.ErrInvalidPeriod)
}

func TestReindex(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < weightservice.ReindexBatchSize+3; i++ {
		f.create(t, f.alice, now.Add(-time.Duration(i)*time.Minute), 80)
	}
	require.NoError(t, f.index.Reset(context.Background()))

	indexed, err := f.service.Reindex(context.Background(), f.uow)
	require.NoError(t, err)
	assert.Equal(t, weightservice.ReindexBatchSize+3, indexed)
	assert.Equal(t, weightservice.ReindexBatchSize+3, f.index.Len())
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	f := newFixture(t)

	got := make(chan string, 3)
	f.bus.Register(messagebus.AnyEvent, func(e domain.Event) error {
		got <- e.Type()
		return nil
	})

	w := f.create(t, f.alice, now, 80)
	w.Value = 81
	_, err := f.service.Update(context.Background(), f.uow, f.alice, w)
	require.NoError(t, err)
	require.NoError(t, f.service.Delete(context.Background(), f.uow, w.ID))
	f.bus.Close()
	close(got)

	var types []string
	for typ := range got {
		types = append(types, typ)
	}
	assert.ElementsMatch(t, []string{weight.EventCreated, weight.EventUpdated, weight.EventDeleted}, types)
}
