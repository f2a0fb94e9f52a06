package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/burenotti/healthlog/internal/adapter/api"
	"github.com/burenotti/healthlog/internal/app/authapp"
	"github.com/burenotti/healthlog/internal/app/messagebus"
	weightservice "github.com/burenotti/healthlog/internal/app/weight"
	"github.com/burenotti/healthlog/internal/app/weight/weightmock"
	"github.com/burenotti/healthlog/internal/domain/auth"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	server     *api.Server
	store      *weightmock.MemoryStore
	index      *weightmock.MemoryIndex
	authorizer *authapp.Authorizer

	admin auth.Caller
	alice auth.Caller
	bob   auth.Caller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store: weightmock.NewMemoryStore(),
		index: weightmock.NewMemoryIndex(),
		authorizer: &authapp.Authorizer{
			Cost:             bcrypt.MinCost,
			Secret:           "test-secret",
			AccessTokenTTL:   time.Hour,
			AuthorizationTTL: time.Hour,
		},
	}
	env.admin = env.store.Users.AddUser("admin", auth.RoleAdmin, auth.RoleUser)
	env.alice = env.store.Users.AddUser("alice")
	env.bob = env.store.Users.AddUser("bob")

	bus := messagebus.New(nil)
	t.Cleanup(bus.Close)

	env.server = api.NewServer(
		api.Logger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		api.AppName("healthlog"),
		api.DBContext(&weightmock.NopTx{}),
		api.MessageBus(bus),
		api.AuthService(authapp.NewService(env.authorizer, nil)),
		api.WeightService(weightservice.New(nil, env.index, weightservice.Clock(func() time.Time { return now }))),
		api.WeightContext(weightservice.NewAtomicContextWith(env.store, env.store.Users)),
	)
	return env
}

func (e *testEnv) token(t *testing.T, caller auth.Caller) string {
	t.Helper()
	u := &auth.User{UserID: caller.UserID, Login: caller.Login, Authorities: caller.Authorities}
	token, err := e.authorizer.GenerateAccessToken(u, &auth.Authorization{ID: "test-authorization"})
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, caller *auth.Caller, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if caller != nil {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+e.token(t, *caller))
	}

	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createWeight(t *testing.T, caller auth.Caller, at time.Time, value float64) api.Weight {
	t.Helper()
	body := fmt.Sprintf(`{"dateTime":%q,"value":%v}`, at.Format(time.RFC3339), value)
	rec := e.do(t, &caller, http.MethodPost, "/api/weights", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.Weight](t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCreateWeight(t *testing.T) {
	env := newTestEnv(t)

	body := fmt.Sprintf(`{"dateTime":%q,"value":80.5,"owner":{"login":"bob"}}`, now.Format(time.RFC3339))
	rec := env.do(t, &env.alice, http.MethodPost, "/api/weights", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	w := decode[api.Weight](t, rec)
	require.NotNil(t, w.ID)
	assert.Equal(t, fmt.Sprintf("/api/weights/%d", *w.ID), rec.Header().Get(echo.HeaderLocation))
	assert.Equal(t, "healthlog.weight.created", rec.Header().Get("X-healthlog-alert"))
	assert.Equal(t, fmt.Sprint(*w.ID), rec.Header().Get("X-healthlog-params"))
	assert.Equal(t, 80.5, *w.Value)
	require.NotNil(t, w.Owner)
	assert.Equal(t, "alice", w.Owner.Login)
}

func TestCreateWeight_WithIDRejected(t *testing.T) {
	env := newTestEnv(t)

	body := fmt.Sprintf(`{"id":7,"dateTime":%q,"value":80}`, now.Format(time.RFC3339))
	rec := env.do(t, &env.alice, http.MethodPost, "/api/weights", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error.idexists", rec.Header().Get("X-healthlog-error"))
	assert.Equal(t, "weight", rec.Header().Get("X-healthlog-params"))
	assert.Zero(t, env.store.Len())
}

func TestCreateWeight_Validation(t *testing.T) {
	env := newTestEnv(t)

	for name, body := range map[string]string{
		"missing value":    fmt.Sprintf(`{"dateTime":%q}`, now.Format(time.RFC3339)),
		"non-positive":     fmt.Sprintf(`{"dateTime":%q,"value":0}`, now.Format(time.RFC3339)),
		"missing dateTime": `{"value":80}`,
		"malformed":        `{"value":`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, &env.alice, http.MethodPost, "/api/weights", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Zero(t, env.store.Len())
}

func TestWeights_RequireAuthentication(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, nil, http.MethodGet, "/api/weights", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/weights", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer not-a-token")
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetWeight(t *testing.T) {
	env := newTestEnv(t)
	created := env.createWeight(t, env.alice, now, 80)

	// Any authenticated user can read any weight by id.
	rec := env.do(t, &env.bob, http.MethodGet, fmt.Sprintf("/api/weights/%d", *created.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[api.Weight](t, rec)
	assert.Equal(t, *created.ID, *got.ID)
	assert.True(t, now.Equal(*got.DateTime))

	rec = env.do(t, &env.alice, http.MethodGet, "/api/weights/9999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = env.do(t, &env.alice, http.MethodGet, "/api/weights/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateWeight(t *testing.T) {
	env := newTestEnv(t)
	created := env.createWeight(t, env.alice, now, 80)

	body := fmt.Sprintf(`{"id":%d,"dateTime":%q,"value":78.4,"owner":{"login":"alice"}}`,
		*created.ID, now.Add(-time.Hour).Format(time.RFC3339))
	rec := env.do(t, &env.alice, http.MethodPut, "/api/weights", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "healthlog.weight.updated", rec.Header().Get("X-healthlog-alert"))

	updated := decode[api.Weight](t, rec)
	assert.Equal(t, 78.4, *updated.Value)

	indexed, ok := env.index.Get(*created.ID)
	require.True(t, ok)
	assert.Equal(t, 78.4, indexed.Value)
}

func TestUpdateWeight_WithoutIDCreates(t *testing.T) {
	env := newTestEnv(t)

	body := fmt.Sprintf(`{"dateTime":%q,"value":70}`, now.Format(time.RFC3339))
	rec := env.do(t, &env.alice, http.MethodPut, "/api/weights", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "healthlog.weight.created", rec.Header().Get("X-healthlog-alert"))
	assert.Equal(t, 1, env.store.Len())
}

func TestUpdateWeight_UnknownID(t *testing.T) {
	env := newTestEnv(t)

	body := fmt.Sprintf(`{"id":404,"dateTime":%q,"value":70}`, now.Format(time.RFC3339))
	rec := env.do(t, &env.alice, http.MethodPut, "/api/weights", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListWeights(t *testing.T) {
	env := newTestEnv(t)
	env.createWeight(t, env.alice, now.Add(-2*time.Hour), 80)
	newest := env.createWeight(t, env.alice, now.Add(-time.Hour), 79)
	env.createWeight(t, env.bob, now, 90)

	rec := env.do(t, &env.alice, http.MethodGet, "/api/weights?size=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-Total-Count"))
	link := rec.Header().Get("Link")
	assert.Contains(t, link, `rel="next"`)
	assert.Contains(t, link, `rel="last"`)
	assert.NotContains(t, link, `rel="prev"`)

	items := decode[[]api.Weight](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, *newest.ID, *items[0].ID)

	rec = env.do(t, &env.admin, http.MethodGet, "/api/weights", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("X-Total-Count"))
	assert.Len(t, decode[[]api.Weight](t, rec), 3)
}

func TestListWeights_Sorting(t *testing.T) {
	env := newTestEnv(t)
	env.createWeight(t, env.alice, now.Add(-2*time.Hour), 81)
	env.createWeight(t, env.alice, now.Add(-time.Hour), 79)

	rec := env.do(t, &env.alice, http.MethodGet, "/api/weights?sort=value,asc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]api.Weight](t, rec)
	require.Len(t, items, 2)
	assert.Equal(t, 79.0, *items[0].Value)

	rec = env.do(t, &env.alice, http.MethodGet, "/api/weights?sort=owner,asc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, &env.alice, http.MethodGet, "/api/weights?page=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteWeight(t *testing.T) {
	env := newTestEnv(t)
	created := env.createWeight(t, env.alice, now, 80)
	target := fmt.Sprintf("/api/weights/%d", *created.ID)

	rec := env.do(t, &env.bob, http.MethodDelete, target, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthlog.weight.deleted", rec.Header().Get("X-healthlog-alert"))
	assert.Equal(t, fmt.Sprint(*created.ID), rec.Header().Get("X-healthlog-params"))
	assert.Zero(t, env.store.Len())
	assert.Zero(t, env.index.Len())

	rec = env.do(t, &env.bob, http.MethodDelete, target, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSearchWeights(t *testing.T) {
	env := newTestEnv(t)
	env.createWeight(t, env.alice, now, 80)
	env.createWeight(t, env.bob, now, 90)

	rec := env.do(t, &env.alice, http.MethodGet, "/api/_search/weights?query=bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Total-Count"))
	assert.Contains(t, rec.Header().Get("Link"), "query=bob")

	items := decode[[]api.Weight](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "bob", items[0].Owner.Login)

	rec = env.do(t, &env.alice, http.MethodGet, "/api/_search/weights?query=*", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-Total-Count"))
}

func TestWeightsByDays(t *testing.T) {
	env := newTestEnv(t)
	env.createWeight(t, env.alice, now.Add(-48*time.Hour), 80)
	env.createWeight(t, env.alice, now.AddDate(0, 0, -30), 85)
	env.createWeight(t, env.bob, now.Add(-time.Hour), 90)

	rec := env.do(t, &env.alice, http.MethodGet, "/api/weights-by-days/7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[api.ByPeriod](t, rec)
	assert.Equal(t, "Last 7 Days", result.Label)
	require.Len(t, result.Readings, 1)
	assert.Equal(t, 80.0, *result.Readings[0].Value)

	rec = env.do(t, &env.alice, http.MethodGet, "/api/weights-by-days/-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, &env.alice, http.MethodGet, "/api/weights-by-days/week", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, &env.alice, http.MethodGet, "/api/weights-by-days/99999999", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReindexWeights(t *testing.T) {
	env := newTestEnv(t)
	env.createWeight(t, env.alice, now, 80)
	env.createWeight(t, env.bob, now, 90)
	require.NoError(t, env.index.Reset(context.Background()))

	rec := env.do(t, &env.alice, http.MethodPost, "/api/admin/weights/_reindex", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, env.index.Len())

	rec = env.do(t, &env.admin, http.MethodPost, "/api/admin/weights/_reindex", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"indexed": 2}, decode[map[string]int](t, rec))
	assert.Equal(t, 2, env.index.Len())
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, nil, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.do(t, &env.alice, http.MethodGet, "/api/weights", "")

	rec = env.do(t, nil, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `healthlog_http_requests_total{method="GET",route="/api/weights",status="200"} 1`)
}
