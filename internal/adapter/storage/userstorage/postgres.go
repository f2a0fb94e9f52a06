package userstorage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/burenotti/healthlog/internal/adapter/storage"
	"github.com/burenotti/healthlog/internal/adapter/storage/pgutil"
	"github.com/burenotti/healthlog/internal/domain"
	"github.com/burenotti/healthlog/internal/domain/auth"
	"github.com/leporo/sqlf"
	"github.com/r3labs/diff"
)

const (
	constraintLogin         = "users_login_key"
	constraintAuthorization = "authorizations_pkey"
	constraintDevice        = "devices_pkey"
)

type PostgresStorage struct {
	base   *pgutil.BasePostgresStorage
	logger *slog.Logger
}

func NewPostgresStorage(db storage.DBContext, logger *slog.Logger) *PostgresStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStorage{
		base:   pgutil.NewBasePostgresStorage(db),
		logger: logger,
	}
}

func (s *PostgresStorage) Add(ctx context.Context, u *auth.User) error {
	var userID int64
	q := sqlf.InsertInto("users").
		Set("login", u.Login).
		Set("password_hash", u.PasswordHash).
		Set("authorities", strings.Join(u.Authorities, ",")).
		Set("created_at", u.CreatedAt).
		Set("updated_at", u.UpdatedAt).
		Returning("user_id").To(&userID)

	if err := q.QueryRowAndClose(ctx, s.base.DB); err != nil {
		if pgutil.ViolatesConstraint(err, constraintLogin) {
			return errors.Join(fmt.Errorf("user exists: %w", err), auth.ErrUserLoginDuplicate)
		}
		return storage.InternalError(err)
	}
	u.MarkCreated(userID)

	for _, a := range u.Authorizations {
		if err := s.addAuth(ctx, u.UserID, a); err != nil {
			return err
		}
	}

	s.base.MarkSeen(u)

	return nil
}

func (s *PostgresStorage) addAuth(ctx context.Context, userId int64, a *auth.Authorization) error {
	addAuth := sqlf.InsertInto("authorizations").
		Set("authorization_id", a.ID).
		Set("secret", a.Secret).
		Set("logout_at", a.LogoutAt).
		Set("created_at", a.CreatedAt).
		Set("valid_until", a.ValidUntil).
		Set("user_id", userId)

	addDevice := sqlf.InsertInto("devices").
		Set("authorization_id", a.ID).
		Set("os", a.Device.OS).
		Set("device_model", a.Device.Model).
		Set("ip_address", a.Device.IPAddress).
		Set("browser", a.Device.Browser)

	if _, err := addAuth.ExecAndClose(ctx, s.base.DB); err != nil {
		if pgutil.ViolatesConstraint(err, constraintAuthorization) {
			return auth.ErrAuthorizationExists
		}
		return storage.InternalError(err)
	}

	if _, err := addDevice.ExecAndClose(ctx, s.base.DB); err != nil {
		if pgutil.ViolatesConstraint(err, constraintDevice) {
			return auth.ErrDeviceExists
		}
		return storage.InternalError(err)
	}

	return nil
}

func (s *PostgresStorage) get(
	ctx context.Context,
	whereClause string,
	whereArgs ...any,
) ([]*auth.User, error) {

	var tmp userWithAuthRow

	q := sqlf.From("users u").
		LeftJoin("authorizations a", "u.user_id = a.user_id").
		LeftJoin("devices d", "d.authorization_id = a.authorization_id").
		Where(whereClause, whereArgs...).
		Select("u.user_id").To(&tmp.UserID).
		Select("u.login").To(&tmp.Login).
		Select("u.password_hash").To(&tmp.PasswordHash).
		Select("u.authorities").To(&tmp.Authorities).
		Select("u.created_at").To(&tmp.CreatedAt).
		Select("u.updated_at").To(&tmp.UpdatedAt).
		Select("a.authorization_id").To(&tmp.AuthorizationID).
		Select("a.secret").To(&tmp.Secret).
		Select("a.valid_until").To(&tmp.AuthValidUntil).
		Select("a.logout_at").To(&tmp.LogoutAt).
		Select("a.created_at").To(&tmp.AuthCreatedAt).
		Select("d.os").To(&tmp.OS).
		Select("d.browser").To(&tmp.Browser).
		Select("d.device_model").To(&tmp.Model).
		Select("d.ip_address").To(&tmp.IpAddress).
		OrderBy("u.user_id", "a.created_at")

	var fetchedRows []userWithAuthRow

	err := q.QueryAndClose(ctx, s.base.DB, func(rows *sql.Rows) {
		fetchedRows = append(fetchedRows, tmp)
	})

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storage.InternalError(err)
	}

	users := rowsToDomain(fetchedRows)
	for _, u := range users {
		s.base.MarkSeen(u)
	}
	return users, nil
}

func (s *PostgresStorage) getOne(ctx context.Context, whereClause string, whereArgs ...any) (*auth.User, error) {
	users, err := s.get(ctx, whereClause, whereArgs...)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, auth.ErrUserNotFound
	}
	return users[0], nil
}

func (s *PostgresStorage) GetByLogin(ctx context.Context, login string) (*auth.User, error) {
	return s.getOne(ctx, "u.login = ?", strings.ToLower(login))
}

func (s *PostgresStorage) GetByID(ctx context.Context, userId int64) (*auth.User, error) {
	return s.getOne(ctx, "u.user_id = ?", userId)
}

func (s *PostgresStorage) GetByAuthSecret(ctx context.Context, secret string) (*auth.User, error) {
	return s.getOne(ctx, "u.user_id = (SELECT user_id FROM authorizations WHERE secret = ?)", secret)
}

func (s *PostgresStorage) Persist(ctx context.Context, u *auth.User) error {
	dbState, err := s.GetByID(ctx, u.UserID)
	if err != nil {
		return err
	}

	if log, _ := diff.Diff(dbState, u); len(log) != 0 {
		u.UpdatedAt = time.Now().UTC()
		q := sqlf.Update("users").Where("user_id = ?", u.UserID)
		q = pgutil.MakeUpdateQuery(q, log).Set("updated_at", u.UpdatedAt)

		res, err := q.ExecAndClose(ctx, s.base.DB)
		if err := pgutil.AssertUpdated(res, err, auth.ErrUserNotFound); err != nil {
			if pgutil.ViolatesConstraint(err, constraintLogin) {
				return auth.ErrUserLoginDuplicate
			}
			return fmt.Errorf("can't persist auth data: %w", err)
		}
	}

	dbAuthSet := make(map[string]*auth.Authorization)
	for _, a := range dbState.Authorizations {
		dbAuthSet[a.ID] = a
	}

	for _, a := range u.Authorizations {
		if _, ok := dbAuthSet[a.ID]; !ok {
			if err := s.addAuth(ctx, u.UserID, a); err != nil {
				return err
			}
		} else {
			if err := s.persistAuth(ctx, dbAuthSet[a.ID], a); err != nil {
				return err
			}
		}
	}

	s.base.MarkSeen(u)
	return nil
}

func (s *PostgresStorage) CollectEvents() []domain.Event {
	return s.base.CollectEvents()
}

func (s *PostgresStorage) Close() error {
	s.base.Close()
	return nil
}

func (s *PostgresStorage) persistAuth(ctx context.Context, source, changed *auth.Authorization) error {
	log, _ := diff.Diff(source, changed)
	if len(log) == 0 {
		return s.persistDevice(ctx, source.ID, &source.Device, &changed.Device)
	}
	q := sqlf.Update("authorizations").Where("authorization_id = ?", source.ID)
	q = pgutil.MakeUpdateQuery(q, log)

	if _, err := q.ExecAndClose(ctx, s.base.DB); err != nil {
		return storage.InternalError(err)
	}
	return s.persistDevice(ctx, source.ID, &source.Device, &changed.Device)
}

func (s *PostgresStorage) persistDevice(ctx context.Context, id string, source, changed *auth.Device) error {
	log, _ := diff.Diff(source, changed)
	if len(log) == 0 {
		return nil
	}

	q := sqlf.Update("devices").Where("authorization_id = ?", id)
	q = pgutil.MakeUpdateQuery(q, log)

	if _, err := q.ExecAndClose(ctx, s.base.DB); err != nil {
		return storage.InternalError(err)
	}
	return nil
}

type userWithAuthRow struct {
	UserID       int64
	Login        string
	PasswordHash string
	Authorities  string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	AuthorizationID *string
	Secret          *string
	LogoutAt        *time.Time
	AuthCreatedAt   *time.Time
	AuthValidUntil  *time.Time

	IpAddress *string
	Browser   *string
	OS        *string
	Model     *string
}

func rowsToDomain(rows []userWithAuthRow) []*auth.User {
	usersMap := make(map[int64]*auth.User)
	var order []int64

	for _, row := range rows {
		if _, ok := usersMap[row.UserID]; !ok {
			usersMap[row.UserID] = &auth.User{
				UserID:         row.UserID,
				Login:          row.Login,
				PasswordHash:   row.PasswordHash,
				Authorities:    splitAuthorities(row.Authorities),
				CreatedAt:      row.CreatedAt,
				UpdatedAt:      row.UpdatedAt,
				Authorizations: make([]*auth.Authorization, 0),
			}
			order = append(order, row.UserID)
		}
		if row.AuthorizationID != nil {
			a := &auth.Authorization{
				ID:         *row.AuthorizationID,
				Secret:     deref(row.Secret),
				CreatedAt:  deref(row.AuthCreatedAt),
				ValidUntil: deref(row.AuthValidUntil),
				LogoutAt:   row.LogoutAt,
				Device: auth.Device{
					Browser:   deref(row.Browser),
					OS:        deref(row.OS),
					IPAddress: deref(row.IpAddress),
					Model:     deref(row.Model),
				},
			}
			usersMap[row.UserID].Authorizations = append(usersMap[row.UserID].Authorizations, a)
		}
	}

	users := make([]*auth.User, 0, len(usersMap))
	for _, id := range order {
		users = append(users, usersMap[id])
	}
	return users
}

func splitAuthorities(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func deref[T any](v *T) T {
	if v == nil {
		return *new(T)
	}
	return *v
}
