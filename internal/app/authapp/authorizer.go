package authapp

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/burenotti/healthlog/internal/domain/auth"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAccessTokenInvalid = errors.New("invalid access token")
	ErrAccessTokenExpired = fmt.Errorf("%w: token expired", ErrAccessTokenInvalid)
)

const (
	claimUserID      = "uid"
	claimAuthorities = "auth"
)

type Authorizer struct {
	Cost             int
	Secret           string
	AccessTokenTTL   time.Duration
	AuthorizationTTL time.Duration
}

func (a *Authorizer) Authorize(u *auth.User, password string, dev auth.Device) (*auth.Authorization, error) {
	hashBytes, err := hex.DecodeString(u.PasswordHash)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(hashBytes, []byte(password)); err != nil {
		return nil, auth.ErrInvalidCredentials
	}

	now := time.Now().UTC()
	authorization := &auth.Authorization{
		ID:         uuid.New().String(),
		Secret:     a.generateSecret(),
		CreatedAt:  now,
		ValidUntil: now.Add(a.AuthorizationTTL),
		LogoutAt:   nil,
		Device:     dev,
	}
	return authorization, nil
}

func (a *Authorizer) Hash(password string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.Cost)
	if err != nil {
		panic(err)
	}
	return hex.EncodeToString(hash)
}

func (a *Authorizer) generateSecret() string {
	var bytes [16]byte
	if n, err := rand.Read(bytes[:]); n != len(bytes) || err != nil {
		panic("failed to generate identifier")
	}

	return hex.EncodeToString(bytes[:])
}

func (a *Authorizer) GenerateAccessToken(u *auth.User, authorization *auth.Authorization) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"jti":            authorization.ID,
		"sub":            u.Login,
		claimUserID:      u.UserID,
		claimAuthorities: strings.Join(u.Authorities, ","),
		"exp":            now.Add(a.AccessTokenTTL).Unix(),
		"iat":            now.Unix(),
	})
	return token.SignedString([]byte(a.Secret))
}

// AccessTokenData is what a valid access token says about its bearer.
type AccessTokenData struct {
	Authorization string
	UserID        int64
	Login         string
	Authorities   []string
}

func (d *AccessTokenData) Caller() auth.Caller {
	return auth.Caller{
		UserID:      d.UserID,
		Login:       d.Login,
		Authorities: d.Authorities,
	}
}

func (a *Authorizer) ValidateAccessToken(accessToken string) (*AccessTokenData, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(a.Secret), nil
	})

	if err != nil {
		var vErr *jwt.ValidationError
		if errors.As(err, &vErr) && vErr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrAccessTokenExpired
		}
		return nil, ErrAccessTokenInvalid
	}

	jti, _ := claims["jti"].(string)
	login, _ := claims["sub"].(string)
	uid, _ := claims[claimUserID].(float64)
	authorities, _ := claims[claimAuthorities].(string)

	if jti == "" || login == "" {
		return nil, fmt.Errorf("%w: missing claims", ErrAccessTokenInvalid)
	}

	data := &AccessTokenData{
		Authorization: jti,
		UserID:        int64(uid),
		Login:         login,
		Authorities:   splitAuthorities(authorities),
	}
	return data, nil
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
