package api

import (
	"net/http"
	"slices"
	"strings"

	"github.com/burenotti/healthlog/internal/app/authapp"
	"github.com/burenotti/healthlog/internal/domain/auth"
	"github.com/labstack/echo/v4"
)

const KeyCurrentUser = "current_user"

func LoginRequired(authorizer *authapp.Authorizer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return JsonError(c, http.StatusUnauthorized, "Authorization header required")
			}
			parts := strings.Split(header, " ")
			if len(parts) != 2 {
				return JsonError(c, http.StatusUnprocessableEntity, "Invalid Authorization header")
			}
			if parts[0] != "Bearer" {
				return JsonError(c, http.StatusUnprocessableEntity, "Invalid Authorization header")
			}
			user, err := authorizer.ValidateAccessToken(parts[1])
			if err != nil {
				return JsonError(c, http.StatusUnauthorized, err.Error())
			}
			c.Set(KeyCurrentUser, user)
			if err := next(c); err != nil {
				c.Error(err)
			}
			return nil
		}
	}
}

// RequireAuthority rejects callers lacking authority. It must run after LoginRequired.
func RequireAuthority(authority string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !slices.Contains(currentCaller(c).Authorities, authority) {
				return JsonError(c, http.StatusForbidden, "access denied")
			}
			return next(c)
		}
	}
}

func currentToken(c echo.Context) *authapp.AccessTokenData {
	data, _ := c.Get(KeyCurrentUser).(*authapp.AccessTokenData)
	return data
}

// currentCaller is the authenticated identity, or a zero Caller for anonymous requests.
func currentCaller(c echo.Context) auth.Caller {
	if data := currentToken(c); data != nil {
		return data.Caller()
	}
	return auth.Caller{}
}
