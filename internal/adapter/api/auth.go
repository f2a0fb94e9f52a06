package api

import (
	"errors"
	"net/http"

	"github.com/burenotti/healthlog/internal/app/authapp"
	"github.com/burenotti/healthlog/internal/domain/auth"
	"github.com/labstack/echo/v4"
	"github.com/mileusna/useragent"
)

func (s *Server) MountAuth() {
	loginRequired := LoginRequired(s.authService.Authorizer)

	authRoutes := s.handler.Group("/auth", s.RateLimiter())

	authRoutes.POST("/login", s.Login)
	authRoutes.POST("/sign-up", s.SignUp)
	authRoutes.POST("/refresh", s.Refresh)
	authRoutes.POST("/logout", s.Logout, loginRequired)
}

type loginReq struct {
	Login    string `form:"username" json:"username" validate:"required"`
	Password string `form:"password" json:"password" validate:"required"`
}

type loginResp struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func deviceOf(c echo.Context) auth.Device {
	agent := useragent.Parse(c.Request().UserAgent())

	return auth.Device{
		Browser:   agent.Name,
		OS:        agent.OS,
		IPAddress: c.RealIP(),
		Model:     agent.Device,
	}
}

func (s *Server) Login(c echo.Context) error {
	var b loginReq
	if err := s.bind(c, &b); err != nil {
		return JsonError(c, http.StatusBadRequest, err)
	}

	tokens, err := s.authService.Login(c.Request().Context(), s.authUoW(), deviceOf(c), b.Login, b.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return JsonError(c, http.StatusUnauthorized, "invalid login or password")
		}
		s.logger.Error("login failed", "error", err)
		return JsonError(c, http.StatusInternalServerError, "internal server error")
	}
	return c.JSON(http.StatusOK, &loginResp{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	})
}

type signUpReq struct {
	Login    string `json:"login" validate:"required,alphanum,min=3,max=50"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type signUpResp struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

func (s *Server) SignUp(c echo.Context) error {
	var b signUpReq
	if err := s.bind(c, &b); err != nil {
		return JsonError(c, http.StatusBadRequest, err)
	}

	u, err := s.authService.CreateUser(c.Request().Context(), s.authUoW(), b.Login, b.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			return JsonError(c, http.StatusBadRequest, "user already exists")
		}
		s.logger.Error("sign up failed", "error", err)
		return JsonError(c, http.StatusInternalServerError, "internal server error")
	}

	return c.JSON(http.StatusCreated, &signUpResp{ID: u.UserID, Login: u.Login})
}

func (s *Server) Logout(c echo.Context) error {
	u := currentToken(c)

	if err := s.authService.Logout(c.Request().Context(), s.authUoW(), u.UserID, u.Authorization); err != nil {
		if errors.Is(err, auth.ErrUnauthorized) || errors.Is(err, auth.ErrUserNotFound) {
			return JsonError(c, http.StatusUnauthorized, "unauthorized")
		}
		s.logger.Error("logout failed", "error", err)
		return JsonError(c, http.StatusInternalServerError, "internal server error")
	}
	return c.NoContent(http.StatusNoContent)
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (s *Server) Refresh(c echo.Context) error {
	var b refreshReq
	if err := s.bind(c, &b); err != nil {
		return JsonError(c, http.StatusBadRequest, err)
	}

	tokens, err := s.authService.Refresh(c.Request().Context(), s.authUoW(), b.RefreshToken)
	if err != nil {
		if errors.Is(err, authapp.ErrInvalidAuthorization) {
			return JsonError(c, http.StatusUnauthorized, "refresh token is not valid")
		}
		s.logger.Error("refresh failed", "error", err)
		return JsonError(c, http.StatusInternalServerError, "internal server error")
	}
	return c.JSON(http.StatusOK, &loginResp{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	})
}
