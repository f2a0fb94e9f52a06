package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/burenotti/healthlog/internal/domain"
	"github.com/burenotti/healthlog/internal/domain/auth"
	"github.com/burenotti/healthlog/internal/domain/weight"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
)

func (s *Server) MountWeights() {
	loginRequired := LoginRequired(s.authService.Authorizer)
	limit := s.RateLimiter()

	api := s.handler.Group("/api", loginRequired, limit)
	api.POST("/weights", s.CreateWeight)
	api.PUT("/weights", s.UpdateWeight)
	api.GET("/weights", s.ListWeights)
	api.GET("/weights/:id", s.GetWeight)
	api.DELETE("/weights/:id", s.DeleteWeight)
	api.GET("/_search/weights", s.SearchWeights)
	api.GET("/weights-by-days/:days", s.WeightsByDays)
	api.POST("/admin/weights/_reindex", s.ReindexWeights, RequireAuthority(auth.RoleAdmin))
}

type Owner struct {
	ID    *int64 `json:"id,omitempty"`
	Login string `json:"login,omitempty"`
}

type Weight struct {
	ID       *int64     `json:"id"`
	DateTime *time.Time `json:"dateTime" validate:"required"`
	Value    *float64   `json:"value" validate:"required,gt=0"`
	Owner    *Owner     `json:"owner"`
}

func (w *Weight) toDomain() *weight.Weight {
	m := weight.New(*w.DateTime, *w.Value)
	if w.ID != nil {
		m.ID = *w.ID
	}
	if w.Owner != nil {
		m.UserID = w.Owner.ID
		m.OwnerLogin = w.Owner.Login
	}
	return m
}

func weightResponse(m *weight.Weight) Weight {
	id := m.ID
	dateTime := m.DateTime.UTC()
	value := m.Value
	w := Weight{
		ID:       &id,
		DateTime: &dateTime,
		Value:    &value,
	}
	if m.HasOwner() {
		ownerID := *m.UserID
		w.Owner = &Owner{ID: &ownerID, Login: m.OwnerLogin}
	}
	return w
}

func weightsResponse(ws []*weight.Weight) []Weight {
	return lo.Map(ws, func(m *weight.Weight, _ int) Weight {
		return weightResponse(m)
	})
}

func (s *Server) CreateWeight(c echo.Context) error {
	var req Weight
	if err := s.bind(c, &req); err != nil {
		return JsonError(c, http.StatusBadRequest, err)
	}

	ctx := c.Request().Context()
	created, err := s.weightService.Create(ctx, s.weightUoW(), currentCaller(c), req.toDomain())
	if err != nil {
		return s.weightError(c, err)
	}

	c.Response().Header().Set(echo.HeaderLocation, "/api/weights/"+strconv.FormatInt(created.ID, 10))
	s.alert(c, weight.EntityName, "created", created.ID)
	return c.JSON(http.StatusCreated, weightResponse(created))
}

func (s *Server) UpdateWeight(c echo.Context) error {
	var req Weight
	if err := s.bind(c, &req); err != nil {
		return JsonError(c, http.StatusBadRequest, err)
	}

	w := req.toDomain()
	creating := w.ID == 0

	ctx := c.Request().Context()
	updated, err := s.weightService.Update(ctx, s.weightUoW(), currentCaller(c), w)
	if err != nil {
		return s.weightError(c, err)
	}

	if creating {
		c.Response().Header().Set(echo.HeaderLocation, "/api/weights/"+strconv.FormatInt(updated.ID, 10))
		s.alert(c, weight.EntityName, "created", updated.ID)
		return c.JSON(http.StatusCreated, weightResponse(updated))
	}
	s.alert(c, weight.EntityName, "updated", updated.ID)
	return c.JSON(http.StatusOK, weightResponse(updated))
}

func (s *Server) ListWeights(c echo.Context) error {
	req, err := pageRequest(c)
	if err != nil {
		return JsonError(c, http.StatusBadRequest, err)
	}

	ctx := c.Request().Context()
	page, err := s.weightService.List(ctx, s.weightUoW(), currentCaller(c), req)
	if err != nil {
		return s.weightError(c, err)
	}

	setPaginationHeaders(c, page)
	return c.JSON(http.StatusOK, weightsResponse(page.Items))
}

type weightIDRequest struct {
	ID int64 `param:"id" validate:"required"`
}

func (s *Server) GetWeight(c echo.Context) error {
	var req weightIDRequest
	if err := s.bind(c, &req); err != nil {
		return JsonError(c, http.StatusBadRequest, err)
	}

	w, err := s.weightService.Get(c.Request().Context(), s.weightUoW(), req.ID)
	if errors.Is(err, weight.ErrWeightNotFound) {
		return c.NoContent(http.StatusNotFound)
	}
	if err != nil {
		return s.weightError(c, err)
	}
	return c.JSON(http.StatusOK, weightResponse(w))
}

func (s *Server) DeleteWeight(c echo.Context) error {
	var req weightIDRequest
	if err := s.bind(c, &req); err != nil {
		return JsonError(c, http.StatusBadRequest, err)
	}

	if err := s.weightService.Delete(c.Request().Context(), s.weightUoW(), req.ID); err != nil {
		return s.weightError(c, err)
	}

	s.alert(c, weight.EntityName, "deleted", req.ID)
	return c.NoContent(http.StatusOK)
}

func (s *Server) SearchWeights(c echo.Context) error {
	req, err := pageRequest(c)
	if err != nil {
		return JsonError(c, http.StatusBadRequest, err)
	}

	page, err := s.weightService.Search(c.Request().Context(), c.QueryParam("query"), req)
	if err != nil {
		return s.weightError(c, err)
	}

	setPaginationHeaders(c, page)
	return c.JSON(http.StatusOK, weightsResponse(page.Items))
}

type ByPeriod struct {
	Label    string   `json:"label"`
	Readings []Weight `json:"readings"`
}

func (s *Server) WeightsByDays(c echo.Context) error {
	days, err := strconv.Atoi(c.Param("days"))
	if err != nil {
		return JsonError(c, http.StatusBadRequest, "days must be an integer")
	}

	ctx := c.Request().Context()
	result, err := s.weightService.ReadingsInLastNDays(ctx, s.weightUoW(), currentCaller(c), days)
	if err != nil {
		return s.weightError(c, err)
	}

	return c.JSON(http.StatusOK, ByPeriod{
		Label:    result.Label,
		Readings: weightsResponse(result.Readings),
	})
}

func (s *Server) ReindexWeights(c echo.Context) error {
	indexed, err := s.weightService.Reindex(c.Request().Context(), s.weightUoW())
	if err != nil {
		return s.weightError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"indexed": indexed})
}

func (s *Server) weightError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, weight.ErrIDExists):
		s.failureAlert(c, weight.EntityName, "idexists")
		return JsonError(c, http.StatusBadRequest, weight.ErrIDExists)
	case errors.Is(err, weight.ErrOwnerNotFound):
		s.failureAlert(c, weight.EntityName, "ownernotfound")
		return JsonError(c, http.StatusBadRequest, weight.ErrOwnerNotFound)
	case errors.Is(err, weight.ErrWeightNotFound):
		return JsonError(c, http.StatusNotFound, weight.ErrWeightNotFound)
	case errors.Is(err, weight.ErrInvalidPeriod), errors.Is(err, domain.ErrInvalidPage):
		return JsonError(c, http.StatusBadRequest, err)
	}

	s.logger.Error("weight request failed", "path", c.Path(), "error", err)
	return JsonError(c, http.StatusInternalServerError, "internal server error")
}
