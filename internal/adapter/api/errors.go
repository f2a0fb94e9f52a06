package api

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

type JsonErrorModel struct {
	Message string `json:"message"`
}

func JsonError(c echo.Context, status int, content any) error {
	data := &JsonErrorModel{Message: fmt.Sprintf("%v", content)}
	return c.JSON(status, data)
}

// alert sets the headers clients use to show a notification about a change, e.g.
// X-healthlog-alert: healthlog.weight.created and X-healthlog-params: 42.
func (s *Server) alert(c echo.Context, entity, action string, id int64) {
	h := c.Response().Header()
	h.Set("X-"+s.appName+"-alert", s.appName+"."+entity+"."+action)
	h.Set("X-"+s.appName+"-params", strconv.FormatInt(id, 10))
}

// failureAlert reports a rejected request, e.g. X-healthlog-error: error.idexists.
func (s *Server) failureAlert(c echo.Context, entity, key string) {
	h := c.Response().Header()
	h.Set("X-"+s.appName+"-error", "error."+key)
	h.Set("X-"+s.appName+"-params", entity)
}
