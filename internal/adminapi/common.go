// Package adminapi holds the HTTP handlers of the admin API: session
// lifecycle, chat operations and stored record queries.
package adminapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
	"gorm.io/gorm"

	"github.com/bjo163/wagate/internal/app"
	"github.com/bjo163/wagate/internal/webserver"
	"github.com/bjo163/wagate/internal/whatsapp"
)

var service *whatsapp.Service

// InitRouter wires the orchestrator into the handlers and registers
// every route on the web server.
func InitRouter(s *whatsapp.Service) {
	service = s
	registerSessionRoutes()
	registerChatRoutes()
	registerRecordRoutes()
}

// GetDB returns the database handle for a request.
func GetDB(c echo.Context) *gorm.DB {
	return webserver.DB()
}

func appCtx() app.AppContext {
	return webserver.AppCtx()
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code": 0,
		"data": data,
	})
}

func fail(c echo.Context, status int, code, message string, detail interface{}) error {
	return c.JSON(status, map[string]interface{}{
		"code":    code,
		"message": message,
		"detail":  detail,
	})
}

// failErr maps gateway errors onto the response shape, preserving the
// machine code for API clients.
func failErr(c echo.Context, err error) error {
	var apiErr *whatsapp.APIError
	if errors.As(err, &apiErr) {
		return fail(c, apiErr.Status, apiErr.Code, apiErr.Message, nil)
	}
	return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
}

func paged(c echo.Context, total int64, pos, limit int, data interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code":       0,
		"total_rows": total,
		"pos":        pos,
		"limit":      limit,
		"data":       data,
	})
}

// parsePagination reads pos/limit query params with sane bounds.
func parsePagination(c echo.Context) (pos, limit int) {
	pos = cast.ToInt(c.QueryParam("pos"))
	if pos < 0 {
		pos = 0
	}
	limit = cast.ToInt(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 40
	}
	if limit > 500 {
		limit = 500
	}
	return pos, limit
}
