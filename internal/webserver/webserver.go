// Package webserver hosts the admin HTTP API on echo. Route
// registration is decoupled through ApiGET/ApiPOST so handler packages
// can attach themselves without importing the server.
package webserver

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bjo163/wagate/internal/app"
)

var server *WebServer

// WebServer wraps the echo instance and the API route group.
type WebServer struct {
	appCtx app.AppContext
	root   *echo.Echo
	api    *echo.Group
}

// Init builds the server: recovery, request logging, API-key guard on
// /api/v1 and a static mount for locally stored media.
func Init(a app.AppContext) *WebServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI: true, LogStatus: true, LogMethod: true, LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))
	e.Use(middleware.BodyLimit("64M"))

	if root := a.Config().Storage.LocalRoot; root != "" {
		e.Static("/public", root)
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "ok"})
	})

	api := e.Group("/api/v1")
	api.Use(apiKeyMiddleware(a))

	server = &WebServer{appCtx: a, root: e, api: api}
	return server
}

// apiKeyMiddleware guards the API with the configured key. An empty
// configured key leaves the API open, which is only sane behind a
// trusted proxy.
func apiKeyMiddleware(a app.AppContext) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			want := a.Config().Web.ApiKey
			if want == "" {
				return next(c)
			}
			got := c.Request().Header.Get("X-Api-Key")
			if got == "" {
				got = c.QueryParam("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"code":    "UNAUTHORIZED",
					"message": "invalid api key",
				})
			}
			return next(c)
		}
	}
}

// Listen serves until the listener fails or the server is shut down.
func Listen() error {
	cfg := server.appCtx.Config().Web
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	zap.L().Info("admin api listening", zap.String("addr", addr))
	return server.root.Start(addr)
}

// DB exposes the application's database handle to route handlers.
func DB() *gorm.DB {
	return server.appCtx.DB()
}

// AppCtx exposes the application context to route handlers.
func AppCtx() app.AppContext {
	return server.appCtx
}

func ApiGET(path string, h echo.HandlerFunc) {
	server.api.GET(path, h)
}

func ApiPOST(path string, h echo.HandlerFunc) {
	server.api.POST(path, h)
}

func ApiPUT(path string, h echo.HandlerFunc) {
	server.api.PUT(path, h)
}

func ApiDELETE(path string, h echo.HandlerFunc) {
	server.api.DELETE(path, h)
}
