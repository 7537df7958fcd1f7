package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dayfeel/auth/internal/middleware"
	"github.com/dayfeel/auth/internal/tokens"
)

type Deps struct {
	AuthHandler *AuthHTTP
	Codec       *tokens.Codec
	Logger      *slog.Logger
}

func Register(e *echo.Echo, d *Deps) {
	e.HTTPErrorHandler = ErrorHandler
	e.Use(middleware.RequestLogger(d.Logger))

	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e.POST("/auth/login", d.AuthHandler.Login)
	e.POST("/auth/refresh", d.AuthHandler.Refresh)
	e.POST("/users/register", d.AuthHandler.Register)

	gate := middleware.NewAdminGate(d.Codec)

	admin := e.Group("/auth/sessions")
	admin.Use(gate.RequireAdmin)
	admin.DELETE("/expired", d.AuthHandler.PurgeSessions)
}

// ErrorHandler renders every failure as {"error": "<message>"}.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "internal server error"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		message = fmt.Sprintf("%v", he.Message)
	}

	if err := c.JSON(code, echo.Map{"error": message}); err != nil {
		c.Logger().Error(err)
	}
}
