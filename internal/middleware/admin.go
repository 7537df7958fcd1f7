package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dayfeel/auth/internal/models"
	"github.com/dayfeel/auth/internal/tokens"
)

type AdminGate struct {
	Codec *tokens.Codec
}

func NewAdminGate(codec *tokens.Codec) *AdminGate {
	return &AdminGate{Codec: codec}
}

// RequireAdmin decodes the bearer access token and lets the request
// through only when its role claim is admin. The session store is not
// consulted: access tokens live out their natural expiry.
func (g *AdminGate) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "access token required")
		}

		claims, err := g.Codec.DecodeAccess(tokenStr)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}

		if claims.Role == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "access token required")
		}
		if models.Role(claims.Role) != models.RoleAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "admins only")
		}

		c.Set("user_id", claims.Subject)
		c.Set("role", claims.Role)

		return next(c)
	}
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}
