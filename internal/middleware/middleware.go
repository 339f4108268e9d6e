package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"nft-shop/pkg"
)

// TokenValidator is satisfied by service.AuthService.
type TokenValidator interface {
	ValidateToken(token string) error
}

// OperatorAuth lets a request through only with a valid Bearer operator token.
func OperatorAuth(auth TokenValidator, log pkg.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || tokenString == "" {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}
			if err := auth.ValidateToken(tokenString); err != nil {
				log.Warn("rejected operator token",
					zap.String("path", c.Request().URL.Path), zap.Error(err))
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
