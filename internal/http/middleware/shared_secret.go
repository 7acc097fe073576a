package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

// SecretHeader carries the secret shared with the platform connector.
const SecretHeader = "X-Hull-Secret"

// SharedSecret rejects requests whose SecretHeader does not match secret.
// An empty secret disables the check (local development).
func SharedSecret(secret string) echo.MiddlewareFunc {
	want := []byte(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(want) == 0 {
				return next(c)
			}
			got := strings.TrimSpace(c.Request().Header.Get(SecretHeader))
			if got == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing secret"})
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid secret"})
			}
			return next(c)
		}
	}
}
