package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/tradiehub/internal/domain"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// JWTMiddleware validates the auth provider's HS256 bearer token and stores
// user_id and role on the echo context.
func JWTMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			// Browsers cannot set headers on a websocket handshake.
			if header == "" && strings.EqualFold(c.Request().Header.Get(echo.HeaderUpgrade), "websocket") {
				if tok := c.QueryParam("access_token"); tok != "" {
					header = "Bearer " + tok
				}
			}
			if !strings.HasPrefix(header, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			userID, role, err := parseToken(strings.TrimPrefix(header, "Bearer "), secret)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(ctxUserID, userID)
			c.Set(ctxRole, role)
			return next(c)
		}
	}
}

func parseToken(raw string, secret []byte) (string, string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", err
	}
	id, _ := claims["id"].(string)
	if id == "" {
		id, _ = claims["sub"].(string)
	}
	role, _ := claims["role"].(string)
	if id == "" || role == "" {
		return "", "", errors.New("token missing id or role")
	}
	return id, role, nil
}

// CallerFrom reads the identity JWTMiddleware stored on c.
func CallerFrom(c echo.Context) (domain.Caller, bool) {
	id, _ := c.Get(ctxUserID).(string)
	role, _ := c.Get(ctxRole).(string)
	caller := domain.Caller{UserID: id, Role: domain.Role(role)}
	return caller, caller.Valid() && role != ""
}
