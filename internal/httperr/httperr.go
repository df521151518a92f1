// Package httperr renders domain errors as echo JSON responses.
package httperr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/tradiehub/internal/domain"
)

// Status maps an error kind to an HTTP status code.
func Status(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindStateConflict:
		return http.StatusConflict
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindResource:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindExternalProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Body builds the JSON error payload. Internal errors never leak details.
func Body(err error) echo.Map {
	var de *domain.Error
	if !errors.As(err, &de) {
		return echo.Map{"error": "internal server error"}
	}
	body := echo.Map{"error": de.Message, "code": de.Code}
	switch de.Kind {
	case domain.KindStateConflict:
		body["error"] = "this action is no longer available"
		body["detail"] = de.Message
	case domain.KindExternalProvider:
		body["error"] = "payment could not be completed, please retry"
	}
	for k, v := range de.Metadata {
		if _, taken := body[k]; !taken {
			body[k] = v
		}
	}
	return body
}

// Write sends err to the client and logs server-side failures.
func Write(c echo.Context, err error) error {
	status := Status(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"status", status,
			"err", err,
		)
	}
	return c.JSON(status, Body(err))
}
