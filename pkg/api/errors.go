package api

import (
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentmesh/agentmesh/pkg/models"
)

// mapServiceError translates a service-layer error into the JSON error
// response.
func mapServiceError(c *echo.Context, err error) error {
	code := models.ErrorCode(err)
	status := statusFor(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the log, not the response.
		slog.Error("Unexpected service error", "error", err)
		msg = "internal server error"
	}
	return c.JSON(status, &ErrorResponse{
		Error:     msg,
		Code:      code,
		Timestamp: time.Now().UTC(),
	})
}

func statusFor(code string) int {
	switch code {
	case models.CodeValidation, models.CodeCyclicDependency:
		return http.StatusBadRequest
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeInvalidState, models.CodeInvalidTransition:
		return http.StatusConflict
	case models.CodeCapacityExceeded:
		return http.StatusTooManyRequests
	case models.CodeTimeout:
		return http.StatusGatewayTimeout
	case models.CodeDependencyUnavailable:
		return http.StatusServiceUnavailable
	case models.CodeUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// badRequest writes a 400 with the VALIDATION code.
func badRequest(c *echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, &ErrorResponse{
		Error:     msg,
		Code:      models.CodeValidation,
		Timestamp: time.Now().UTC(),
	})
}
