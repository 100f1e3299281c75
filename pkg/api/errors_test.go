package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentmesh/agentmesh/pkg/models"
)

func TestStatusFor(t *testing.T) {
	cases := map[string]int{
		models.CodeValidation:            http.StatusBadRequest,
		models.CodeCyclicDependency:      http.StatusBadRequest,
		models.CodeNotFound:              http.StatusNotFound,
		models.CodeInvalidState:          http.StatusConflict,
		models.CodeInvalidTransition:     http.StatusConflict,
		models.CodeCapacityExceeded:      http.StatusTooManyRequests,
		models.CodeTimeout:               http.StatusGatewayTimeout,
		models.CodeDependencyUnavailable: http.StatusServiceUnavailable,
		models.CodeUpstreamFailure:       http.StatusBadGateway,
		models.CodeInternal:              http.StatusInternalServerError,
		"":                               http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, statusFor(code), "code %q", code)
	}
}
