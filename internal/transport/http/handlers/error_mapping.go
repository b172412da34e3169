package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
	"github.com/mkalens/pipehub-identity/internal/infra/security"
	"github.com/mkalens/pipehub-identity/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
// Blocker and removal-denial errors carry user-facing detail and are surfaced verbatim before the case table runs.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	var blocked *usecase.BlockedError
	if errors.As(err, &blocked) {
		c.JSON(http.StatusConflict, BlockedResponse{
			Error:    "operation blocked",
			Blockers: domain.BlockerMessages(blocked.Blockers),
			TraceID:  NewErrorResponse(c, "").TraceID,
		})
		return
	}

	var denied *usecase.RemovalDeniedError
	if errors.As(err, &denied) {
		c.JSON(http.StatusConflict, NewErrorResponse(c, denied.Reason))
		return
	}

	var weak *security.PasswordValidationError
	if errors.As(err, &weak) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, weak.Error()))
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}
