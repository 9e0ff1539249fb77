package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/campusprint/printdesk/internal/core"
)

// statusClientClosedRequest answers requests whose client went away.
const statusClientClosedRequest = 499

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{core.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{core.ErrUnreadableDocument, http.StatusBadRequest, "unreadable_document"},
	{core.ErrNotFound, http.StatusNotFound, "not_found"},
	{core.ErrAlreadyPaid, http.StatusConflict, "already_paid"},
	{core.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{core.ErrCodeSpaceExhausted, http.StatusServiceUnavailable, "code_space_exhausted"},
	{core.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	{context.Canceled, statusClientClosedRequest, "canceled"},
}

// writeError maps a lifecycle error onto its HTTP status. Server-side
// failures are logged and answered with a generic message.
func writeError(c *gin.Context, log zerolog.Logger, err error) {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			msg := err.Error()
			if m.status >= 500 {
				log.Warn().Err(err).Str("path", c.FullPath()).Msg(m.code)
			}
			c.JSON(m.status, ErrorResponse{Error: m.code, Message: msg})
			return
		}
	}

	log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
