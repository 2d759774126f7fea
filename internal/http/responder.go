package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/stable-scheduler/internal/logging"
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: logging.Default(logger)}
}

func (r responder) writeJSON(c *gin.Context, status int, payload any) {
	if status == http.StatusNoContent || payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}

// writeError writes an errorResponse. Server errors are logged; client errors
// only at debug level.
func (r responder) writeError(c *gin.Context, status int, code string, err error) {
	message := http.StatusText(status)
	if err != nil {
		message = err.Error()
		logger := r.loggerFor(c)
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(c.Request.Context(), "request failed", "status", status, "error_code", code, "error", err)
		} else {
			logger.DebugContext(c.Request.Context(), "request rejected", "status", status, "error_code", code, "error", err)
		}
	}
	r.writeJSON(c, status, errorResponse{ErrorCode: code, Message: message})
}

func (r responder) loggerFor(c *gin.Context) *slog.Logger {
	if logger := logging.FromContext(c.Request.Context()); logger != nil {
		return logger
	}
	return r.logger
}

type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}
