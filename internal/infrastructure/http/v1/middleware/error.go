package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bizledger/internal/core/apperror"
	appctx "bizledger/internal/core/context"
	"bizledger/pkg/logger"
)

// sequenceRetryAfter is advertised to clients when no number could be allocated.
const sequenceRetryAfter = 2

// ErrorHandler renders the last handler error as {code, message, details}.
// Errors that are not AppErrors become an opaque 500.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		ctx := c.Request.Context()
		err := c.Errors.Last().Err

		appErr, ok := apperror.AsAppError(err)
		switch {
		case !ok:
			logger.Error(ctx, "unhandled error", "route", c.FullPath(), "error", err)
			appErr = apperror.NewInternal(err).WithDetail("request_id", appctx.GetRequestID(ctx))
		case appErr.HTTPStatus >= http.StatusInternalServerError:
			logger.Error(ctx, "request failed", "code", appErr.Code, "error", appErr)
		case appErr.Err != nil:
			logger.Warn(ctx, "request rejected", "code", appErr.Code, "cause", appErr.Err)
		}

		if appErr.Code == apperror.CodeSequenceUnavailable {
			c.Header("Retry-After", strconv.Itoa(sequenceRetryAfter))
		}

		c.JSON(appErr.HTTPStatus, gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
			"details": appErr.Details,
		})
	}
}
