package gin

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"github.com/rainbow-me/service-runtime/common/env"
	"github.com/rainbow-me/service-runtime/common/logger"
	apperrors "github.com/rainbow-me/service-runtime/grpc/errors"
	"github.com/rainbow-me/service-runtime/observability"
)

// ErrorHandlingMiddleware renders the last handler error through the same error model as
// gRPC calls: the error is translated, its code mapped to an HTTP status, and only the
// caller-facing message and kind are written out.
func ErrorHandlingMiddleware(c *gin.Context) {
	c.Next()
	if len(c.Errors) == 0 {
		return
	}
	err := c.Errors.Last().Err
	ctx := c.Request.Context()

	e := apperrors.Translate(err)
	httpStatus := runtime.HTTPStatusFromCode(e.Code)

	if e.Kind == apperrors.KindInternal {
		logger.FromContext(ctx).Error("Error in gin http handler",
			logger.String("path", c.FullPath()),
			logger.Error(err),
		)
		if env.IsLocalApplicationEnv() {
			_, _ = fmt.Fprintf(os.Stderr, "Error in gin http handler: %+v\n", err)
		}
	}
	observability.SetError(ctx, string(e.Kind), e.Message)

	c.AbortWithStatusJSON(httpStatus, gin.H{
		"message": e.Message,
		"kind":    e.Kind,
	})
}

// PanicRecoveryMiddleware handles panics, logs them appropriately with our logging framework
// and tags the span with the error
func PanicRecoveryMiddleware(c *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			ctx := c.Request.Context()
			logger.FromContext(ctx).Error("Recovered from panic in gin http handler", logger.WithPanic(r)...)
			if env.IsLocalApplicationEnv() {
				_, _ = fmt.Fprintf(os.Stderr, "%s\n", debug.Stack())
			}
			observability.SetError(ctx, "panic", fmt.Sprintf("%v", r))
			c.AbortWithStatusJSON(500, gin.H{
				"message": apperrors.InternalMessage,
				"kind":    apperrors.KindInternal,
			})
		}
	}()
	c.Next()
}

// TimeoutMiddleware sets a timeout on the request context
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
