package gin

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rainbow-me/service-runtime/common/logger"
)

type loggingCfg struct {
	debug   bool
	trace   bool
	skipped map[string]bool
}

type responseWriterCapture struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriterCapture) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

// RequestLogging logs one line per handled request. Server errors are always logged;
// everything else only with debug enabled.
func RequestLogging(cfg loggingCfg) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.skipped[c.Request.URL.Path] {
			c.Next()
			return
		}

		var reqBody []byte
		if cfg.trace && c.Request.Body != nil {
			if bodyBytes, err := io.ReadAll(c.Request.Body); err == nil {
				reqBody = bodyBytes
				c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			}
		}

		var capture *responseWriterCapture
		if cfg.trace {
			capture = &responseWriterCapture{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
			c.Writer = capture
		}

		start := time.Now()
		c.Next()

		code := c.Writer.Status()
		level := logger.DebugLevel
		switch {
		case code >= http.StatusInternalServerError:
			level = logger.ErrorLevel
		case code >= http.StatusBadRequest:
			level = logger.WarnLevel
		}
		if !cfg.debug && level != logger.ErrorLevel {
			return
		}

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", code),
			logger.Duration("duration", time.Since(start)),
			logger.String("component", componentName),
		}
		if cfg.trace {
			fields = append(fields,
				logger.ByteString("request_body", reqBody),
				logger.ByteString("response_body", capture.body.Bytes()),
			)
		}

		// The request context carries the fields added by later middleware.
		logger.FromContext(c.Request.Context()).Log(level, "HTTP request handled", fields...)
	}
}
