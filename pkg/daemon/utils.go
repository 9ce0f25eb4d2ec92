package daemon

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ginLogger logs every request through logger once it has been served.
// Failed requests are logged with the errors attached by the handler.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// other handler can change c.Path so:
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		start := time.Now()
		c.Next()
		latency := int(math.Ceil(float64(time.Since(start).Nanoseconds()) / 1e6))
		statusCode := c.Writer.Status()
		dataLength := max(c.Writer.Size(), 0)

		fields := logrus.Fields{
			"statusCode": statusCode,
			"latency":    latency, // ms
			"method":     c.Request.Method,
			"path":       path,
			"dataLength": dataLength,
		}
		if query != "" {
			fields["query"] = query
		}
		entry := logger.WithFields(fields)

		msg := fmt.Sprintf("%s %s %d (%dms)", c.Request.Method, path, statusCode, latency)
		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Errorf("%s: %s", msg, c.Errors.ByType(gin.ErrorTypePrivate).String())
		case statusCode >= http.StatusBadRequest:
			entry.Warnf("%s: %s", msg, c.Errors.ByType(gin.ErrorTypePrivate).String())
		default:
			entry.Debug(msg)
		}
	}
}
