package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MaxHeaderAttrLength caps header values copied onto spans
const MaxHeaderAttrLength = 128

// Tracing starts a server span per request. Span names follow the route
// pattern, e.g. "POST /api/v1/invoices/:id/payments", and 5xx responses are
// marked as errors by otelgin.
func Tracing(serviceName string, opts ...otelgin.Option) gin.HandlerFunc {
	return otelgin.Middleware(serviceName, opts...)
}

// SpanAttributes tags the active server span with the request id and the
// acting staff member. It must run after Tracing and RequestID.
func SpanAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			if id := GetRequestID(c); id != "" {
				span.SetAttributes(attribute.String("request_id", truncate(id)))
			}
			if actor := c.GetHeader(ActorHeader); actor != "" {
				span.SetAttributes(attribute.String("actor", truncate(actor)))
			}
		}
		c.Next()
	}
}

func truncate(s string) string {
	if len(s) > MaxHeaderAttrLength {
		return s[:MaxHeaderAttrLength]
	}
	return s
}
