package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"basegraph.app/warden/common/logger"
	"basegraph.app/warden/internal/audit"
)

const (
	RequestIDHeader = "X-Request-Id"
	ActorHeader     = "X-Warden-Actor"
	APIKeyHeader    = "X-Api-Key"

	anonymousActor = "anonymous"
	clientKeyKey   = "client_key"
)

// RequestContext tags the request context with a request id (echoed back in
// X-Request-Id) and the audit actor and path. It also resolves the client
// key: an X-Api-Key listed in apiKeys, else the client ip.
func RequestContext(apiKeys []string) gin.HandlerFunc {
	known := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		known[k] = struct{}{}
	}

	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		actor := c.GetHeader(ActorHeader)
		if actor == "" {
			actor = anonymousActor
		}

		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
			RequestID: &requestID,
		})
		ctx = audit.WithRequest(ctx, actor, c.Request.URL.Path)
		c.Request = c.Request.WithContext(ctx)

		if key := c.GetHeader(APIKeyHeader); key != "" {
			if _, ok := known[key]; ok {
				c.Set(clientKeyKey, "key:"+key)
			}
		}

		c.Next()
	}
}

// ClientKey identifies the caller for rate limiting and cost accounting.
// Unknown API keys are ignored so a caller cannot mint fresh buckets.
func ClientKey(c *gin.Context) string {
	if key := c.GetString(clientKeyKey); key != "" {
		return key
	}
	return "ip:" + c.ClientIP()
}
