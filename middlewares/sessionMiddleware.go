package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/finreport_backend/utils"
)

const (
	HeaderCorrelationId = "x-correlation-id"
	HeaderUser          = "x-user"
)

// CorrelationMiddleware keeps the caller's correlation id or mints one,
// and echoes it on the response.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := strings.TrimSpace(c.GetHeader(HeaderCorrelationId))
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header(HeaderCorrelationId, cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

// SessionMiddleware records who submits. Authentication happens upstream;
// the header is taken as given.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := strings.TrimSpace(c.GetHeader(HeaderUser))
		if user == "" {
			c.Next()
			return
		}
		c.Request = c.Request.WithContext(utils.SetUserNameInContext(c.Request.Context(), user))
		c.Next()
	}
}
