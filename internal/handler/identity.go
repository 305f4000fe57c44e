package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Identity is established by the gateway in front of this service, which
// forwards the authenticated user in these headers.
const (
	HeaderUserId   = "X-User-Id"
	HeaderUserRole = "X-User-Role"

	RoleAdvertiser = "advertiser"
	RoleInfluencer = "influencer"
	RoleAdmin      = "admin"

	ctxUserId = "userId"
)

func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader(HeaderUserId), 10, 64)
		if err != nil || id <= 0 {
			ErrorResponse(c, http.StatusUnauthorized, "missing or invalid "+HeaderUserId)
			c.Abort()
			return
		}
		if c.GetHeader(HeaderUserRole) != role {
			ErrorResponse(c, http.StatusForbidden, role+" role required")
			c.Abort()
			return
		}
		c.Set(ctxUserId, id)
		c.Next()
	}
}

func userId(c *gin.Context) int64 {
	return c.GetInt64(ctxUserId)
}
