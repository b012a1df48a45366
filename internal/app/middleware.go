package app

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// userContext copies X-User-ID into the gin context as user_id, the key the auth layer uses.
func userContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get("user_id"); !exists {
			if id, err := strconv.ParseUint(c.GetHeader("X-User-ID"), 10, 32); err == nil && id > 0 {
				c.Set("user_id", uint(id))
			}
		}
		c.Next()
	}
}
