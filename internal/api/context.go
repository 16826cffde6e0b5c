package api

import (
	"github.com/gin-gonic/gin"
)

// userIDFromContext 读取鉴权中间件注入的用户 ID。
func userIDFromContext(c *gin.Context) (uint, bool) {
	value, ok := c.Get("userID")
	if !ok {
		return 0, false
	}
	userID, ok := value.(uint)
	return userID, ok
}
