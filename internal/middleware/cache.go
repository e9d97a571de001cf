package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore forbids caching of attempt state by browsers and proxies. Answers
// and timing must always come from the store.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
