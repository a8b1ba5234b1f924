// Package handlers provides the HTTP collaborator surfaces of the bridge:
// the static asset server and the status API.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewStaticRouter builds the gin router that serves the bundled web assets
// with permissive CORS, plus the health and status endpoints. This server is
// a collaborator of the relay core and runs on its own port.
func NewStaticRouter(staticDir string, status *StatusHandler) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	api := r.Group("/api")
	status.RegisterRoutes(api)

	// Everything else is a static asset.
	fileServer := http.FileServer(http.Dir(staticDir))
	r.NoRoute(gin.WrapH(fileServer))

	return r
}

// corsMiddleware allows the web interface to reach the bridge from any
// origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
