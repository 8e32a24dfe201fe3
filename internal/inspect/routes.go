package inspect

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerRoutes sets up the inspector routes on the Gin router.
func registerRoutes(router *gin.Engine, opts Opts) {
	api := router.Group("/api")
	api.GET("/state", handleState(opts))
	api.GET("/tasks", handleTasks(opts))
	api.GET("/error", handleError(opts))
	api.GET("/events", handleSSE(opts))
}

func handleState(opts Opts) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, opts.Snapshot())
	}
}

func handleTasks(opts Opts) gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks := opts.Tasks()
		c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
	}
}

func handleError(opts Opts) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": opts.Error()})
	}
}
