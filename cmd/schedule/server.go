package schedule

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Teqed/FediFetcher-sub000/internal/logger"
)

const readHeaderTimeout = 10 * time.Second

// newStatusServer builds the HTTP server exposing scheduler health and
// the summary of the most recent pass. It reports only; runs are never
// triggered over HTTP.
func newStatusServer(log logger.Interface, svc *Service, addr string) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(log))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/runs/last", func(c *gin.Context) {
		last := svc.Last()
		if last == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no completed runs yet"})
			return
		}
		c.JSON(http.StatusOK, last)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// loggingMiddleware logs each request with latency and status.
func loggingMiddleware(log logger.Interface) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("HTTP Request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
