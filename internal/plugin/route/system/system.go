package system

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/gigmarket/chat-service/internal/registry/route"
)

// Check reports whether a dependency is healthy.
type Check func(ctx context.Context) error

var (
	ready  atomic.Bool
	checks atomic.Pointer[[]Check]
)

// MarkReady signals that the service has finished initializing. Call this once
// StartServer has completed successfully.
func MarkReady() {
	ready.Store(true)
}

// SetReadinessChecks installs dependency checks run by /ready after MarkReady.
func SetReadinessChecks(c ...Check) {
	checks.Store(&c)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(r *gin.Engine) error {
			// Liveness: process is up
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			r.GET("/ready", readiness)

			r.GET("/metrics", gin.WrapH(promhttp.Handler()))

			return nil
		},
	})
}

func readiness(c *gin.Context) {
	if !ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	if p := checks.Load(); p != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		for _, check := range *p {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
