// Package api serves read-only runtime diagnostics for a live capture run.
package api

import (
	"net/http"

	"github.com/chen-vision/facewatch/pkg/video"
	"github.com/gin-gonic/gin"
)

// Source exposes the live counters the endpoints report.
type Source interface {
	Stats() video.Stats
}

// SetRouter builds the diagnostics router: store size, frame counters,
// per-window rates and fan-out drop counts.
func SetRouter(src Source) *gin.Engine {
	r := gin.Default()

	apiRoutes := r.Group("/api")

	apiRoutes.GET("/healthz", func(ctx *gin.Context) {
		ctx.Status(http.StatusOK)
	})

	apiRoutes.GET("/stats", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, src.Stats())
	})

	return r
}
