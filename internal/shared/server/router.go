package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"plant-backend/internal/analyses"
	"plant-backend/internal/contextdb"
	"plant-backend/internal/services/health"
	"plant-backend/internal/shared/config"
	"plant-backend/internal/shared/metrics"
	"plant-backend/internal/shared/server/middleware"
	"plant-backend/internal/shared/server/respond"
)

// RouterDeps bundles the handlers the router wires up.
type RouterDeps struct {
	Config          config.Config
	AnalysisHandler *analyses.Handler
	ContextHandler  *contextdb.Handler
	Health          *health.Service
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", healthHandler(deps.Health))
	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(api)
	}
	if deps.ContextHandler != nil {
		deps.ContextHandler.RegisterRoutes(api)
	}

	return r
}

func healthHandler(svc *health.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc == nil {
			respond.JSON(c, http.StatusOK, gin.H{"status": "ok"})
			return
		}
		report := svc.Status(c.Request.Context())
		status := http.StatusOK
		if report.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
