package api

import (
	"servicecatalog-cron/api/v1/catalog"
	"servicecatalog-cron/api/v1/events"
	"servicecatalog-cron/api/v1/health"
	"servicecatalog-cron/config"
	v1 "servicecatalog-cron/services/v1"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Deps are the services the HTTP API exposes.
type Deps struct {
	Catalog   *v1.Catalog
	Scheduler *v1.Scheduler
	Metrics   v1.RunMetrics
	Hub       *v1.EventHub
	Backend   string
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	SetupRoutes(r, deps)
	return r
}

func StartServer(deps Deps) error {
	return NewRouter(deps).Run(":" + config.AppConfig.Port)
}

func SetupRoutes(r *gin.Engine, deps Deps) {
	v1Group := r.Group("/api/v1")
	{
		healthApi := v1Group.Group("/health")
		{
			var jobs func() []string
			if deps.Scheduler != nil {
				jobs = deps.Scheduler.Jobs
			}
			healthApi.GET("", health.GetHealthCron(deps.Backend, jobs))
		}

		catalog.NewHandler(deps.Catalog, deps.Scheduler, deps.Metrics).Register(v1Group)

		if deps.Hub != nil {
			v1Group.GET("/events/ws", events.Stream(deps.Hub))
		}
	}
}
