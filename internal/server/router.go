package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/inkwell-ai/inkwell-backend/internal/handlers"
)

type RouterConfig struct {
	JobsHandler      *handlers.JobsHandler
	QueueStepHandler *handlers.QueueStepHandler
	QueueSecret      string
	AllowOrigins     []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("inkwell-backend"))

	// Cors
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5174"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)
	api := router.Group("/api")
	{
		api.POST("/jobs", cfg.JobsHandler.StartJob)
		api.GET("/jobs/:id", cfg.JobsHandler.GetJobByID)
		api.POST("/jobs/:id/retry", cfg.JobsHandler.RetryJob)
		api.GET("/pipelines", cfg.JobsHandler.ListPipelines)
	}

	// ===============
	// || Internal  ||
	// ===============
	internal := router.Group("/internal")
	internal.Use(handlers.QueueAuth(cfg.QueueSecret))
	internal.POST("/queue/step", cfg.QueueStepHandler.RunStep)

	return router
}
