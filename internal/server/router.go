package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"lcrd-backend/internal/handlers"
)

type RouterConfig struct {
	PredictHandler  *handlers.PredictHandler
	DownloadHandler *handlers.DownloadHandler
	PatientHandler  *handlers.PatientHandler
	AdminHandler    *handlers.AdminHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/predict", cfg.PredictHandler.Predict)
		api.GET("/sessions/:sessionId", cfg.PredictHandler.GetSession)

		api.GET("/download/:which/:sessionId/*filepath", cfg.DownloadHandler.Download)
		api.GET("/preview/:which/:sessionId/*filepath", cfg.DownloadHandler.Preview)

		api.POST("/patients", cfg.PatientHandler.Create)
		api.GET("/patients", cfg.PatientHandler.List)
		api.GET("/patients/:id", cfg.PatientHandler.Get)
		api.PUT("/patients/:id", cfg.PatientHandler.Update)
		api.DELETE("/patients/:id", cfg.PatientHandler.Delete)

		api.POST("/admin/audit", cfg.AdminHandler.Audit)
	}

	return router
}
