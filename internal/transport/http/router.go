package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/keepwarm/internal/transport/http/handler"
	"github.com/ErlanBelekov/keepwarm/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, models *handler.ModelHandler, hmacKey []byte) *gin.Engine {
	r := gin.New()
	// model ids contain slashes; clients send them path-escaped
	r.UseRawPath = true
	r.UnescapePathValues = true

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	api := r.Group("/api", middleware.Auth(hmacKey))

	m := api.Group("/models")
	m.GET("", models.List)
	m.POST("", models.Upsert)
	m.GET("/:id", models.GetByID)
	m.DELETE("/:id", models.Delete)
	m.POST("/:id/start", models.Start)
	m.POST("/:id/stop", models.Stop)

	api.POST("/tick", models.Tick)
	api.GET("/catalog", models.Catalog)

	return r
}
