package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RouterConfig configures the HTTP surface around a Handler.
type RouterConfig struct {
	AllowOrigins []string
	// JWTSecret enables bearer auth on /api when set.
	JWTSecret string
}

// NewRouter wires the API routes.
func NewRouter(h *Handler, rc RouterConfig) *gin.Engine {
	if len(rc.AllowOrigins) == 0 {
		rc.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	// Setup CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     rc.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now(),
		})
	})

	api := router.Group("/api")
	if rc.JWTSecret != "" {
		api.Use(JWTAuth(rc.JWTSecret))
	}
	{
		api.GET("/personas", h.ListPersonas)

		api.POST("/projects", h.CreateProject)
		api.GET("/projects", h.ListProjects)
		api.GET("/projects/:id", h.GetProject)
		api.GET("/projects/:id/slides/:slide_id/image", h.SlideImage)
		api.GET("/projects/:id/slides/:slide_id/audio", h.SlideAudio)
		api.PUT("/projects/:id/slides/:slide_id/script", h.UpdateScript)
		api.POST("/projects/:id/narrate", h.Narrate)
		api.POST("/projects/:id/render", h.Render)

		api.GET("/jobs/:job_id", h.GetStatus)
		api.GET("/jobs/:job_id/download", h.Download)
		api.GET("/jobs/:job_id/subtitles", h.DownloadSubtitle)
		api.POST("/jobs/:job_id/publish", h.Publish)
	}

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
