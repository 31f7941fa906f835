package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"habitat/server/internal/auth"
	"habitat/server/internal/upload"
)

// RouterOptions configures the middleware around the handlers.
type RouterOptions struct {
	Resolver    *auth.Resolver
	Limiter     *RateLimiter
	Metrics     *Metrics
	CORSOrigins []string
	UploadDir   string
	Logger      *logrus.Logger
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(handler *Handler, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.Logger != nil {
		router.Use(RequestLogger(opts.Logger))
	}
	if opts.Metrics != nil {
		router.Use(opts.Metrics.Middleware())
	}
	if len(opts.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	router.Use(ResolveCaller(opts.Resolver))

	SetupRoutes(router, handler, opts)
	return router
}

func SetupRoutes(router *gin.Engine, handler *Handler, opts RouterOptions) {
	limited := func(c *gin.Context) { c.Next() }
	if opts.Limiter != nil {
		limited = opts.Limiter.Handler()
	}

	router.GET("/health", handler.Health)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}
	if opts.UploadDir != "" {
		router.Static(upload.PublicPrefix, opts.UploadDir)
	}

	api := router.Group("/api")
	{
		api.POST("/users/token", limited, handler.Login)
		api.GET("/users/me", handler.Me)
		api.GET("/users", handler.ListUsers)
		api.POST("/users", handler.CreateUser)
		api.GET("/users/:id", handler.GetUser)
		api.PUT("/users/:id", handler.UpdateUser)
		api.DELETE("/users/:id", handler.DeleteUser)

		api.GET("/properties", handler.ListProperties)
		api.GET("/map/properties", handler.PropertyMap)
		api.POST("/properties", handler.CreateProperty)
		api.GET("/properties/:id", handler.GetProperty)
		api.PUT("/properties/:id", handler.UpdateProperty)
		api.DELETE("/properties/:id", handler.DeleteProperty)

		api.GET("/team", handler.ListTeam)
		api.POST("/team", handler.CreateTeamMember)
		api.GET("/team/:id", handler.GetTeamMember)
		api.PUT("/team/:id", handler.UpdateTeamMember)
		api.DELETE("/team/:id", handler.DeleteTeamMember)

		api.GET("/settings", handler.GetSettings)
		api.PUT("/settings", handler.UpdateSettings)

		api.POST("/contact", limited, handler.SubmitContact)
		api.GET("/contact", handler.ListContacts)
		api.GET("/contact/:id", handler.GetContact)
		api.PUT("/contact/:id", handler.UpdateContact)
		api.POST("/contact/:id/send-email", handler.ForwardContact)

		api.POST("/uploads/:category", handler.Upload)
	}
}
