package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"field-service-server/config"
	_ "field-service-server/docs"
	"field-service-server/middleware"
	"field-service-server/models"
	"field-service-server/services"
	"field-service-server/websocket"
)

// Dependencies is everything the HTTP layer needs.
type Dependencies struct {
	Config     *config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	JWT        *services.JWTService
	Users      *services.UserService
	Requests   *services.ServiceRequestService
	Tasks      *services.TaskService
	Dashboards *services.DashboardService
	Hub        *websocket.Hub
	Limiter    *middleware.RateLimiter
}

const docsPrefix = "/api/docs"

func requireAdmin() gin.HandlerFunc {
	return middleware.RequireRole(models.RoleAdmin)
}

// swaggerUI serves the generated API document at doc.json and Swagger UI
// around it. The bare prefix redirects to the UI page.
func swaggerUI() gin.HandlerFunc {
	ui := ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.DocExpansion("none"))
	return func(c *gin.Context) {
		if c.Param("any") == "/" {
			c.Redirect(http.StatusMovedPermanently, docsPrefix+"/index.html")
			return
		}
		ui(c)
	}
}

// SetupRouter builds the gin engine with the global middleware chain and all
// API routes.
func SetupRouter(d *Dependencies) *gin.Engine {
	registerValidators()

	router := gin.New()
	router.MaxMultipartMemory = 8 << 20
	// Paths are matched exactly, trailing slash included.
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(
		middleware.RequestLogger(d.Log.Named("http")),
		middleware.Recovery(d.Log),
		middleware.SecurityHeadersMiddleware(docsPrefix),
		middleware.CORSMiddleware(d.Config.Server),
		middleware.InputValidationMiddleware(),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	if d.Config.Media.Backend == config.MediaBackendLocal {
		mediaURL := "/" + strings.Trim(d.Config.Media.URL, "/")
		if mediaURL != "/" {
			router.Static(mediaURL, d.Config.Media.Root)
		}
	}

	auth := middleware.AuthMiddleware(d.JWT, d.DB)
	authLimit := middleware.RateLimitMiddleware(d.Limiter, "auth", d.Config.RateLimit.AuthPerMinute, d.Log)

	api := router.Group("/api")
	api.GET("/docs/*any", swaggerUI())
	api.GET("/ws/", middleware.WebSocketAuthMiddleware(d.JWT, d.DB), websocket.ServeWS(d.Hub, d.Config.Server.AllowedOrigins))

	limited := api.Group("", middleware.RateLimitMiddleware(d.Limiter, "api", d.Config.RateLimit.PerMinute, d.Log))
	RegisterUserRoutes(limited.Group("/users"), d, auth, authLimit)
	RegisterServiceRequestRoutes(limited, d, auth)
	RegisterTaskRoutes(limited, d, auth)
	RegisterDashboardRoutes(limited, d, auth)

	return router
}
