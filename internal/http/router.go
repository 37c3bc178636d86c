package api

import (
	stdhttp "net/http"

	"optiroute/internal/auth"
	intconfig "optiroute/internal/config"
	"optiroute/internal/domain"
	h "optiroute/internal/http/handlers"
	"optiroute/internal/http/middleware"
	"optiroute/internal/realtime"
	"optiroute/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
)

type Deps struct {
	Env      intconfig.Env
	Log      *zap.Logger
	Verifier auth.Verifier
	Requests services.RequestService
	Gateway  *realtime.Gateway
	// Metrics serves /metrics when set.
	Metrics stdhttp.Handler
}

func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.L()
	}
	binding.EnableDecoderDisallowUnknownFields = true

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(d.Log), gin.Recovery(), middleware.CORS(d.Env.CORSAllowedOrigins))

	if err := r.SetTrustedProxies(nil); err != nil {
		d.Log.Warn("failed to set trusted proxies", zap.Error(err))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(stdhttp.StatusNotFound, gin.H{
			"error":  "route not found",
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	})

	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	var notifier h.InProgressNotifier
	if d.Gateway != nil {
		notifier = d.Gateway
	}
	requests := h.NewRequestHandler(d.Requests, notifier)
	chat := h.NewChatHandler(d.Gateway, d.Env.CORSAllowedOrigins)
	elevated := middleware.RequireRoles(domain.RoleStaff, domain.RoleAdmin)

	api := r.Group("/api")
	{
		api.GET("/health", h.Health)
		api.GET("/db-check", h.DBCheck)
		api.GET("/routes", h.Routes)

		// handshake auth happens after upgrade
		api.GET("/ws", chat.Connect)

		authed := api.Group("", middleware.RequireAuth(d.Verifier))

		reqs := authed.Group("/requests")
		reqs.POST("", requests.Create)
		reqs.GET("", requests.List)
		reqs.GET("/pending", requests.Pending)
		reqs.GET("/mine", requests.Mine)
		reqs.GET("/assigned", requests.Assigned)
		reqs.GET("/users/:userId", elevated, requests.ByUser)
		reqs.GET("/drivers/:driverId", elevated, requests.ByDriver)
		reqs.GET("/:id", requests.Get)
		reqs.PATCH("/:id", requests.Update)
		reqs.PUT("/:id", requests.Update)
		reqs.DELETE("/:id", requests.Delete)

		authed.GET("/chat/online", elevated, chat.Online)
	}

	h.SetRouter(r)
	return r
}
