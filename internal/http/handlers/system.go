package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	intconfig "optiroute/internal/config"
	intdb "optiroute/internal/db"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	routerMu sync.RWMutex
	router   *gin.Engine
)

// SetRouter stores the active gin engine for /api/routes.
func SetRouter(r *gin.Engine) {
	routerMu.Lock()
	defer routerMu.Unlock()
	router = r
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "optiroute backend running"})
}

func DBCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if err := intconfig.EnsureDB(ctx); err != nil {
		zap.L().Warn("db check failed", zap.Error(err))
		respondError(c, http.StatusServiceUnavailable, "unavailable", "database not connected")
		return
	}

	var count int
	if err := intconfig.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+intdb.RequestsTable).Scan(&count); err != nil {
		zap.L().Warn("db check query failed", zap.Error(err))
		respondError(c, http.StatusServiceUnavailable, "unavailable", "database query failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "database connection OK", "requests_in_db": count})
}

func Routes(c *gin.Context) {
	routerMu.RLock()
	r := router
	routerMu.RUnlock()
	if r == nil {
		respondError(c, http.StatusServiceUnavailable, "unavailable", "router not ready")
		return
	}

	routes := r.Routes()
	out := make([]gin.H, 0, len(routes))
	for _, rt := range routes {
		out = append(out, gin.H{
			"method":  rt.Method,
			"path":    rt.Path,
			"handler": rt.Handler,
		})
	}
	c.JSON(http.StatusOK, gin.H{"routes": out})
}
