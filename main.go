package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"optiroute/internal/auth"
	"optiroute/internal/cache"
	intconfig "optiroute/internal/config"
	intdb "optiroute/internal/db"
	router "optiroute/internal/http"
	"optiroute/internal/metrics"
	"optiroute/internal/realtime"
	"optiroute/internal/repositories"
	"optiroute/internal/services"
	"optiroute/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	env := intconfig.LoadEnv()
	if env.GinMode != "" {
		gin.SetMode(env.GinMode)
	}

	logger := utils.NewLogger(env.GinMode)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := intconfig.ConnectDB(env.DBDSN)
	if err != nil {
		logger.Fatal("failed to connect to MySQL", zap.Error(err))
	}
	defer intconfig.CloseDB()

	if err := intdb.EnsureSchema(ctx, db); err != nil {
		logger.Fatal("failed to prepare schema", zap.Error(err))
	}

	var rdb *redis.Client
	if client, err := intconfig.NewRedis(ctx, env); err != nil {
		logger.Warn("redis unavailable, using in-memory cache", zap.String("addr", env.RedisAddr), zap.Error(err))
	} else {
		defer client.Close()
		rdb = client
	}
	store := cache.NewCache(ctx, rdb)

	m := metrics.New(env.MetricsNamespace, prometheus.DefaultRegisterer)
	verifier := auth.NewJWT(env.JWTSecret, env.JWTTTL)

	gateway := realtime.NewGateway(realtime.GatewayConfig{
		Verifier:    verifier,
		Metrics:     m,
		Log:         logger,
		SendBuffer:  env.ChatSendBuffer,
		EventBuffer: env.ChatEventBuffer,
	})

	svc := services.RequestService{
		Store:             repositories.RequestRepository{DB: db},
		Cache:             store,
		Metrics:           m,
		Log:               logger,
		StrictTransitions: env.StrictTransitions,
	}

	r := router.NewRouter(router.Deps{
		Env:      env,
		Log:      logger,
		Verifier: verifier,
		Requests: svc,
		Gateway:  gateway,
		Metrics:  promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:              env.AppAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", env.AppAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return gateway.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
	logger.Info("server stopped cleanly")
}
