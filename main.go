package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MeshHub/global/config"
	"MeshHub/logger"
	"MeshHub/service/gateway"
	"MeshHub/service/gateway/handlers"
	"MeshHub/service/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("MESHHUB_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Errorf("[main] load config: %v", err)
		os.Exit(1)
	}

	if err := storage.InitRedis(cfg.Redis); err != nil {
		logger.Errorf("[main] redis init: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mongoStore, err := storage.NewMongoStore(ctx, cfg.Mongo)
	if err != nil {
		logger.Errorf("[main] mongo init: %v", err)
		os.Exit(1)
	}
	store := storage.NewCachedStore(mongoStore)

	var identity gateway.IdentityStore
	if cfg.Postgres.DSN != "" {
		pg, perr := storage.NewPGIdentity(ctx, cfg.Postgres.DSN)
		if perr != nil {
			logger.Errorf("[main] postgres init: %v", perr)
			os.Exit(1)
		}
		defer pg.Close()
		identity = pg
	} else {
		identity = storage.AllowAllIdentity{}
	}

	srv := gateway.NewServer(cfg, gateway.Deps{
		Identity: identity,
		Store:    store,
		Mirror:   storage.NewMirror(cfg.HeartbeatInterval),
	})
	handlers.Register(srv)
	srv.Start()

	engine := gin.New()
	engine.Use(gin.Recovery())
	srv.RegisterRoutes(engine)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}
	go func() {
		logger.Infof("[main] gateway listening on %s node=%s", cfg.HTTPAddr, cfg.NodeId)
		if serr := httpSrv.ListenAndServe(); serr != nil && serr != http.ErrServerClosed {
			logger.Errorf("[main] http serve: %v", serr)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("[main] shutting down")

	srv.Close()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = httpSrv.Shutdown(shutCtx)
}
