package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callkit/internal/auth"
	"callkit/internal/calling"
	"callkit/internal/calls"
	"callkit/internal/config"
	"callkit/internal/rtc"
	"callkit/internal/signaling"
	"callkit/pkg/logger"
	"callkit/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var tokens calling.TokenSource
	if cfg.RTC.TokenSecret != "" {
		tm, err := auth.NewRoomTokenManager(cfg.RTC.TokenSecret, cfg.RTC.TokenIssuer, cfg.RTC.TokenTTL)
		if err != nil {
			log.Error("token manager init failed", "err", err)
			os.Exit(1)
		}
		tokens = func(uid, channel string) (string, error) {
			return tm.Issue(time.Now(), uid, channel)
		}
	}

	var repo calls.Repository
	if cfg.DBEnabled() {
		db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		repo = calls.NewPostgresRepo(db)
	} else {
		log.Warn("no DB_HOST configured, call records held in memory")
		repo = calls.NewMemoryRepo()
	}
	recorder := calls.NewService(repo)

	engine := rtc.NewMemoryEngine()
	emitter := calling.NewEmitter()

	var gateway signaling.Gateway
	var listen func(orch *calling.Orchestrator)
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		rg := signaling.NewRedisGateway(rdb, cfg.Call.Account, log)
		gateway = rg
		listen = func(orch *calling.Orchestrator) {
			go func() {
				if err := rg.Listen(rootCtx, orch); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("signaling listener stopped", "err", err)
					stop()
				}
			}()
		}
	} else {
		log.Warn("no REDIS_HOST configured, using in-process signaling hub")
		hub := signaling.NewHub()
		peer := hub.Peer(cfg.Call.Account)
		gateway = peer
		listen = func(orch *calling.Orchestrator) { peer.Connect(orch) }
	}

	orch := calling.New(calling.Config{
		Account:     cfg.Call.Account,
		CallTimeout: cfg.Call.Timeout,
	}, gateway, engine, emitter, recorder, tokens, log)
	engine.Bind(orch)
	listen(orch)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, orch)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("callkitd listening", "addr", srv.Addr, "env", cfg.App.Env, "account", cfg.Call.Account)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	// Leave any live call before the process goes away.
	hangupCtx, cancelHangup := context.WithTimeout(context.Background(), 5*time.Second)
	if err := orch.Hangup(hangupCtx); err != nil && !errors.Is(err, calling.ErrNoActiveCall) {
		log.Warn("hangup on shutdown failed", "err", err)
	}
	cancelHangup()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
