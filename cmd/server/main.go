package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/voxhub/asr-gateway/internal/account"
	"github.com/voxhub/asr-gateway/internal/config"
	"github.com/voxhub/asr-gateway/internal/db"
	"github.com/voxhub/asr-gateway/internal/dispatch"
	"github.com/voxhub/asr-gateway/internal/events"
	"github.com/voxhub/asr-gateway/internal/httpapi"
	"github.com/voxhub/asr-gateway/internal/httpapi/handlers"
	"github.com/voxhub/asr-gateway/internal/job"
	"github.com/voxhub/asr-gateway/internal/logging"
	"github.com/voxhub/asr-gateway/internal/plan"
	"github.com/voxhub/asr-gateway/internal/quota"
	"github.com/voxhub/asr-gateway/internal/usage"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logging.New()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	if err := gdb.AutoMigrate(
		&plan.Plan{},
		&account.User{}, &account.Profile{}, &account.Subscription{},
		&account.Application{}, &account.APIToken{},
		&job.Job{}, &usage.Entry{},
	); err != nil {
		log.Fatal("migrate failed", zap.Error(err))
	}

	plans := plan.NewRegistry(gdb, nil)
	accounts := account.NewService(gdb, plans)
	store := job.NewStore(gdb)
	ledger := usage.NewStore(gdb)

	publisher, err := dispatch.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal("rabbit connect failed", zap.Error(err))
	}
	defer publisher.Close()

	var ev events.Publisher = events.Nop{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ev = events.NewRedis(rdb, log)
	}

	svc := job.NewService(store, quota.NewGuard(ledger), publisher, ev, log, cfg.DefaultLanguage)
	h := handlers.NewHandler(cfg, log, accounts, plans, svc, store, ledger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server started", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}
