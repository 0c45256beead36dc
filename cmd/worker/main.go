package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/voxhub/asr-gateway/internal/config"
	"github.com/voxhub/asr-gateway/internal/db"
	"github.com/voxhub/asr-gateway/internal/dispatch"
	"github.com/voxhub/asr-gateway/internal/engine"
	"github.com/voxhub/asr-gateway/internal/events"
	"github.com/voxhub/asr-gateway/internal/job"
	"github.com/voxhub/asr-gateway/internal/logging"
	"github.com/voxhub/asr-gateway/internal/usage"
	"github.com/voxhub/asr-gateway/internal/worker"
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
	if err := gdb.AutoMigrate(&job.Job{}, &usage.Entry{}); err != nil {
		log.Fatal("migrate failed", zap.Error(err))
	}

	var ev events.Publisher = events.Nop{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ev = events.NewRedis(rdb, log)
	}

	runner := worker.NewRunner(
		job.NewStore(gdb),
		usage.NewStore(gdb),
		engine.NewClient(cfg.EngineURL, cfg.EngineTimeout),
		ev,
		log,
		cfg.WordCost,
		cfg.WorkerMaxRetries,
		cfg.WorkerRetryBackoff,
	)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial failed", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel failed", zap.Error(err))
	}
	defer ch.Close()

	// same topology as the publisher; whichever side starts first declares it
	if err := dispatch.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal("topology declare failed", zap.Error(err))
	}

	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos failed", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started",
		zap.String("queue", cfg.RabbitQueue),
		zap.Int("concurrency", concurrency))

	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				var task dispatch.TaskMessage
				if err := json.Unmarshal(d.Body, &task); err != nil || task.JobID == "" {
					log.Warn("bad message, dead-lettering",
						zap.Int("worker", workerID),
						zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := runner.Run(ctx, task); err != nil {
					// job row unreachable; the DLQ keeps the task for replay
					log.Error("job run failed",
						zap.Int("worker", workerID),
						zap.String("job_id", task.JobID),
						zap.Duration("elapsed", time.Since(start)),
						zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Warn("ack failed",
						zap.Int("worker", workerID),
						zap.String("job_id", task.JobID),
						zap.Error(err))
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				time.Sleep(time.Second)
				continue
			}
			deliveries <- d
		}
	}
}
