/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/escrow"
	"github.com/blnkfinance/escrow/config"
	redis_db "github.com/blnkfinance/escrow/internal/redis-db"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// traced wraps a task handler in a span named after the queue.
func traced(name string, h asynq.HandlerFunc) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("escrow.workers").Start(ctx, name)
		defer span.End()
		return h(ctx, t)
	}
}

func initializeQueues(cfg *config.Configuration) map[string]int {
	return map[string]int{
		cfg.Queue.ReleaseQueue:      3,
		cfg.Queue.NotificationQueue: 1,
	}
}

func redisConnOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("error parsing Redis URL: %v", err)
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

func initializeWorkerServer(opt asynq.RedisClientOpt, queues map[string]int) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: 4,
		Queues:      queues,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			if retried >= maxRetry {
				logrus.WithField("task", task.Type()).Errorf("task exhausted its retries: %v", err)
			}
		}),
	})
}

func initializeTaskHandlers(e *escrowInstance, cfg *config.Configuration, mux *asynq.ServeMux) {
	mux.HandleFunc(cfg.Queue.ReleaseQueue, traced("Process Release Task", e.escrow.ProcessReleaseTask))
	mux.HandleFunc(cfg.Queue.NotificationQueue, traced("Process Notification", escrow.ProcessNotification))
}

func startScheduler(ctx context.Context, e *escrowInstance) *escrow.ReleaseScheduler {
	scheduler := escrow.NewReleaseScheduler(e.escrow, 0)
	scheduler.Start(ctx)
	return scheduler
}

// workerCommands defines the `workers` command. It processes scheduled release
// tasks and webhook deliveries, serves asynqmon and runs the periodic release sweep.
func workerCommands(e *escrowInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start escrow workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			opt, err := redisConnOpt(conf)
			if err != nil {
				log.Fatal(err)
			}
			srv := initializeWorkerServer(opt, initializeQueues(conf))

			mux := asynq.NewServeMux()
			initializeTaskHandlers(e, conf, mux)

			h := asynqmon.New(asynqmon.Options{
				RootPath:     "/monitoring",
				RedisConnOpt: opt,
			})
			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			scheduler := startScheduler(ctx, e)
			defer scheduler.Stop()

			if err := srv.Start(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
			<-ctx.Done()
			srv.Shutdown()
		},
	}

	return cmd
}
