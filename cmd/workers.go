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
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/blnkfinance/prizepay"
	"github.com/blnkfinance/prizepay/config"
	redis_db "github.com/blnkfinance/prizepay/internal/redis-db"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func initializeWorkerServer(conf *config.Configuration) (*asynq.Server, asynq.RedisConnOpt, error) {
	connOpt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		connOpt,
		asynq.Config{
			Concurrency: 2,
			Queues:      map[string]int{conf.Queue.WebhookQueue: 1},
			Logger:      logrus.StandardLogger(),
		},
	), connOpt, nil
}

func initializeTaskHandlers(conf *config.Configuration, mux *asynq.ServeMux) {
	processor := prizepay.NewWebhookProcessor(conf.Notification.Webhook.Url, conf.Notification.Webhook.Headers)
	mux.Handle(prizepay.TaskPayoutWebhook, processor)
}

func startMonitoring(conf *config.Configuration, connOpt asynq.RedisConnOpt) {
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: connOpt,
	})

	go func() {
		monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
		log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
		if err := http.ListenAndServe(monitoringAddr, h); err != nil {
			log.Fatalf("could not start asynqmon server: %v", err)
		}
	}()
}

// workerCommands defines the "workers" command. It runs the payout drain, the
// reconciliation sweep and, when redis is configured, webhook delivery.
func workerCommands(p *prizepayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start prizepay workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
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

			worker := prizepay.NewPayoutWorker(p.prizepay)
			worker.Start(ctx)
			defer worker.Stop()

			sweep := prizepay.NewReconciliationSweep(p.prizepay)
			sweep.Start(ctx)
			defer sweep.Stop()

			if conf.Redis.Dns == "" {
				logrus.Info("redis not configured, webhook delivery disabled")
				<-ctx.Done()
				return
			}

			srv, connOpt, err := initializeWorkerServer(conf)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(conf, mux)
			startMonitoring(conf, connOpt)

			if err := srv.Start(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
			<-ctx.Done()
			srv.Shutdown()
		},
	}

	return cmd
}
