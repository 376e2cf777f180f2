/*
SPDX-FileCopyrightText: Copyright (c) 2026 NVIDIA CORPORATION & AFFILIATES. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fuzzcorp/starter/config"
	"github.com/fuzzcorp/starter/podspec"
	"github.com/fuzzcorp/starter/startup"
	"github.com/fuzzcorp/starter/utils"
	"github.com/fuzzcorp/starter/utils/logging"
	metricsgo "github.com/fuzzcorp/starter/utils/metrics-go"
	"github.com/fuzzcorp/starter/utils/postgres"
	"github.com/fuzzcorp/starter/utils/redis"
)

var (
	httpPort       = flag.Int("http-port", 8080, "HTTP server port")
	probeImage     = flag.String("probe-image", utils.GetEnv("POD_PROBE_IMAGE", ""), "Passed to the startup RBAC probe, which runs busybox regardless")
	podTemplate    = flag.String("pod-template", utils.GetEnv("POD_TEMPLATE_PATH", ""), "Path to the fuzzer pod YAML template")
	kubeconfigPath = flag.String("kubeconfig", utils.GetEnv("KUBECONFIG", ""), "Path to kubeconfig; empty uses in-cluster config")
)

func main() {
	cfgFlags := config.RegisterFlags()
	logFlags := logging.RegisterFlags()
	pgFlags := postgres.RegisterPostgresFlags()
	redisFlags := redis.RegisterRedisFlags()
	flag.Parse()

	cfg, err := cfgFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.InitLogger(cfg.Env.ServiceName, logFlags.ToConfig())

	metricsCfg := metricsgo.MetricsConfig{
		ServiceName:    cfg.Env.ServiceName,
		ServiceVersion: cfg.Env.ServiceVersion,
		GlobalTags:     map[string]string{"environment": cfg.Env.Name},
		Enabled:        true,
	}
	if err := metricsgo.InitMetricCreator(metricsCfg); err != nil {
		logger.Error("failed to init metrics", slog.Any("err", err))
		os.Exit(1)
	}

	if *podTemplate == "" {
		logger.Error("pod-template is required")
		os.Exit(1)
	}
	template, err := podspec.LoadTemplate(*podTemplate)
	if err != nil {
		logger.Error("failed to load pod template", slog.Any("err", err))
		os.Exit(1)
	}

	ctx := context.Background()

	pgClient, err := postgres.NewPostgresClient(ctx, pgFlags.ToPostgresConfig(), logger)
	if err != nil {
		logger.Error("failed to connect to postgres", slog.Any("err", err))
		os.Exit(1)
	}
	defer pgClient.Close()

	redisClient, err := redis.NewRedisClient(ctx, redisFlags.ToRedisConfig(), logger)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("err", err))
		os.Exit(1)
	}

	app, err := startup.Start(ctx, startup.Dependencies{
		Config:         cfg,
		PodTemplate:    template,
		ProbeImage:     *probeImage,
		KubeconfigPath: *kubeconfigPath,
		Postgres:       pgClient,
		Redis:          redisClient,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to start", slog.Any("err", err))
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *httpPort),
		Handler: app.Handler,
	}

	go func() {
		logger.Info("starter listening", slog.Int("port", *httpPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
	logger.Info("received shutdown signal, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Env.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("err", err))
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error("app shutdown error", slog.Any("err", err))
	}
}
