// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command edged loads a route document, binds it into the edge server's
// router tree, and serves HTTP until terminated. CLI option parsing beyond
// the config path and listen address is intentionally out of scope.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cloudwindy/misaka/apps"
	"github.com/cloudwindy/misaka/config"
	"github.com/cloudwindy/misaka/edgehttp"
)

func main() {
	configPath := flag.String("config", "edged.yaml", "path to the route document")
	addr := flag.String("addr", ":8080", "address to listen on")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("edged: logger: %v", err)
	}
	defer logger.Sync()

	doc, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	hosts := edgehttp.NewHostRouter()
	registry := edgehttp.NewRegistry()
	config.RegisterBuiltins(registry, map[string]config.App{"echo": apps.Echo}, logger)

	result, err := config.Bind(doc, hosts, registry, logger)
	if err != nil {
		logger.Fatal("failed to bind config", zap.Error(err))
	}
	logger.Info("routes bound", zap.Int("count", result.RouteCount))

	srv := edgehttp.NewServer(hosts, logger)
	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", *addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server exited", zap.Error(err))
	}
}
