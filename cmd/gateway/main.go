// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command gateway is a reference resource server: it protects a small
// set of routes with pkg/resourceauth, demonstrating how a service
// behind the control plane verifies intent tokens minted by the IDP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hypernome/aidcp/pkg/config"
	"github.com/hypernome/aidcp/pkg/logger"
	"github.com/hypernome/aidcp/pkg/resourceauth"
)

type CLI struct {
	Config   string `short:"c" help:"Path to config file." type:"path" default:"gateway.yaml"`
	Port     int    `help:"Override the configured port."`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	kong.Parse(&cli,
		kong.Name("gateway"),
		kong.Description("reference resource server enforcing intent-scoped access tokens"),
		kong.UsageOnError(),
	)

	if err := run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cli *CLI) error {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return err
	}
	logger.Init(level, os.Stderr, "simple")

	cfg, _, err := config.LoadConfigWithLoader(config.LoaderOptions{
		Type: config.ConfigTypeFile,
		Path: cli.Config,
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cli.Port != 0 {
		cfg.Server.Port = cli.Port
	}

	authMW, err := resourceauth.NewMiddleware(&cfg.ResourceAuth)
	if err != nil {
		return fmt.Errorf("failed to build resource auth middleware: %w", err)
	}

	router := newRouter(authMW)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		cancel()
	}()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErrCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newRouter(authMW *resourceauth.Middleware) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Group(func(r chi.Router) {
		if authMW != nil {
			r.Use(authMW.Authenticate)
			r.With(authMW.RequireScopes("https://api.internal/orders", "orders:read")).
				Get("/orders/{orderID}", handleGetOrder)
			r.With(authMW.RequireScopes("https://api.internal/orders", "orders:write")).
				Post("/orders/{orderID}/refund", handleRefundOrder)
		} else {
			r.Get("/orders/{orderID}", handleGetOrder)
			r.Post("/orders/{orderID}/refund", handleRefundOrder)
		}
	})

	return r
}

func handleGetOrder(w http.ResponseWriter, r *http.Request) {
	claims := resourceauth.ClaimsFromContext(r.Context())
	orderID := chi.URLParam(r, "orderID")
	slog.Info("order read", "order_id", orderID, "subject", subjectOf(claims))
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": "confirmed"})
}

func handleRefundOrder(w http.ResponseWriter, r *http.Request) {
	claims := resourceauth.ClaimsFromContext(r.Context())
	orderID := chi.URLParam(r, "orderID")
	slog.Info("order refund", "order_id", orderID, "subject", subjectOf(claims), "workflow", claims.Intent.WorkflowID)
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": "refunded"})
}

func subjectOf(claims *resourceauth.Claims) string {
	if claims == nil {
		return ""
	}
	return claims.Subject
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
