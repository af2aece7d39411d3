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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hypernome/aidcp/pkg/config"
	"github.com/hypernome/aidcp/pkg/intent"
	"github.com/hypernome/aidcp/pkg/keys"
	"github.com/hypernome/aidcp/pkg/logger"
	"github.com/hypernome/aidcp/pkg/metrics"
	"github.com/hypernome/aidcp/pkg/oauth"
	"github.com/hypernome/aidcp/pkg/ratelimit"
	"github.com/hypernome/aidcp/pkg/resourceauth"
	"github.com/hypernome/aidcp/pkg/telemetry"
)

// ServeCmd starts the identity provider's HTTP listener.
type ServeCmd struct {
	ConfigType string   `name:"config-type" help:"Config source: file, consul, etcd, zookeeper." default:"file"`
	Endpoints  []string `help:"Endpoints for consul/etcd/zookeeper config sources."`
	Watch      bool     `help:"Watch the config source for changes and hot-reload OAuth clients and rate limits."`
	Port       int      `help:"Override the configured port."`
}

// idpState holds the pieces of server state that a config hot-reload
// can rebuild: OAuth client allow-lists and the rate limiter. The
// signing key, intent registry and intent service are not rebuilt on
// reload — the signing key must stay fixed for kid stability, and the
// registry is its own source of truth on disk.
type idpState struct {
	issuer  atomic.Pointer[oauth.Issuer]
	limiter atomic.Pointer[ratelimit.RateLimiter]
	whoami  atomic.Pointer[resourceauth.Middleware]
}

func (s *idpState) Issuer() *oauth.Issuer {
	return s.issuer.Load()
}

func (s *idpState) Limiter() ratelimit.RateLimiter {
	p := s.limiter.Load()
	if p == nil {
		return nil
	}
	return *p
}

// WhoAmI returns the self-verification middleware for /oauth/whoami, or
// nil before initWhoAmI has managed to fetch the IDP's own JWKS.
func (s *idpState) WhoAmI() *resourceauth.Middleware {
	return s.whoami.Load()
}

// initWhoAmI builds the resourceauth middleware /oauth/whoami verifies
// itself against, by fetching the IDP's own JWKS. That fetch can only
// succeed once the HTTP server is actually listening, so this retries
// in the background rather than blocking startup; whoami reports 502
// (jwks-unavailable) until it succeeds.
func initWhoAmI(ctx context.Context, cfg *config.Config, state *idpState) {
	whoamiCfg := &config.ResourceAuthConfig{
		AuthConfig: config.AuthConfig{
			Enabled:  true,
			JWKSURL:  cfg.OAuth.Issuer + "/oauth/.well-known/jwks.json",
			Issuer:   cfg.OAuth.Issuer,
			Audience: cfg.OAuth.Issuer,
		},
	}
	whoamiCfg.SetDefaults()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		mw, err := resourceauth.NewMiddleware(whoamiCfg)
		if err == nil {
			state.whoami.Store(mw)
			return
		}
		slog.Debug("whoami self-verification not ready yet", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		cancel()
	}()

	configType, err := config.ParseConfigType(c.ConfigType)
	if err != nil {
		return err
	}

	cfg, loader, err := config.LoadConfigWithLoader(config.LoaderOptions{
		Type:      configType,
		Path:      cli.Config,
		Endpoints: c.Endpoints,
		Watch:     c.Watch,
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	if err := initLogger(cli, cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	signingKey, kid, err := keys.LoadOrGenerateSigningKey(cfg.OAuth.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load idp signing key: %w", err)
	}

	store, err := intent.NewStore(cfg.Intent.RegistryFile)
	if err != nil {
		return fmt.Errorf("failed to open agent/workflow registry: %w", err)
	}
	svc := intent.NewService(store, signingKey, kid, cfg.OAuth.Issuer, cfg.Intent.TokenTTL)

	state := &idpState{}
	state.issuer.Store(oauth.NewIssuer(cfg.OAuth, signingKey, kid))
	limiter, err := ratelimit.NewRateLimiterFromConfig(&cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("failed to build rate limiter: %w", err)
	}
	state.limiter.Store(&limiter)

	if c.Watch {
		loader.SetOnChange(func(newCfg *config.Config) error {
			state.issuer.Store(oauth.NewIssuer(newCfg.OAuth, signingKey, kid))
			newLimiter, err := ratelimit.NewRateLimiterFromConfig(&newCfg.RateLimit)
			if err != nil {
				return fmt.Errorf("rebuild rate limiter: %w", err)
			}
			state.limiter.Store(&newLimiter)
			slog.Info("hot-reloaded oauth clients and rate limits")
			return nil
		})
	}

	m := metrics.New(cfg.Observability.Metrics)

	shutdownTracing, err := telemetry.Init(ctx, cfg.Observability.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	router := newRouter(cfg, svc, state, m)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		slog.Info("idp listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()
	go initWhoAmI(ctx, cfg, state)

	select {
	case <-ctx.Done():
	case err := <-serveErrCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func initLogger(cli *CLI, cfg *config.Config) error {
	level := cfg.Logger.Level
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	format := cfg.Logger.Format
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}
	logFile := cfg.Logger.File
	if cli.LogFile != "" {
		logFile = cli.LogFile
	}

	parsedLevel, err := logger.ParseLevel(level)
	if err != nil {
		return err
	}

	output := os.Stderr
	if logFile != "" {
		file, _, err := logger.OpenLogFile(logFile)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		output = file
	}

	logger.Init(parsedLevel, output, format)
	return nil
}
