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

// Package config loads and validates configuration for the control plane's
// server binaries (cmd/idp, cmd/gateway); cmd/shimctl does not load it.
package config

import "fmt"

// BoolValue returns the dereferenced value of a *bool, or def if b is nil.
func BoolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Config is the root configuration for a control-plane binary. A single
// YAML file can carry every section; cmd/idp reads Server/OAuth/Intent/
// RateLimit/Logger/Observability, cmd/gateway reads Server/ResourceAuth.
type Config struct {
	// Server configures the HTTP listener shared by every binary.
	Server ServerConfig `yaml:"server"`

	// OAuth configures the IDP's client_credentials issuer (cmd/idp).
	OAuth OAuthConfig `yaml:"oauth"`

	// Intent configures the IDP's agent/workflow registry and intent-token
	// minting (cmd/idp).
	Intent IntentConfig `yaml:"intent"`

	// ResourceAuth configures the resource-server verification middleware
	// (cmd/gateway, and any service embedding pkg/resourceauth).
	ResourceAuth ResourceAuthConfig `yaml:"resource_auth"`

	// RateLimit configures layered rate limiting on the IDP's token-minting
	// endpoints.
	RateLimit RateLimitConfig `yaml:"rate_limiting"`

	// Logger configures process-wide structured logging.
	Logger LoggerConfig `yaml:"logger"`

	// Observability configures Prometheus metrics and OpenTelemetry
	// tracing, shared by every binary.
	Observability ObservabilityConfig `yaml:"observability"`
}

// SetDefaults applies default values to every section of Config.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.OAuth.SetDefaults()
	c.Intent.SetDefaults()
	c.ResourceAuth.SetDefaults()
	c.RateLimit.SetDefaults()
	c.Logger.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks every section of Config for errors.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.OAuth.Validate(); err != nil {
		return fmt.Errorf("oauth: %w", err)
	}
	if err := c.Intent.Validate(); err != nil {
		return fmt.Errorf("intent: %w", err)
	}
	if err := c.ResourceAuth.Validate(); err != nil {
		return fmt.Errorf("resource_auth: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limiting: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return nil
}

// ObservabilityConfig configures Prometheus metrics and OpenTelemetry
// tracing.
//
// Example:
//
//	observability:
//	  metrics:
//	    enabled: true
//	    namespace: aidcp
//	  tracing:
//	    enabled: true
//	    exporter: otlp
//	    endpoint: localhost:4317
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
	Tracing TracingConfig `yaml:"tracing,omitempty"`
}

// SetDefaults applies default values to both subsections.
func (c *ObservabilityConfig) SetDefaults() {
	c.Metrics.SetDefaults()
	c.Tracing.SetDefaults()
}

// Validate checks both subsections for errors.
func (c *ObservabilityConfig) Validate() error {
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

// MetricsConfig configures Prometheus metrics collection.
type MetricsConfig struct {
	// Enabled turns on metrics collection.
	Enabled bool `yaml:"enabled,omitempty"`

	// Endpoint is the path metrics are exposed on.
	// Default: "/metrics"
	Endpoint string `yaml:"endpoint,omitempty"`

	// Namespace prefixes every metric name.
	// Default: "aidcp"
	Namespace string `yaml:"namespace,omitempty"`
}

// SetDefaults applies default values to MetricsConfig.
func (c *MetricsConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "/metrics"
	}
	if c.Namespace == "" {
		c.Namespace = "aidcp"
	}
}

// Validate checks MetricsConfig for errors.
func (c *MetricsConfig) Validate() error { return nil }

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	// Enabled turns on distributed tracing.
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter selects the trace exporter.
	// Values: "otlp" (default), "stdout", "none"
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint is the collector endpoint, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint,omitempty"`

	// ServiceName identifies this process in traces.
	// Default: "aidcp"
	ServiceName string `yaml:"service_name,omitempty"`

	// SamplingRate controls what fraction of traces are sampled, from
	// 0.0 (none) to 1.0 (all).
	// Default: 1.0
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`

	// Insecure disables TLS for the exporter connection.
	Insecure *bool `yaml:"insecure,omitempty"`
}

// SetDefaults applies default values to TracingConfig.
func (c *TracingConfig) SetDefaults() {
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.ServiceName == "" {
		c.ServiceName = "aidcp"
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
}

// Validate checks TracingConfig for errors.
func (c *TracingConfig) Validate() error {
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0.0 and 1.0")
	}
	switch c.Exporter {
	case "", "otlp", "stdout", "none":
	default:
		return fmt.Errorf("unsupported tracing exporter %q", c.Exporter)
	}
	return nil
}

// ServerConfig configures the HTTP listener.
//
// Example:
//
//	server:
//	  host: 0.0.0.0
//	  port: 8443
//	  cors:
//	    allowed_origins: ["*"]
type ServerConfig struct {
	// Host to bind to.
	Host string `yaml:"host,omitempty"`

	// Port to listen on.
	Port int `yaml:"port,omitempty"`

	// TLS configuration. When nil, the server listens over plain HTTP —
	// acceptable for the IDP only behind a TLS-terminating proxy.
	TLS *TLSConfig `yaml:"tls,omitempty"`

	// CORS configuration for browser-originated clients.
	CORS *CORSConfig `yaml:"cors,omitempty"`
}

// TLSConfig configures TLS termination at the listener.
type TLSConfig struct {
	// Enabled turns on TLS.
	Enabled *bool `yaml:"enabled,omitempty"`

	// CertFile is the path to the certificate.
	CertFile string `yaml:"cert_file,omitempty"`

	// KeyFile is the path to the private key.
	KeyFile string `yaml:"key_file,omitempty"`
}

// CORSConfig configures CORS for the HTTP listener.
type CORSConfig struct {
	// AllowedOrigins is a list of allowed origins.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`

	// AllowedMethods is a list of allowed HTTP methods.
	AllowedMethods []string `yaml:"allowed_methods,omitempty"`

	// AllowedHeaders is a list of allowed headers.
	AllowedHeaders []string `yaml:"allowed_headers,omitempty"`

	// AllowCredentials allows credentials.
	AllowCredentials *bool `yaml:"allow_credentials,omitempty"`
}

// SetDefaults applies default values to ServerConfig.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8443
	}
	if c.CORS == nil {
		c.CORS = &CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "PoP", "X-PoP-Timestamp"},
		}
	}
}

// Validate checks ServerConfig for errors.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.TLS != nil && BoolValue(c.TLS.Enabled, false) {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls requires cert_file and key_file")
		}
	}
	return nil
}
