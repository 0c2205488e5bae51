// Copyright 2022 The httpfan Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import "github.com/spf13/viper"

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// ===============================================================================
// Event Store Related Config

// EventStoreConfig defines parameters for the durable notification store
type EventStoreConfig struct {
	// DBFile is the SQLite database file backing the store
	DBFile string `mapstructure:"db_file" json:"db_file" validate:"required"`
	// BusyTimeout is the SQLite busy timeout in milliseconds
	BusyTimeout int `mapstructure:"busy_timeout_ms" json:"busy_timeout_ms" validate:"gte=0"`
}

// ===============================================================================
// Change Feed Related Config

// EventFeedConfig defines parameters for the JetStream stream backing the change feed
type EventFeedConfig struct {
	// StreamName is the name of the JetStream stream carrying insert events
	StreamName string `mapstructure:"stream_name" json:"stream_name" validate:"required,alphanum"`
	// SubjectPrefix is the subject prefix insert events are published under
	SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix" validate:"required"`
	// MaxAge is the max age of a feed message in minutes before retention discards it
	MaxAge int `mapstructure:"max_age_minute" json:"max_age_minute" validate:"gte=1"`
	// MaxMessages is the max number of messages retained on the feed stream
	MaxMessages int64 `mapstructure:"max_messages" json:"max_messages" validate:"gte=-1"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. Must stay zero for the
	// event stream endpoint to hold connections open.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// ===============================================================================
// Fan-Out Server Related Config

// FanoutEndpointConfig defines fan-out API endpoint config
type FanoutEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the fan-out APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// StreamSessionConfig defines per-connection stream session parameters
type StreamSessionConfig struct {
	// KeepaliveInterval is the period between keepalive frames in seconds
	KeepaliveInterval int `mapstructure:"keepalive_interval_sec" json:"keepalive_interval_sec" validate:"gte=1"`
	// BacklogLimit is the max number of historical records replayed on connect
	BacklogLimit int `mapstructure:"backlog_limit" json:"backlog_limit" validate:"gte=1"`
	// EgressBuffer is the frame buffer depth between the dispatcher and the wire
	EgressBuffer int `mapstructure:"egress_buffer" json:"egress_buffer" validate:"gte=1"`
}

// FanoutServerConfig defines configuration for the fan-out API server
type FanoutServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters for the fan-out API server
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters for the fan-out API server
	Endpoints FanoutEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
	// Session is the stream session config parameters
	Session StreamSessionConfig `mapstructure:"session_config" json:"session_config" validate:"required,dive"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config for the fan-out server
type SystemConfig struct {
	// NATS are the NATS related config parameters
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required,dive"`
	// Store are the durable event store config parameters
	Store EventStoreConfig `mapstructure:"store" json:"store" validate:"required,dive"`
	// Feed are the change feed config parameters
	Feed EventFeedConfig `mapstructure:"feed" json:"feed" validate:"required,dive"`
	// Fanout are the fan-out API server configs
	Fanout FanoutServerConfig `mapstructure:"fanout" json:"fanout" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default NATS settings
	viper.SetDefault("nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.connect_timeout_sec", 30)
	viper.SetDefault("nats.reconnect.max_attempts", -1)
	viper.SetDefault("nats.reconnect.wait_interval_sec", 15)

	// Default event store settings
	viper.SetDefault("store.db_file", "httpfan.db")
	viper.SetDefault("store.busy_timeout_ms", 5000)

	// Default change feed settings
	viper.SetDefault("feed.stream_name", "notifyFeed")
	viper.SetDefault("feed.subject_prefix", "notify.event")
	viper.SetDefault("feed.max_age_minute", 60)
	viper.SetDefault("feed.max_messages", -1)

	// Default fan-out server settings
	viper.SetDefault("fanout.endpoint_config.path_prefix", "/")
	viper.SetDefault("fanout.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("fanout.api_server.server_config.listen_port", 3000)
	viper.SetDefault("fanout.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("fanout.api_server.server_config.write_timeout_sec", 0)
	viper.SetDefault("fanout.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"fanout.api_server.logging_config.request_id_header", "Httpfan-Request-ID",
	)
	viper.SetDefault(
		"fanout.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
	viper.SetDefault("fanout.session_config.keepalive_interval_sec", 15)
	viper.SetDefault("fanout.session_config.backlog_limit", 50)
	viper.SetDefault("fanout.session_config.egress_buffer", 32)
}
