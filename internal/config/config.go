package config

import "time"

// GatewayConfig is the root configuration for a gateway instance.
type GatewayConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Hub      HubConfig      `yaml:"hub"`
	Toolkit  ToolkitConfig  `yaml:"toolkit"`
	Database DBConfig       `yaml:"database"`
	Pairs    PairsConfig    `yaml:"pairs"`
	Health   HealthConfig   `yaml:"health"`
}

// InstanceConfig identifies this gateway.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// ServerConfig holds the client-facing stream endpoint settings.
type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	StreamPath     string        `yaml:"stream_path"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// HubConfig holds the upstream hub connection settings.
type HubConfig struct {
	URL               string        `yaml:"url"`
	APIKey            string        `yaml:"api_key"`
	APISecret         string        `yaml:"api_secret"`
	PingTimeout       time.Duration `yaml:"ping_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReconnectBaseWait time.Duration `yaml:"reconnect_base_wait"`
	ReconnectMaxWait  time.Duration `yaml:"reconnect_max_wait"`
	QueueSize         int           `yaml:"queue_size"`
}

// ToolkitConfig holds the trading toolkit REST API settings.
type ToolkitConfig struct {
	URL        string        `yaml:"url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// DBConfig holds the operator database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// PairsConfig holds trading-pair directory settings.
type PairsConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// HealthConfig holds the health/debug HTTP endpoint settings.
type HealthConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
