package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr     = ":8080"
	DefaultStreamPath     = "/stream"
	DefaultWriteTimeout   = 5 * time.Second
	DefaultPongTimeout    = 60 * time.Second
	DefaultPingInterval   = 25 * time.Second
	DefaultMaxMessageSize = 1 << 20 // 1 MiB inbound client frames

	DefaultHubPingTimeout   = 60 * time.Second
	DefaultHubWriteTimeout  = 5 * time.Second
	DefaultReconnectBase    = 1 * time.Second
	DefaultReconnectMax     = 60 * time.Second
	DefaultHubQueueSize     = 1000
	DefaultToolkitTimeout   = 30 * time.Second
	DefaultToolkitRetries   = 3
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 10
	DefaultMinConns         = 2
	DefaultPairsReconcile   = 5 * time.Minute
	DefaultHealthPort       = 9090
	DefaultHealthPath       = "/health"
)

func (c *GatewayConfig) applyDefaults() {
	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.StreamPath == "" {
		c.Server.StreamPath = DefaultStreamPath
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PongTimeout == 0 {
		c.Server.PongTimeout = DefaultPongTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.MaxMessageSize == 0 {
		c.Server.MaxMessageSize = DefaultMaxMessageSize
	}

	// Hub defaults
	if c.Hub.PingTimeout == 0 {
		c.Hub.PingTimeout = DefaultHubPingTimeout
	}
	if c.Hub.WriteTimeout == 0 {
		c.Hub.WriteTimeout = DefaultHubWriteTimeout
	}
	if c.Hub.ReconnectBaseWait == 0 {
		c.Hub.ReconnectBaseWait = DefaultReconnectBase
	}
	if c.Hub.ReconnectMaxWait == 0 {
		c.Hub.ReconnectMaxWait = DefaultReconnectMax
	}
	if c.Hub.QueueSize == 0 {
		c.Hub.QueueSize = DefaultHubQueueSize
	}

	// Toolkit defaults
	if c.Toolkit.Timeout == 0 {
		c.Toolkit.Timeout = DefaultToolkitTimeout
	}
	if c.Toolkit.MaxRetries == 0 {
		c.Toolkit.MaxRetries = DefaultToolkitRetries
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Pairs defaults
	if c.Pairs.ReconcileInterval == 0 {
		c.Pairs.ReconcileInterval = DefaultPairsReconcile
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.Path == "" {
		c.Health.Path = DefaultHealthPath
	}
}
