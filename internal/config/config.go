package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	DCID            string        `yaml:"dcid"`
	Host            string        `yaml:"host"`
	AdminPort       int           `yaml:"admin_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PubSubConfig holds the outbound publish endpoint configuration
type PubSubConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	QueueSize      int           `yaml:"queue_size"`
}

// BufferConfig holds the transaction buffer configuration
type BufferConfig struct {
	TxnTimer       time.Duration `yaml:"txn_timer"`
	FlushWorkers   int           `yaml:"flush_workers"`
	FlushQueueSize int           `yaml:"flush_queue_size"`
}

// ReplicationConfig holds inter-DC replication configuration
type ReplicationConfig struct {
	Factor int `yaml:"factor"`
}

// MetadataConfig holds the peer datacenter metadata configuration
type MetadataConfig struct {
	DCList []string `yaml:"dc_list"`
}

// RingConfig holds ring ownership configuration
type RingConfig struct {
	VirtualNodes int `yaml:"virtual_nodes"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration for the inter-DC node
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	PubSub      PubSubConfig      `yaml:"pubsub"`
	Buffer      BufferConfig      `yaml:"buffer"`
	Replication ReplicationConfig `yaml:"replication"`
	Metadata    MetadataConfig    `yaml:"metadata"`
	Ring        RingConfig        `yaml:"ring"`
	Gossip      GossipConfig      `yaml:"gossip"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.AdminPort == 0 {
		cfg.Server.AdminPort = 50062
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.PubSub.Port == 0 {
		cfg.PubSub.Port = 8086
	}
	if cfg.PubSub.RequestTimeout == 0 {
		cfg.PubSub.RequestTimeout = 5 * time.Second
	}
	if cfg.PubSub.QueueSize == 0 {
		cfg.PubSub.QueueSize = 1024
	}

	if cfg.Buffer.TxnTimer == 0 {
		cfg.Buffer.TxnTimer = 10 * time.Millisecond
	}
	if cfg.Buffer.FlushWorkers == 0 {
		cfg.Buffer.FlushWorkers = 8
	}
	if cfg.Buffer.FlushQueueSize == 0 {
		cfg.Buffer.FlushQueueSize = 256
	}

	if cfg.Replication.Factor == 0 {
		cfg.Replication.Factor = 2
	}

	if cfg.Ring.VirtualNodes == 0 {
		cfg.Ring.VirtualNodes = 150
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.DCID == "" {
		return fmt.Errorf("server.dcid is required")
	}
	if c.PubSub.Port < 1 || c.PubSub.Port > 65535 {
		return fmt.Errorf("pubsub.port must be between 1 and 65535")
	}
	if c.Buffer.TxnTimer <= 0 {
		return fmt.Errorf("buffer.txn_timer must be positive")
	}
	if c.Replication.Factor < 1 {
		return fmt.Errorf("replication.factor must be at least 1")
	}
	return nil
}
