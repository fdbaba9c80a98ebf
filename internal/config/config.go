package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the xrayguard server.
type Server struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error

	// StatsInterval is how often the engine counters are logged (0 disables).
	StatsInterval time.Duration `yaml:"stats_interval"`

	Network  NetworkConfig  `yaml:"network"`
	Database DatabaseConfig `yaml:"database"`
	World    WorldConfig    `yaml:"world"`
	Engine   Engine         `yaml:"engine"`
}

// NetworkConfig configures the client WebSocket listener.
type NetworkConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	WriteTimeout   time.Duration `yaml:"write_timeout"`    // per-write deadline
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // idle client disconnect
	SendQueueSize  int           `yaml:"send_queue_size"`  // per-client outbox capacity
	MaxMessageSize int64         `yaml:"max_message_size"` // inbound limit in bytes
	AllowEdits     bool          `yaml:"allow_edits"`      // accept SET_BLOCK from clients
}

// Addr returns the listen address.
func (n NetworkConfig) Addr() string {
	return fmt.Sprintf("%s:%d", n.BindAddress, n.Port)
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`

	// FlushInterval is how often changed sections are saved.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// WorldConfig controls terrain generation for sections missing from storage.
type WorldConfig struct {
	Seed    int64 `yaml:"seed"`
	Surface int   `yaml:"surface"`

	// Spawn area in section coordinates, generated at startup.
	SpawnRadius int `yaml:"spawn_radius"`
	MinSectionY int `yaml:"min_section_y"`
	MaxSectionY int `yaml:"max_section_y"`
}

// DefaultServer returns Server config with sensible defaults.
func DefaultServer() Server {
	return Server{
		LogLevel:      "info",
		StatsInterval: 30 * time.Second,
		Network: NetworkConfig{
			BindAddress:    "0.0.0.0",
			Port:           25580,
			WriteTimeout:   5 * time.Second,
			ReadTimeout:    120 * time.Second,
			SendQueueSize:  1024,
			MaxMessageSize: 4096,
			AllowEdits:     true,
		},
		Database: DatabaseConfig{
			Host:          "127.0.0.1",
			Port:          5432,
			User:          "xrayguard",
			Password:      "xrayguard",
			DBName:        "xrayguard",
			SSLMode:       "disable",
			FlushInterval: 30 * time.Second,
		},
		World: WorldConfig{
			Seed:        1337,
			Surface:     64,
			SpawnRadius: 4,
			MinSectionY: -4,
			MaxSectionY: 5,
		},
		Engine: DefaultEngine(),
	}
}

// LoadServer loads server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Engine.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}
