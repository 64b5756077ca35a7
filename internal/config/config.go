package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configuration constants
const (
	// Server Configuration
	ServerPort = "SERVER_PORT"
	ServerHost = "SERVER_HOST"

	// Peer (client-to-client) Configuration
	PeerBasePort     = "PEER_BASE_PORT"
	PeerPortAttempts = "PEER_PORT_ATTEMPTS"

	// Timing Configuration
	KeepAliveInterval       = "KEEP_ALIVE_INTERVAL"
	AuctionSweepInterval    = "AUCTION_SWEEP_INTERVAL"
	InactivityTimeout       = "INACTIVITY_TIMEOUT"
	InactivityCheckInterval = "INACTIVITY_CHECK_INTERVAL"

	// Logging Configuration
	LogLevel  = "LOG_LEVEL"
	LogFormat = "LOG_FORMAT"

	// WebSocket Configuration
	WSReadBufferSize  = "WS_READ_BUFFER_SIZE"
	WSWriteBufferSize = "WS_WRITE_BUFFER_SIZE"
	WSMaxWorkers      = 10
	WSMaxCapacity     = 100
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Peer      PeerConfig
	Timing    TimingConfig
	Logging   LoggingConfig
	WebSocket WebSocketConfig
}

// ServerConfig holds rendezvous server configuration
type ServerConfig struct {
	Port int
	Host string
}

// PeerConfig holds the client's peer-listener configuration. The listener
// probes sequential ports starting at BasePort and gives up after
// PortAttempts tries.
type PeerConfig struct {
	BasePort     int
	PortAttempts int
}

// TimingConfig holds the periodic loop intervals and the inactivity timeout
type TimingConfig struct {
	KeepAliveInterval       time.Duration
	AuctionSweepInterval    time.Duration
	InactivityTimeout       time.Duration
	InactivityCheckInterval time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// WebSocketConfig holds WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
}

// LoadConfig loads configuration from environment variables and .envrc file
func LoadConfig() (*Config, error) {
	// Set up Viper
	viper.SetConfigName(".envrc")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("../config")

	// Enable environment variable reading
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	setDefaults()

	// Read config file (optional, will use env vars if file doesn't exist)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, but that's okay - we'll use environment variables
	}

	config := &Config{
		Server: ServerConfig{
			Port: viper.GetInt(ServerPort),
			Host: viper.GetString(ServerHost),
		},
		Peer: PeerConfig{
			BasePort:     viper.GetInt(PeerBasePort),
			PortAttempts: viper.GetInt(PeerPortAttempts),
		},
		Timing: TimingConfig{
			KeepAliveInterval:       viper.GetDuration(KeepAliveInterval),
			AuctionSweepInterval:    viper.GetDuration(AuctionSweepInterval),
			InactivityTimeout:       viper.GetDuration(InactivityTimeout),
			InactivityCheckInterval: viper.GetDuration(InactivityCheckInterval),
		},
		Logging: LoggingConfig{
			Level:  viper.GetString(LogLevel),
			Format: viper.GetString(LogFormat),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  viper.GetInt(WSReadBufferSize),
			WriteBufferSize: viper.GetInt(WSWriteBufferSize),
		},
	}

	return config, nil
}

// setDefaults sets default values for configuration
func setDefaults() {
	// Server defaults
	viper.SetDefault(ServerPort, 12345)
	viper.SetDefault(ServerHost, "localhost")

	// Peer defaults
	viper.SetDefault(PeerBasePort, 20000)
	viper.SetDefault(PeerPortAttempts, 100)

	// Timing defaults
	viper.SetDefault(KeepAliveInterval, "10s")
	viper.SetDefault(AuctionSweepInterval, "1s")
	viper.SetDefault(InactivityTimeout, "60s")
	viper.SetDefault(InactivityCheckInterval, "30s")

	// Logging defaults
	viper.SetDefault(LogLevel, "info")
	viper.SetDefault(LogFormat, "json")

	// WebSocket defaults
	viper.SetDefault(WSReadBufferSize, 1024)
	viper.SetDefault(WSWriteBufferSize, 1024)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server port is required")
	}

	if c.Peer.BasePort <= 0 {
		return fmt.Errorf("peer base port is required")
	}

	if c.Peer.PortAttempts <= 0 {
		return fmt.Errorf("peer port attempts must be positive")
	}

	if c.Timing.KeepAliveInterval <= 0 || c.Timing.AuctionSweepInterval <= 0 ||
		c.Timing.InactivityTimeout <= 0 || c.Timing.InactivityCheckInterval <= 0 {
		return fmt.Errorf("all timing intervals must be positive")
	}

	return nil
}
