package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to any of the
// muxnet servers and clients.
type Config struct {
	// Hostname or IP address on which the servers will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Maximum number of concurrent connections each server will allow. 0 means no limit.
	MaxConnections int `mapstructure:"max_connections"`

	Logging struct {
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
		// Full path to file to which logs will be written. Blank will write to stderr.
		LogFilePath string `mapstructure:"log_file_path"`
		// Include the file and line of the call site in every log line.
		IncludeCaller bool `mapstructure:"include_caller"`
	} `mapstructure:"logging"`

	Reactor struct {
		// Capacity in bytes of each connection's inbound and outbound buffer.
		BufferSize int `mapstructure:"buffer_size"`
		// Largest length-prefixed string accepted from a peer.
		MaxStringSize int `mapstructure:"max_string_size"`
		// Largest operand count accepted in a long-sum request.
		MaxOperands int `mapstructure:"max_operands"`
		// Maximum number of ready descriptors handled per poll.
		PollEvents int `mapstructure:"poll_events"`
		// How long a server shutting down waits for its clients to disconnect
		// before closing their connections. Negative waits indefinitely.
		ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	} `mapstructure:"reactor"`

	Database struct {
		// Either sqlite or postgres. Blank disables the results ledger.
		Engine string `mapstructure:"engine"`
		// SQLite database file, relative to the config directory.
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to the database.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	ChatServer struct {
		// Port on which the CHAT server will listen. 0 disables the server.
		Port int `mapstructure:"port"`
	} `mapstructure:"chat_server"`

	EchoServer struct {
		// Port on which the ECHO server will listen. 0 disables the server.
		Port int `mapstructure:"port"`
	} `mapstructure:"echo_server"`

	EchoUDPServer struct {
		// First port on which the datagram ECHO server will listen. 0 disables the server.
		Port int `mapstructure:"port"`
		// Number of consecutive ports served, starting at Port.
		Ports int `mapstructure:"ports"`
		// Send every byte back incremented by one.
		Plus bool `mapstructure:"plus"`
	} `mapstructure:"echo_udp_server"`

	SumServer struct {
		// Port on which the stream SUM server will listen. 0 disables the server.
		Port int `mapstructure:"port"`
	} `mapstructure:"sum_server"`

	LongSumUDPServer struct {
		// Port on which the reliable long-sum UDP server will listen. 0 disables the server.
		Port int `mapstructure:"port"`
		// Sessions that receive nothing for this long are forgotten.
		SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
		// How often idle sessions are looked for.
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"longsum_udp_server"`

	UpperUDPServer struct {
		// Port on which the upper-case UDP server will listen. 0 disables the server.
		Port int `mapstructure:"port"`
	} `mapstructure:"upper_udp_server"`

	UDPClient struct {
		// Time without a response after which the UDP clients retransmit.
		Timeout time.Duration `mapstructure:"timeout"`
		// Charset of the clients' input files.
		Encoding string `mapstructure:"encoding"`
	} `mapstructure:"udp_client"`

	Debugging struct {
		// Log every decoded inbound value at debug level.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
		// Serve pprof on localhost at this port. 0 disables it.
		PprofPort int `mapstructure:"pprof_port"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "MUXNET"

var defaults = map[string]any{
	"hostname":        "0.0.0.0",
	"max_connections": 0,

	"logging.log_level":      "info",
	"logging.log_file_path":  "",
	"logging.include_caller": false,

	"reactor.buffer_size":     1024,
	"reactor.max_string_size": 1024,
	"reactor.max_operands":    1 << 16,
	"reactor.poll_events":     128,
	"reactor.shutdown_grace":  "10s",

	"database.engine":   "",
	"database.filename": "muxnet.db",
	"database.host":     "localhost",
	"database.port":     5432,
	"database.name":     "muxnet",
	"database.username": "",
	"database.password": "",
	"database.sslmode":  "disable",

	"chat_server.port": 7777,
	"echo_server.port": 7778,
	"sum_server.port":  7779,

	"echo_udp_server.port":  7782,
	"echo_udp_server.ports": 1,
	"echo_udp_server.plus":  false,

	"longsum_udp_server.port":                 7780,
	"longsum_udp_server.session_idle_timeout": "5m",
	"longsum_udp_server.sweep_interval":       "30s",

	"upper_udp_server.port": 7781,

	"udp_client.timeout":  "300ms",
	"udp_client.encoding": "utf-8",

	"debugging.packet_logging_enabled":   false,
	"debugging.database_logging_enabled": false,
	"debugging.pprof_port":               0,
}

// LoadConfig reads config.yaml from configPath on top of the built-in
// defaults. A missing file is not an error; a malformed one is.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath == "" {
		configPath = "."
	}
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: <envVarPrefix>_DATABASE_HOST
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	return config, nil
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a database URL generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// ListenAddress returns the address a server configured with port listens on.
func (c *Config) ListenAddress(port int) string {
	return fmt.Sprintf("%s:%d", c.Hostname, port)
}
