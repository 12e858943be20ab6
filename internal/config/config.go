package config

import "time"

// ClientConfig is the root configuration for a session client.
type ClientConfig struct {
	Session    SessionConfig    `yaml:"session" toml:"session"`
	Connection ConnectionConfig `yaml:"connection" toml:"connection"`
	Queue      QueueConfig      `yaml:"queue" toml:"queue"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Audit      AuditConfig      `yaml:"audit" toml:"audit"`
	Database   DBConfig         `yaml:"database" toml:"database"`
}

// SessionConfig identifies the session endpoint and participant.
type SessionConfig struct {
	Address       string `yaml:"address" toml:"address"`               // ws:// or wss:// endpoint
	ParticipantID string `yaml:"participant_id" toml:"participant_id"` // Empty connects as anonymous
	Field         string `yaml:"field" toml:"field"`                   // Field used by the CLI for typing updates
}

// ConnectionConfig holds Connection Manager settings.
type ConnectionConfig struct {
	ParticipantParam     string        `yaml:"participant_param" toml:"participant_param"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay" toml:"reconnect_base_delay"`
	ReconnectMultiplier  float64       `yaml:"reconnect_multiplier" toml:"reconnect_multiplier"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay" toml:"reconnect_max_delay"`
	ReconnectJitter      bool          `yaml:"reconnect_jitter" toml:"reconnect_jitter"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	ReadLimit            int64         `yaml:"read_limit" toml:"read_limit"`
	BufferSize           int           `yaml:"buffer_size" toml:"buffer_size"`
}

// QueueConfig holds outbound queue settings.
type QueueConfig struct {
	Capacity int    `yaml:"capacity" toml:"capacity"` // -1 = unbounded
	Overflow string `yaml:"overflow" toml:"overflow"` // drop_oldest, drop_newest, reject
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // text, json
}

// AuditConfig holds connection audit journal settings.
type AuditConfig struct {
	Enabled       bool          `yaml:"enabled" toml:"enabled"`
	BatchSize     int           `yaml:"batch_size" toml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" toml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size" toml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Name     string `yaml:"name" toml:"name"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	SSLMode  string `yaml:"ssl_mode" toml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns" toml:"max_conns"`
	MinConns int    `yaml:"min_conns" toml:"min_conns"`
}
