// Package config loads YAML configuration for the Message Director,
// Client Agent, and database-server-stub processes.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MessageDirector holds configuration for the MD router process.
type MessageDirector struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
	LogLevel    string `yaml:"log_level"`

	// MetricsAddr, if non-empty, exposes Prometheus metrics over HTTP.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultMessageDirector returns an MD config with sensible defaults.
func DefaultMessageDirector() MessageDirector {
	return MessageDirector{
		BindAddress: "0.0.0.0",
		Port:        7100,
		LogLevel:    "info",
		MetricsAddr: "127.0.0.1:9100",
	}
}

// LoadMessageDirector loads MD config from a YAML file, overlaying it onto
// the defaults. A missing file is not an error — the defaults are used.
func LoadMessageDirector(path string) (MessageDirector, error) {
	cfg := DefaultMessageDirector()
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
	return cfg, nil
}

// ClientAgent holds configuration for the CA process.
type ClientAgent struct {
	// Client-facing listener
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// MD uplink
	MDAddress string `yaml:"md_address"`
	MDPort    int    `yaml:"md_port"`

	// Channel range this CA allocates per-client channels from (spec.md §3).
	MinChannel uint64 `yaml:"min_channel"`
	MaxChannel uint64 `yaml:"max_channel"`

	// Login gate (spec.md §6)
	Version          string `yaml:"version"`
	HashVal          uint32 `yaml:"hash_val"`
	EnforceHash      bool   `yaml:"enforce_hash"`
	HeartbeatSeconds int    `yaml:"heartbeat_seconds"`

	// Persistence: embedded KV mapping play-token -> account-id (spec.md §6).
	DBMFilename string `yaml:"dbm_filename"`
	DBMMode     string `yaml:"dbm_mode"` // "c" = create if missing

	// DB interface request timeout (spec.md §4.4, default 5s)
	DBRequestTimeoutSeconds int `yaml:"db_request_timeout_seconds"`

	// VisDir holds the pre-compiled DNA visibility-group tables, one
	// "<branch>.yaml" file per playground branch (spec.md §4.5).
	VisDir string `yaml:"vis_dir"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultClientAgent returns a CA config with sensible defaults, matching
// the channel-range and timeout defaults named in spec.md §3/§4.4.
func DefaultClientAgent() ClientAgent {
	return ClientAgent{
		BindAddress:             "0.0.0.0",
		Port:                    6667,
		MDAddress:               "127.0.0.1",
		MDPort:                  7100,
		MinChannel:              1_000_000_000,
		MaxChannel:              1_009_999_999,
		Version:                 "sv1.0.47.38",
		HashVal:                 0,
		EnforceHash:             true,
		HeartbeatSeconds:        15,
		DBMFilename:             "databases/database.dbm",
		DBMMode:                 "c",
		DBRequestTimeoutSeconds: 5,
		VisDir:                  "config/visgroups",
		LogLevel:                "info",
		MetricsAddr:             "127.0.0.1:9101",
	}
}

// LoadClientAgent loads CA config from a YAML file, overlaying it onto the
// defaults. A missing file is not an error.
func LoadClientAgent(path string) (ClientAgent, error) {
	cfg := DefaultClientAgent()
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
	return cfg, nil
}

// DatabaseConfig holds PostgreSQL connection parameters for the reference
// database-server stub (internal/dbserver).
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`

	MaxConns        int32  `yaml:"max_conns"`
	MinConns        int32  `yaml:"min_conns"`
	MaxConnLifetime string `yaml:"max_conn_lifetime"`
	MaxConnIdleTime string `yaml:"max_conn_idle_time"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	base := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)

	var params []string
	if d.MaxConns > 0 {
		params = append(params, fmt.Sprintf("pool_max_conns=%d", d.MaxConns))
	}
	if d.MinConns > 0 {
		params = append(params, fmt.Sprintf("pool_min_conns=%d", d.MinConns))
	}
	if d.MaxConnLifetime != "" {
		params = append(params, fmt.Sprintf("pool_max_conn_lifetime=%s", d.MaxConnLifetime))
	}
	if d.MaxConnIdleTime != "" {
		params = append(params, fmt.Sprintf("pool_max_conn_idle_time=%s", d.MaxConnIdleTime))
	}

	if len(params) > 0 {
		return base + "&" + strings.Join(params, "&")
	}
	return base
}

// DBServerStub holds configuration for the reference database-server
// stub. Like the Client Agent, it is an ordinary MD participant: it
// dials out to the Message Director rather than listening itself.
type DBServerStub struct {
	MDAddress string         `yaml:"md_address"`
	MDPort    int            `yaml:"md_port"`
	Database  DatabaseConfig `yaml:"database"`
	LogLevel  string         `yaml:"log_level"`
}

// DefaultDBServerStub returns a DBServerStub config with sensible defaults.
func DefaultDBServerStub() DBServerStub {
	return DBServerStub{
		MDAddress: "127.0.0.1",
		MDPort:    7100,
		LogLevel:  "info",
		Database: DatabaseConfig{
			Host:    "127.0.0.1",
			Port:    5432,
			User:    "otpedge",
			Password: "otpedge",
			DBName:  "otpedge",
			SSLMode: "disable",
		},
	}
}

// LoadDBServerStub loads the database-server stub config from YAML.
func LoadDBServerStub(path string) (DBServerStub, error) {
	cfg := DefaultDBServerStub()
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
	return cfg, nil
}
