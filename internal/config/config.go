// Package config provides configuration for the ACP server and client.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the ACP server configuration.
type Config struct {
	// Server settings
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	PublicURL  string `yaml:"publicURL"`
	ServerName string `yaml:"serverName"`

	// Database
	DatabaseURL string `yaml:"databaseURL"`

	// Timeouts
	RunTimeout time.Duration `yaml:"runTimeout"`

	// Self-registration with the discovery platform
	SelfRegister  bool          `yaml:"selfRegister"`
	EtcdEndpoints []string      `yaml:"etcdEndpoints"`
	RegisterTTL   time.Duration `yaml:"registerTTL"`

	// Policy
	PolicyFile string `yaml:"policyFile"`

	// Remote agents re-exposed by this server, as name=baseURL
	RemoteAgents []string `yaml:"remoteAgents"`

	// WebSocket watch settings
	WSMaxMessageSize int64         `yaml:"wsMaxMessageSize"`
	WSPingInterval   time.Duration `yaml:"wsPingInterval"`

	// Logging
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Host:             "0.0.0.0",
		Port:             8000,
		ServerName:       "acp-server",
		DatabaseURL:      "file:acp.db?cache=shared&mode=rwc",
		RunTimeout:       5 * time.Minute,
		EtcdEndpoints:    []string{"localhost:2379"},
		RegisterTTL:      10 * time.Second,
		WSMaxMessageSize: 65536,
		WSPingInterval:   30 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load loads configuration from .env, an optional YAML file and environment variables.
// Environment variables win over the YAML file.
func Load() (*Config, error) {
	// A missing .env is not an error.
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("ACP_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Host = getEnv("ACP_HOST", c.Host)
	c.Port = getEnvInt("ACP_PORT", c.Port)
	c.PublicURL = getEnv("ACP_PUBLIC_URL", c.PublicURL)
	c.ServerName = getEnv("ACP_SERVER_NAME", c.ServerName)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RunTimeout = getEnvMillis("RUN_TIMEOUT_MS", c.RunTimeout)
	c.SelfRegister = getEnvBool("ACP_SELF_REGISTER", c.SelfRegister)
	if val := os.Getenv("ETCD_ENDPOINTS"); val != "" {
		c.EtcdEndpoints = splitList(val)
	}
	c.RegisterTTL = time.Duration(getEnvInt("REGISTER_TTL_S", int(c.RegisterTTL/time.Second))) * time.Second
	c.PolicyFile = getEnv("POLICY_FILE", c.PolicyFile)
	if val := os.Getenv("ACP_REMOTE_AGENTS"); val != "" {
		c.RemoteAgents = splitList(val)
	}
	c.WSMaxMessageSize = int64(getEnvInt("WS_MAX_MESSAGE_SIZE", int(c.WSMaxMessageSize)))
	c.WSPingInterval = getEnvMillis("WS_PING_INTERVAL_MS", c.WSPingInterval)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// RemoteAgent is one entry of RemoteAgents.
type RemoteAgent struct {
	Name string
	URL  string
}

// ParseRemoteAgents splits the name=baseURL entries of RemoteAgents.
func (c *Config) ParseRemoteAgents() ([]RemoteAgent, error) {
	out := make([]RemoteAgent, 0, len(c.RemoteAgents))
	for _, entry := range c.RemoteAgents {
		name, url, ok := strings.Cut(entry, "=")
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("invalid remote agent %q, want name=url", entry)
		}
		out = append(out, RemoteAgent{Name: strings.TrimSpace(name), URL: strings.TrimSpace(url)})
	}
	return out, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AdvertisedURL is the base URL published to the discovery platform.
func (c *Config) AdvertisedURL() string {
	if c.PublicURL != "" {
		return strings.TrimSuffix(c.PublicURL, "/")
	}
	host := c.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultVal time.Duration) time.Duration {
	return time.Duration(getEnvInt(key, int(defaultVal/time.Millisecond))) * time.Millisecond
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitList(val string) []string {
	var out []string
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
