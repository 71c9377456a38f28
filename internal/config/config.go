package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Default configuration values
const (
	DefaultRelayURL    = "ws://localhost:8080/ws"
	DefaultListenAddr  = ":8080"
	DefaultSTUN        = "stun:stun.l.google.com:19302"
	DefaultBroker      = BrokerMemory
	DefaultBrokerTopic = "reels-battle"
)

// Broker kinds used to fan events out between relay nodes.
const (
	BrokerMemory = "memory"
	BrokerAMQP   = "amqp"
	BrokerKafka  = "kafka"
)

// Config holds application configuration
type Config struct {
	// RelayURL is the websocket endpoint of the relay
	RelayURL string

	// ListenAddr is where `serve` accepts connections
	ListenAddr string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Fan-out between relay nodes
	Broker      string
	BrokerURL   string
	BrokerTopic string
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile  string
	RelayURL    string
	ListenAddr  string
	STUNServer  string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	Broker      string
	BrokerURL   string
	BrokerTopic string
}

// fileConfig is the TOML layout of the config file.
type fileConfig struct {
	RelayURL    string `toml:"relay_url"`
	ListenAddr  string `toml:"listen_addr"`
	STUNServer  string `toml:"stun_server"`
	TURNServer  string `toml:"turn_server"`
	TURNUser    string `toml:"turn_user"`
	TURNPass    string `toml:"turn_pass"`
	ForceRelay  *bool  `toml:"force_relay"`
	Broker      string `toml:"broker"`
	BrokerURL   string `toml:"broker_url"`
	BrokerTopic string `toml:"broker_topic"`
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Config file (--config or REELS_CONFIG)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	path := opts.ConfigFile
	if path == "" {
		path = os.Getenv("REELS_CONFIG")
	}
	file, err := readFile(path, opts.ConfigFile != "")
	if err != nil {
		return nil, err
	}

	forceRelay, err := resolveBool(opts.ForceRelay, "FORCE_RELAY", file.ForceRelay)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		RelayURL:    resolve(opts.RelayURL, "RELAY_URL", file.RelayURL, DefaultRelayURL),
		ListenAddr:  resolve(opts.ListenAddr, "LISTEN_ADDR", file.ListenAddr, DefaultListenAddr),
		STUNServer:  resolve(opts.STUNServer, "STUN_SERVER", file.STUNServer, DefaultSTUN),
		TURNServer:  resolve(opts.TURNServer, "TURN_SERVER", file.TURNServer, ""),
		TURNUser:    resolve(opts.TURNUser, "TURN_USERNAME", file.TURNUser, ""),
		TURNPass:    resolve(opts.TURNPass, "TURN_PASSWORD", file.TURNPass, ""),
		ForceRelay:  forceRelay,
		Broker:      strings.ToLower(resolve(opts.Broker, "BROKER", file.Broker, DefaultBroker)),
		BrokerURL:   resolve(opts.BrokerURL, "BROKER_URL", file.BrokerURL, ""),
		BrokerTopic: resolve(opts.BrokerTopic, "BROKER_TOPIC", file.BrokerTopic, DefaultBrokerTopic),
	}

	switch cfg.Broker {
	case BrokerMemory:
	case BrokerAMQP, BrokerKafka:
		if cfg.BrokerURL == "" {
			return nil, fmt.Errorf("broker %q needs a broker url", cfg.Broker)
		}
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}

	if _, err := url.Parse(cfg.RelayURL); err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	return cfg, nil
}

// readFile loads the TOML config. A missing file is only an error when the
// path was given explicitly on the command line.
func readFile(path string, explicit bool) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return fc, nil
		}
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(content, &fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func resolve(flag, env, file, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	if file != "" {
		return file
	}
	return def
}

func resolveBool(flag bool, env string, file *bool) (bool, error) {
	if flag {
		return true, nil
	}
	if v := os.Getenv(env); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("parse %s: %w", env, err)
		}
		return b, nil
	}
	if file != nil {
		return *file, nil
	}
	return false, nil
}

// BridgeURL returns the HTTP publish endpoint served next to the relay websocket.
func (c *Config) BridgeURL() string {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = "/api/event"
	u.RawQuery = ""
	return u.String()
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
