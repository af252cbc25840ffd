package ethstats

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	defaultUpdateInterval = 1 * time.Second
	defaultQueryTimeout   = 5 * time.Second
)

type Config struct {
	// RPCHost and RPCPort locate the JSON-RPC endpoint of the node
	RPCHost   string
	RPCPort   int
	RPCScheme string

	// CollectorURL is the websocket address of the stats collector
	CollectorURL string

	// InstanceName is the name displayed on the monitoring page
	InstanceName string

	// VersionString is the client/version string of the node
	VersionString string

	// UpdateInterval is the period of the poll timer
	UpdateInterval time.Duration

	// QueryTimeout bounds every single node query
	QueryTimeout time.Duration

	// MetricsAddr enables the http status and metrics server if set
	MetricsAddr string

	// ArchiveEndpoint is the postgres endpoint of the snapshot archive, if any
	ArchiveEndpoint string

	// ArchiveRetentionDays prunes archived snapshots older than this, 0 keeps everything
	ArchiveRetentionDays int
}

func DefaultConfig() *Config {
	return &Config{
		RPCHost:        "localhost",
		RPCPort:        8080,
		RPCScheme:      "http",
		CollectorURL:   "ws://localhost:3000",
		InstanceName:   "Local Node",
		VersionString:  "eth version 0.8.1",
		UpdateInterval: defaultUpdateInterval,
		QueryTimeout:   defaultQueryTimeout,
	}
}

func (c *Config) validate() error {
	if c.RPCHost == "" {
		return fmt.Errorf("rpc host is empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("invalid rpc port %d", c.RPCPort)
	}
	if c.CollectorURL == "" {
		return fmt.Errorf("collector url is empty")
	}
	if c.InstanceName == "" {
		return fmt.Errorf("instance name is empty")
	}
	if c.ArchiveRetentionDays < 0 {
		return fmt.Errorf("invalid archive retention %d", c.ArchiveRetentionDays)
	}
	return nil
}

// RPCEndpoint is the url used to dial the node.
func (c *Config) RPCEndpoint() string {
	scheme := c.RPCScheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.RPCHost, c.RPCPort)
}

// collectorEndpoint resolves the collector websocket url, defaulting to the
// '/api' path the collector listens on.
func (c *Config) collectorEndpoint() (string, error) {
	addr := c.CollectorURL
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported collector scheme '%s'", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/api"
	}
	return u.String(), nil
}
