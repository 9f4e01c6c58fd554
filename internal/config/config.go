// Package config holds the deployment configuration for a node or
// gateway binary.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"must-hop/internal/netmgr"
	"must-hop/internal/router"
)

type NodeCfg struct {
	Address      uint32   `yaml:"address" json:"address"`
	Gateway      bool     `yaml:"gateway" json:"gateway"`
	MaxHops      uint8    `yaml:"max_hops" json:"max_hops"`
	TickInterval Duration `yaml:"tick_interval" json:"tick_interval"`
}

type MeshCfg struct {
	SuppressionWindow   Duration `yaml:"suppression_window" json:"suppression_window"`
	SuppressionCapacity int      `yaml:"suppression_capacity" json:"suppression_capacity"`
	PendingCapacity     int      `yaml:"pending_capacity" json:"pending_capacity"`
	InboundQueue        int      `yaml:"inbound_queue" json:"inbound_queue"`
	MaxRetries          int      `yaml:"max_retries" json:"max_retries"`
	InitialBackoff      Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff          Duration `yaml:"max_backoff" json:"max_backoff"`
}

type RadioCfg struct {
	Listen string   `yaml:"listen" json:"listen"`
	Peers  []string `yaml:"peers" json:"peers"`
}

type UplinkCfg struct {
	Broker string `yaml:"broker" json:"broker"`
	Topic  string `yaml:"topic" json:"topic"`
	QoS    byte   `yaml:"qos" json:"qos"`
}

type TelemetryCfg struct {
	Listen string `yaml:"listen" json:"listen"`
}

type Config struct {
	Node      NodeCfg      `yaml:"node" json:"node"`
	Mesh      MeshCfg      `yaml:"mesh" json:"mesh"`
	Radio     RadioCfg     `yaml:"radio" json:"radio"`
	Uplink    UplinkCfg    `yaml:"uplink" json:"uplink"`
	Telemetry TelemetryCfg `yaml:"telemetry" json:"telemetry"`
}

// Load reads a YAML config file, falling back to JSON.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if yaml.Unmarshal(buf, cfg) == nil {
		cfg.applyDefaults()
		return cfg, nil
	}
	if err := json.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("config: %s is neither YAML nor JSON: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Node.TickInterval <= 0 {
		c.Node.TickInterval = Duration(100 * time.Millisecond)
	}
	if c.Uplink.Topic == "" {
		c.Uplink.Topic = "must-hop/uplink"
	}
}

// RouterConfig maps the mesh tuning section onto the router.
func (c *Config) RouterConfig() router.Config {
	return router.Config{
		MaxHops:             c.Node.MaxHops,
		PendingCapacity:     c.Mesh.PendingCapacity,
		InboundCapacity:     c.Mesh.InboundQueue,
		MaxRetries:          c.Mesh.MaxRetries,
		InitialBackoff:      c.Mesh.InitialBackoff.Std(),
		MaxBackoff:          c.Mesh.MaxBackoff.Std(),
		SuppressionCapacity: c.Mesh.SuppressionCapacity,
		SuppressionWindow:   c.Mesh.SuppressionWindow.Std(),
	}
}

// ManagerConfig builds the network manager configuration.
func (c *Config) ManagerConfig() netmgr.Config {
	role := netmgr.RoleNode
	if c.Node.Gateway {
		role = netmgr.RoleGateway
	}
	return netmgr.Config{Role: role, Router: c.RouterConfig()}
}
