// Package config loads and validates a node's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cvsouth/vanet-mesh/mac"
)

// Role distinguishes an RSU (gateway, heartbeat source) from an OBU
// (relay/leaf).
type Role string

const (
	RoleRSU Role = "rsu"
	RoleOBU Role = "obu"
)

// NodeConfig is the top-level shape of a node's YAML configuration file.
type NodeConfig struct {
	Role         Role          `yaml:"role"`
	MAC          string        `yaml:"mac"`
	Interface    string        `yaml:"interface"`
	HelloHistory int           `yaml:"hello_history"`
	Candidates   int           `yaml:"candidates"`
	MaxHops      uint32        `yaml:"max_hops"`
	HeartbeatInt time.Duration `yaml:"heartbeat_interval"`

	Encryption EncryptionConfig `yaml:"encryption"`
	Log        LogConfig        `yaml:"log"`

	// ParsedMAC is populated by Validate and is the form the rest of the
	// node consumes; MAC above stays a string purely for YAML ergonomics.
	ParsedMAC mac.Addr `yaml:"-"`

	// ParsedPeerMAC is populated by Validate when encryption is enabled.
	ParsedPeerMAC mac.Addr `yaml:"-"`
}

// EncryptionConfig controls the opaque AEAD boundary the forwarding plane
// sits on top of. It is never inspected by wire or routing. The session
// key is derived via X25519+HKDF from this node's static private key and
// the opposite gateway's static public key, not used directly as the
// AEAD key, per aead.DeriveSessionKey.
type EncryptionConfig struct {
	Enabled       bool   `yaml:"enabled"`
	PrivateKeyHex string `yaml:"private_key_hex"`
	PeerPublicKey string `yaml:"peer_public_key_hex"`
	PeerMAC       string `yaml:"peer_mac"`
}

// LogConfig is parsed from the log section of the YAML file. cmd/vanetd
// does not read it: its log file path (vanetd.log) and handler levels
// are fixed in setupLogging.
type LogConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// Load reads and parses path, then validates the result.
func Load(path string) (*NodeConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg NodeConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the configuration for internal consistency, filling in
// defaults and parsing the textual MAC into cfg.ParsedMAC. It is a
// distinct step from parsing, run once after YAML decoding succeeds.
func (c *NodeConfig) Validate() error {
	if c.Role != RoleRSU && c.Role != RoleOBU {
		return fmt.Errorf("config: role must be %q or %q, got %q", RoleRSU, RoleOBU, c.Role)
	}
	if c.Interface == "" {
		return fmt.Errorf("config: interface must not be empty")
	}
	addr, err := mac.ParseString(c.MAC)
	if err != nil {
		return fmt.Errorf("config: mac: %w", err)
	}
	c.ParsedMAC = addr

	if c.HelloHistory <= 0 {
		return fmt.Errorf("config: hello_history must be >= 1, got %d", c.HelloHistory)
	}
	if c.Candidates <= 0 {
		c.Candidates = 3
	}
	if c.MaxHops == 0 {
		c.MaxHops = 32
	}
	if c.Role == RoleRSU && c.HeartbeatInt <= 0 {
		return fmt.Errorf("config: rsu role requires a positive heartbeat_interval")
	}
	if c.Encryption.Enabled {
		if c.Encryption.PrivateKeyHex == "" || c.Encryption.PeerPublicKey == "" {
			return fmt.Errorf("config: encryption.enabled requires private_key_hex and peer_public_key_hex")
		}
		peer, err := mac.ParseString(c.Encryption.PeerMAC)
		if err != nil {
			return fmt.Errorf("config: encryption.peer_mac: %w", err)
		}
		c.ParsedPeerMAC = peer
	}
	return nil
}
