// Package config holds the runtime configuration for both roles.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/rmsg/internal/protocol"
)

// Role represents the chosen role (server or client).
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// TransportKind selects the datagram carrier.
type TransportKind string

const (
	TransportUDP       TransportKind = "udp"
	TransportWebSocket TransportKind = "ws"
	TransportWebRTC    TransportKind = "webrtc"
)

// Defaults.
const (
	DefaultPort           = 8080
	DefaultMaxMessageLen  = 99999
	DefaultFragmentSize   = 511
	DefaultReceiveTimeout = 2 * time.Second
	DefaultMaxResends     = 5
)

// Protocol holds the tunables shared by the fragmenter and the reassembler.
type Protocol struct {
	MaxMessageLen  int      `toml:"max_message_len" yaml:"max_message_len"`
	FragmentSize   int      `toml:"fragment_size" yaml:"fragment_size"`
	ReceiveTimeout Duration `toml:"receive_timeout" yaml:"receive_timeout"`
	MaxResends     int      `toml:"max_resends" yaml:"max_resends"`
	IdleTimeout    Duration `toml:"idle_timeout" yaml:"idle_timeout"` // server only, 0 waits forever
}

// Config stores all parameters gathered from the config file, flags and
// interactive prompts.
type Config struct {
	Role      Role          `toml:"role" yaml:"role"`
	Transport TransportKind `toml:"transport" yaml:"transport"`
	Addr      string        `toml:"addr" yaml:"addr"` // client: server host, server: bind host
	Port      int           `toml:"port" yaml:"port"`
	WSURL     string        `toml:"ws_url" yaml:"ws_url"` // client, ws/webrtc only
	PIN       string        `toml:"pin" yaml:"pin"`       // server, ws/webrtc only
	Debug     bool          `toml:"debug" yaml:"debug"`
	Protocol  Protocol      `toml:"protocol" yaml:"protocol"`
}

// DefaultProtocol returns the protocol tunables used when nothing is configured.
func DefaultProtocol() Protocol {
	return Protocol{
		MaxMessageLen:  DefaultMaxMessageLen,
		FragmentSize:   DefaultFragmentSize,
		ReceiveTimeout: Duration{DefaultReceiveTimeout},
		MaxResends:     DefaultMaxResends,
	}
}

// Default returns a Config with every field at its default value.
func Default() *Config {
	return &Config{
		Transport: TransportUDP,
		Addr:      "127.0.0.1",
		Port:      DefaultPort,
		Protocol:  DefaultProtocol(),
	}
}

// Address joins Addr and Port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Addr, c.Port)
}

// Validate checks the ranges of every field.
func (c *Config) Validate() error {
	switch c.Role {
	case "", RoleServer, RoleClient:
	default:
		return fmt.Errorf("invalid role %q: must be 'server' or 'client'", c.Role)
	}
	switch c.Transport {
	case TransportUDP, TransportWebSocket, TransportWebRTC:
	default:
		return fmt.Errorf("invalid transport %q: must be udp, ws or webrtc", c.Transport)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0~65535", c.Port)
	}
	return c.Protocol.Validate()
}

// Validate checks the protocol tunables.
func (p Protocol) Validate() error {
	var errs []error
	if p.FragmentSize < 1 || p.FragmentSize > protocol.PayloadCapacity {
		errs = append(errs, fmt.Errorf("fragment_size %d out of range 1~%d", p.FragmentSize, protocol.PayloadCapacity))
	}
	if p.MaxMessageLen < 1 {
		errs = append(errs, fmt.Errorf("max_message_len %d must be positive", p.MaxMessageLen))
	}
	if p.FragmentSize > 0 && p.MaxMessageLen > 0 && Fragments(p.MaxMessageLen, p.FragmentSize) >= int(protocol.SeqEndOfStream) {
		errs = append(errs, fmt.Errorf("max_message_len %d needs more fragments than the sequence space allows", p.MaxMessageLen))
	}
	if p.ReceiveTimeout.Duration <= 0 {
		errs = append(errs, errors.New("receive_timeout must be positive"))
	}
	if p.MaxResends < 0 {
		errs = append(errs, fmt.Errorf("max_resends %d must not be negative", p.MaxResends))
	}
	if p.IdleTimeout.Duration < 0 {
		errs = append(errs, errors.New("idle_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// Fragments returns ceil(length/size).
func Fragments(length, size int) int {
	return (length + size - 1) / size
}
