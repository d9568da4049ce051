// Package config loads peer configuration from an INI file using
// gopkg.in/ini.v1.
package config

import (
	"net"

	"github.com/scdt-project/scdt/pkg/wire"
	"gopkg.in/ini.v1"
)

// Defaults for the compile-time sizing constants, chosen so CacheSize is
// a clean multiple of BlockSize.
const (
	DefaultPort       = 9
	DefaultBlockSize  = 1024
	DefaultCacheSize  = 64 * 1024
	DefaultPacketSize = 1024
	DefaultIntervalMs = 1000
	DefaultMaxPackets = 0 // unbounded
)

// Config carries every recognized peer option plus the cache geometry
// constants.
type Config struct {
	RemoteAddress string
	RemotePort    int
	IsRoot        bool

	// Legacy echo-like parameters, unused by the core protocol; carried
	// only because the original Send() surface accepted them.
	MaxPackets int
	IntervalMs int
	PacketSize int

	BlockSize int
	CacheSize int
}

// Default returns a Config with every size/timing constant at its
// documented default, RemotePort at the well-known port, and IsRoot
// false.
func Default() Config {
	return Config{
		RemotePort: DefaultPort,
		BlockSize:  DefaultBlockSize,
		CacheSize:  DefaultCacheSize,
		PacketSize: DefaultPacketSize,
		IntervalMs: DefaultIntervalMs,
		MaxPackets: DefaultMaxPackets,
	}
}

// Load parses an INI file's [peer] section into a Config, starting from
// Default() so unspecified keys keep their documented defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	file, err := ini.Load(path)
	if err != nil {
		return cfg, err
	}
	section := file.Section("peer")

	if key := section.Key("RemoteAddress"); key.String() != "" {
		cfg.RemoteAddress = key.String()
	}
	if key := section.Key("RemotePort"); key.String() != "" {
		cfg.RemotePort = key.MustInt(DefaultPort)
	}
	cfg.IsRoot = section.Key("IsRoot").MustBool(false)
	cfg.MaxPackets = section.Key("MaxPackets").MustInt(DefaultMaxPackets)
	cfg.IntervalMs = section.Key("Interval").MustInt(DefaultIntervalMs)
	cfg.PacketSize = section.Key("PacketSize").MustInt(DefaultPacketSize)
	cfg.BlockSize = section.Key("BlockSize").MustInt(DefaultBlockSize)
	cfg.CacheSize = section.Key("CacheSize").MustInt(DefaultCacheSize)

	return cfg, nil
}

// RootAddr resolves the configured root/bootstrap contact into a wire
// address. An address family the stack can't represent is fatal
// An incompatible address family for the configured root is fatal.
func (c Config) RootAddr() (wire.Addr, error) {
	ip := net.ParseIP(c.RemoteAddress)
	return wire.AddrFromUDP(&net.UDPAddr{IP: ip, Port: c.RemotePort})
}
