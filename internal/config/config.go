package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrPortNotNumeric  = errors.New("config: the supplied port is not numeric")
	ErrPortNotFourWide = errors.New("config: the supplied port does not have four digits")
	ErrBadBootstrap    = errors.New("config: bootstrap address is not host:port")
	ErrNoInterface     = errors.New("config: failed to find a usable network address")
)

// Config is the startup configuration of a peer. Bad values here are the
// only fatal errors in the program; everything after startup is logged
// and recovered.
type Config struct {
	// Name is the human-readable peer name proposed to the network. The
	// bootstrap peer may rename us on collision.
	Name string

	// Port is the four-digit TCP port the peer listens on.
	Port string

	// Bootstrap is the address of any peer of an existing network. Empty
	// means bootstrap a new network containing only ourselves.
	Bootstrap string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// HeartbeatInterval is the failure-detector period. Pending lookups
	// are swept after twice this duration.
	HeartbeatInterval time.Duration

	// DialTimeout bounds every outbound connect. Exceeding it is treated
	// as evidence the target is gone.
	DialTimeout time.Duration
}

func setDefaults() {
	viper.SetDefault("name", defaultName())
	viper.SetDefault("port", "4000")
	viper.SetDefault("bootstrap", "")
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("heartbeat", 10*time.Second)
	viper.SetDefault("dialtimeout", time.Second)
}

func defaultName() string {
	host, err := os.Hostname()
	if err != nil {
		return "peer"
	}
	return host
}

// Load builds the configuration from defaults, an optional config file,
// and any flag bindings the caller registered with viper beforehand.
func Load(configFilePath string) (*Config, error) {
	setDefaults()

	if configFilePath != "" {
		viper.SetConfigFile(configFilePath)
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				slog.Info("no config file found", "path", configFilePath)
			} else {
				return nil, fmt.Errorf("config: read %s: %w", configFilePath, err)
			}
		}
	}

	cfg := &Config{
		Name:              viper.GetString("name"),
		Port:              viper.GetString("port"),
		Bootstrap:         viper.GetString("bootstrap"),
		LogLevel:          viper.GetString("loglevel"),
		HeartbeatInterval: viper.GetDuration("heartbeat"),
		DialTimeout:       viper.GetDuration("dialtimeout"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := ValidatePort(c.Port); err != nil {
		return err
	}
	if c.Bootstrap != "" {
		if _, err := netip.ParseAddrPort(c.Bootstrap); err != nil {
			return fmt.Errorf("%w: %q", ErrBadBootstrap, c.Bootstrap)
		}
	}
	return nil
}

// BootstrapAddr returns the parsed bootstrap address, or ok=false when
// the peer should start a fresh network.
func (c *Config) BootstrapAddr() (netip.AddrPort, bool) {
	if c.Bootstrap == "" {
		return netip.AddrPort{}, false
	}
	ap, err := netip.ParseAddrPort(c.Bootstrap)
	if err != nil {
		return netip.AddrPort{}, false
	}
	return ap, true
}

// ValidatePort enforces the network's port convention: numeric, exactly
// four digits.
func ValidatePort(port string) error {
	if len(port) != 4 {
		return ErrPortNotFourWide
	}
	for _, r := range port {
		if r < '0' || r > '9' {
			return ErrPortNotNumeric
		}
	}
	return nil
}

// ListenAddr computes the address this peer announces to the network:
// the first non-loopback IPv4 interface plus the configured port.
func (c *Config) ListenAddr() (netip.AddrPort, error) {
	if err := ValidatePort(c.Port); err != nil {
		return netip.AddrPort{}, err
	}

	ip, err := localIPv4()
	if err != nil {
		return netip.AddrPort{}, err
	}

	ap, err := netip.ParseAddrPort(net.JoinHostPort(ip, c.Port))
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %v", ErrNoInterface, err)
	}
	return ap, nil
}

func localIPv4() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", ErrNoInterface
	}

	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil || ip.IsLoopback() {
				continue
			}
			return ip.String(), nil
		}
	}

	// A lone machine still gets a working peer.
	return "127.0.0.1", nil
}
