package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the bridge process.
type Config struct {
	InterfaceName  string // network interface named by BRIDGE_INTERFACE (default: none); resolved and validated here only, discovery and the AirPlay listeners use all interfaces
	InterfaceIP    string // derived: the interface's first IPv4 address, empty if InterfaceName unset
	InterfaceIndex int    // derived: the interface's index, 0 if InterfaceName unset

	LogLevel string // debug, info, warn, error (default: info)

	DiscoveryInterval       time.Duration // period between re-issued M-SEARCH sweeps (default: 30s)
	DiscoveryTimeout        time.Duration // read and validated only; discovery waits DiscoveryInterval for M-SEARCH responses (default: 10s)
	DescriptionFetchTimeout time.Duration // per-request timeout fetching device description XML (default: 10s); SCPD fetches use the bridge's fixed 10s timeout
	SoapTimeout             time.Duration // per-call timeout for SOAP actions (default: 30s)

	PortRangeStart int // first TCP port handed out for AirPlay listeners (default: 7100)
	PortRangeEnd   int // last TCP port handed out, inclusive (default: 7199)

	ZeroconfEnabled bool // advertise admitted renderers over mDNS (default: true)
}

// Load reads configuration from environment variables. Returns an error
// joining every validation failure found, not just the first.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.InterfaceName = os.Getenv("BRIDGE_INTERFACE")
	if cfg.InterfaceName != "" {
		iface, err := net.InterfaceByName(cfg.InterfaceName)
		if err != nil {
			errs = append(errs, fmt.Sprintf("BRIDGE_INTERFACE %q not found: %v", cfg.InterfaceName, err))
		} else {
			cfg.InterfaceIndex = iface.Index
			if ip, err := firstIPv4(iface); err == nil {
				cfg.InterfaceIP = ip
			} else {
				errs = append(errs, fmt.Sprintf("BRIDGE_INTERFACE %q has no IPv4 address: %v", cfg.InterfaceName, err))
			}
		}
	}

	cfg.LogLevel = strings.ToLower(getEnvOrDefault("BRIDGE_LOG_LEVEL", "info"))
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Sprintf("BRIDGE_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", cfg.LogLevel))
	}

	cfg.DiscoveryInterval = parseDurationField("BRIDGE_DISCOVERY_INTERVAL", 30*time.Second, &errs)
	cfg.DiscoveryTimeout = parseDurationField("BRIDGE_DISCOVERY_TIMEOUT", 10*time.Second, &errs)
	cfg.DescriptionFetchTimeout = parseDurationField("BRIDGE_DESCRIPTION_FETCH_TIMEOUT", 10*time.Second, &errs)
	cfg.SoapTimeout = parseDurationField("BRIDGE_SOAP_TIMEOUT", 30*time.Second, &errs)

	cfg.PortRangeStart = parseIntField("BRIDGE_PORT_RANGE_START", 7100, &errs)
	cfg.PortRangeEnd = parseIntField("BRIDGE_PORT_RANGE_END", 7199, &errs)
	if cfg.PortRangeEnd < cfg.PortRangeStart {
		errs = append(errs, fmt.Sprintf("BRIDGE_PORT_RANGE_END (%d) must be >= BRIDGE_PORT_RANGE_START (%d)", cfg.PortRangeEnd, cfg.PortRangeStart))
	}

	cfg.ZeroconfEnabled = parseBoolField("BRIDGE_ZEROCONF_ENABLED", true, &errs)

	if len(errs) > 0 {
		return nil, errors.New("configuration errors: " + strings.Join(errs, "; "))
	}
	return cfg, nil
}

func parseDurationField(key string, def time.Duration, errs *[]string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be a valid duration (got: %s)", key, raw))
		return def
	}
	return d
}

func parseIntField(key string, def int, errs *[]string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer (got: %s)", key, raw))
		return def
	}
	return n
}

func parseBoolField(key string, def bool, errs *[]string) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be a boolean (got: %s)", key, raw))
		return def
	}
	return b
}

func firstIPv4(iface *net.Interface) (string, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no IPv4 address found")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
