// Package zeroconf advertises one AirPlay v1 HTTP endpoint per bridged
// renderer over mDNS, so that AirPlay clients discover it the same way they
// discover a real Apple TV.
package zeroconf

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/grandcat/zeroconf"
)

const (
	serviceType = "_airplay._tcp"
	domain      = "local."
)

// Advertiser registers and deregisters AirPlay service instances over mDNS.
// One Advertiser is shared across all bridged renderers; each renderer gets
// its own *zeroconf.Server keyed by device ID.
type Advertiser struct {
	logger *slog.Logger

	mu      sync.Mutex
	servers map[string]*zeroconf.Server
}

// New constructs an Advertiser. Pass logger=nil to use slog.Default().
func New(logger *slog.Logger) *Advertiser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{logger: logger, servers: make(map[string]*zeroconf.Server)}
}

// Publish advertises instance (the friendly name shown in AirPlay device
// pickers) on port, with deviceID/features/model as its TXT record, per §6.
// Publishing the same deviceID twice replaces the prior advertisement.
func (a *Advertiser) Publish(deviceID, instance, model string, features int, port int) error {
	text := []string{
		"deviceid=" + deviceID,
		fmt.Sprintf("features=0x%X", features),
		"model=" + model,
	}

	server, err := zeroconf.Register(instance, serviceType, domain, port, text, nil)
	if err != nil {
		return fmt.Errorf("zeroconf: register %s: %w", instance, err)
	}

	a.mu.Lock()
	if existing, ok := a.servers[deviceID]; ok {
		existing.Shutdown()
	}
	a.servers[deviceID] = server
	a.mu.Unlock()

	a.logger.Info("advertising airplay service", "device_id", deviceID, "instance", instance, "port", port)
	return nil
}

// Unpublish withdraws the advertisement for deviceID, if any.
func (a *Advertiser) Unpublish(deviceID string) {
	a.mu.Lock()
	server, ok := a.servers[deviceID]
	if ok {
		delete(a.servers, deviceID)
	}
	a.mu.Unlock()

	if !ok {
		return
	}
	server.Shutdown()
	a.logger.Info("withdrew airplay advertisement", "device_id", deviceID)
}

// Close withdraws every advertisement currently registered.
func (a *Advertiser) Close() {
	a.mu.Lock()
	servers := a.servers
	a.servers = make(map[string]*zeroconf.Server)
	a.mu.Unlock()

	for id, server := range servers {
		server.Shutdown()
		a.logger.Debug("withdrew airplay advertisement on close", "device_id", id)
	}
}
