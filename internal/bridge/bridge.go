// Package bridge ties discovery, UPnP control, the AirPlay HTTP server, and
// mDNS advertisement together: one BridgeServer per process, one HTTP
// listener and one AVControlPoint per admitted renderer.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"airpnp-bridge/internal/airplay"
	"airpnp-bridge/internal/control"
	"airpnp-bridge/internal/upnp"
	"airpnp-bridge/internal/zeroconf"
)

const (
	requiredAVTransportType   = "urn:schemas-upnp-org:service:AVTransport:1"
	requiredConnectionMgrType = "urn:schemas-upnp-org:service:ConnectionManager:1"
	scpdFetchTimeout          = 10 * time.Second
)

// mount is everything BridgeServer keeps alive for one admitted renderer.
type mount struct {
	deviceID string
	port     int
	server   *http.Server
	cp       *control.AVControlPoint
}

// BridgeServer admits renderers discovered by internal/discovery, exposing
// each as its own AirPlay v1 HTTP endpoint advertised over mDNS.
type BridgeServer struct {
	httpClient *http.Client
	logger     *slog.Logger
	ports      *PortPool
	advertiser *zeroconf.Advertiser

	mu     sync.Mutex
	mounts map[string]*mount // keyed by UDN
}

// New constructs a BridgeServer. portStart/portEnd bound the TCP range used
// for per-renderer AirPlay listeners.
func New(httpClient *http.Client, advertiser *zeroconf.Advertiser, portStart, portEnd int, logger *slog.Logger) *BridgeServer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BridgeServer{
		httpClient: httpClient,
		logger:     logger,
		ports:      NewPortPool(portStart, portEnd),
		advertiser: advertiser,
		mounts:     make(map[string]*mount),
	}
}

// OnDeviceAdded is the onAdded callback passed to discovery.New for admitting
// a newly discovered renderer. Devices lacking AVTransport or ConnectionManager
// at a compatible version are silently skipped.
func (b *BridgeServer) OnDeviceAdded(udn string, device *upnp.Device) {
	avTransport, ok := findServiceByType(device, requiredAVTransportType)
	if !ok {
		b.logger.Debug("device lacks compatible AVTransport, skipping", "udn", udn)
		return
	}
	connMgr, ok := findServiceByType(device, requiredConnectionMgrType)
	if !ok {
		b.logger.Debug("device lacks ConnectionManager, skipping", "udn", udn)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), scpdFetchTimeout)
	defer cancel()

	sender := &httpSender{client: b.httpClient}
	if err := b.initializeService(ctx, avTransport, sender); err != nil {
		b.logger.Warn("failed to initialize AVTransport", "udn", udn, "error", err)
		return
	}
	if err := b.initializeService(ctx, connMgr, sender); err != nil {
		b.logger.Warn("failed to initialize ConnectionManager", "udn", udn, "error", err)
		return
	}

	cp, err := control.New(device, b.logger)
	if err != nil {
		b.logger.Warn("failed to construct control point", "udn", udn, "error", err)
		return
	}

	port, err := b.ports.Acquire()
	if err != nil {
		b.logger.Error("failed to acquire port for device", "udn", udn, "error", err)
		cp.Close()
		return
	}

	deviceID := upnp.CreateDeviceID(udn)
	router := airplay.NewRouter(cp, deviceID, b.logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		b.logger.Error("failed to bind airplay listener", "udn", udn, "port", port, "error", err)
		b.ports.Release(port)
		cp.Close()
		return
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("airplay listener failed", "udn", udn, "error", err)
		}
	}()

	if b.advertiser != nil {
		if err := b.advertiser.Publish(deviceID, device.FriendlyName, airplay.Model, airplay.Features, port); err != nil {
			b.logger.Warn("failed to publish mDNS advertisement", "udn", udn, "error", err)
		}
	}

	b.mu.Lock()
	b.mounts[udn] = &mount{deviceID: deviceID, port: port, server: srv, cp: cp}
	b.mu.Unlock()

	b.logger.Info("admitted renderer", "udn", udn, "friendly_name", device.FriendlyName, "port", port, "device_id", deviceID)
}

// OnDeviceRemoved tears down everything admitted for udn.
func (b *BridgeServer) OnDeviceRemoved(udn string) {
	b.mu.Lock()
	m, ok := b.mounts[udn]
	if ok {
		delete(b.mounts, udn)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	if b.advertiser != nil {
		b.advertiser.Unpublish(m.deviceID)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.server.Shutdown(shutdownCtx); err != nil {
		b.logger.Warn("airplay listener shutdown error", "udn", udn, "error", err)
	}
	m.cp.Close()
	b.ports.Release(m.port)

	b.logger.Info("removed renderer", "udn", udn)
}

// Close tears down every currently admitted renderer.
func (b *BridgeServer) Close() {
	b.mu.Lock()
	udns := make([]string, 0, len(b.mounts))
	for udn := range b.mounts {
		udns = append(udns, udn)
	}
	b.mu.Unlock()

	for _, udn := range udns {
		b.OnDeviceRemoved(udn)
	}
}

func (b *BridgeServer) initializeService(ctx context.Context, svc *upnp.Service, sender upnp.Sender) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.SCPDURL, nil)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge: fetch SCPD %s: status %d", svc.SCPDURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bridge: read SCPD %s: %w", svc.SCPDURL, err)
	}
	return svc.Initialize(body, sender)
}

func findServiceByType(device *upnp.Device, serviceType string) (*upnp.Service, bool) {
	for _, svc := range device.Services() {
		if upnp.AreServiceTypesCompatible(serviceType, svc.ServiceType) {
			return svc, true
		}
	}
	return nil, false
}

