// Package discovery implements SSDP discovery of UPnP MediaRenderer
// devices: multicast listening, active M-SEARCH, and maintenance of the
// discovery table (alive/byebye/expiry) with device add/remove events.
package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jellydator/ttlcache/v3"
	"github.com/robfig/cron/v3"

	"airpnp-bridge/internal/upnp"
)

const (
	// MulticastAddr is the standard SSDP multicast group and port.
	MulticastAddr = "239.255.255.250:1900"

	// SearchTargetRootDevice and SearchTargetMediaRenderer are the two
	// search targets this bridge cares about (§6).
	SearchTargetRootDevice    = "upnp:rootdevice"
	SearchTargetMediaRenderer = "urn:schemas-upnp-org:device:MediaRenderer:1"

	defaultMaxAge = 1800 * time.Second
)

// Record is a DiscoveredDevice: the bridge's view of one advertised device,
// independent of whether its description has been fetched yet.
type Record struct {
	UDN        string
	Location   string
	DeviceType string
	ExpiresAt  time.Time
	LastSeenAt time.Time
}

// Discovery listens for SSDP alive/byebye/M-SEARCH-response traffic,
// maintains the discovery table with max-age expiry via ttlcache, and fires
// device-added/device-removed callbacks once a newly admitted record's
// description has been fetched and parsed into a Device.
type Discovery struct {
	httpClient *http.Client
	logger     *slog.Logger

	table *ttlcache.Cache[string, *Record]

	mu        sync.Mutex
	onAdded   func(udn string, device *upnp.Device)
	onRemoved func(udn string)

	cronSched *cron.Cron
	interval  time.Duration
	fetchTO   time.Duration
}

// Option configures a Discovery instance.
type Option func(*Discovery)

// WithHTTPClient overrides the client used for description fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Discovery) { d.httpClient = c }
}

// WithLogger overrides the logger (defaults to slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(d *Discovery) { d.logger = l }
}

// WithInterval sets how often active M-SEARCH is re-issued.
func WithInterval(interval time.Duration) Option {
	return func(d *Discovery) { d.interval = interval }
}

// WithDescriptionTimeout sets the per-fetch timeout for description URLs.
func WithDescriptionTimeout(timeout time.Duration) Option {
	return func(d *Discovery) { d.fetchTO = timeout }
}

// New builds a Discovery. onAdded/onRemoved fire whenever the table's
// membership changes — exactly the UDNs with alive seen and not yet expired
// or byebye'd.
func New(onAdded func(udn string, device *upnp.Device), onRemoved func(udn string), opts ...Option) *Discovery {
	d := &Discovery{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
		onAdded:    onAdded,
		onRemoved:  onRemoved,
		interval:   30 * time.Second,
		fetchTO:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.table = ttlcache.New[string, *Record](
		ttlcache.WithTTL[string, *Record](defaultMaxAge),
		ttlcache.WithDisableTouchOnHit[string, *Record](),
	)
	d.table.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Record]) {
		if reason == ttlcache.EvictionReasonExpired || reason == ttlcache.EvictionReasonDeleted {
			d.logger.Info("device record removed", "udn", item.Key(), "reason", reason)
			if d.onRemoved != nil {
				d.onRemoved(item.Key())
			}
		}
	})

	return d
}

// Run starts the background eviction sweeper and the periodic M-SEARCH
// cron job, and blocks until ctx is cancelled.
func (d *Discovery) Run(ctx context.Context) {
	go d.table.Start()
	defer d.table.Stop()

	d.cronSched = cron.New()
	spec := fmt.Sprintf("@every %s", d.interval)
	_, err := d.cronSched.AddFunc(spec, func() {
		if err := d.search(ctx, d.interval); err != nil {
			d.logger.Warn("periodic M-SEARCH failed", "error", err)
		}
	})
	if err != nil {
		d.logger.Error("failed to schedule periodic discovery", "error", err)
		return
	}
	d.cronSched.Start()
	defer d.cronSched.Stop()

	if err := d.search(ctx, d.interval); err != nil {
		d.logger.Warn("initial M-SEARCH failed", "error", err)
	}

	go d.listenMulticast(ctx)

	<-ctx.Done()
}

// search performs an active M-SEARCH for both search targets §6 names and
// admits/refreshes each responding location.
func (d *Discovery) search(ctx context.Context, timeout time.Duration) error {
	var result error
	for _, st := range []string{SearchTargetRootDevice, SearchTargetMediaRenderer} {
		locations, err := d.msearch(ctx, st, timeout)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		for udn, loc := range locations {
			d.admit(ctx, udn, loc, st, defaultMaxAge)
		}
	}
	return result
}

func (d *Discovery) msearch(ctx context.Context, searchTarget string, timeout time.Duration) (map[string]string, error) {
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: open UDP socket: %w", err)
	}
	defer conn.Close()

	addr, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve multicast address: %w", err)
	}

	request := fmt.Sprintf(
		"M-SEARCH * HTTP/1.1\r\n"+
			"HOST: %s\r\n"+
			"MAN: \"ssdp:discover\"\r\n"+
			"MX: %d\r\n"+
			"ST: %s\r\n"+
			"\r\n",
		MulticastAddr, int(timeout.Seconds()), searchTarget,
	)

	if _, err := conn.WriteToUDP([]byte(request), addr); err != nil {
		return nil, fmt.Errorf("discovery: send M-SEARCH: %w", err)
	}

	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)

	locations := make(map[string]string)
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return locations, ctx.Err()
		default:
		}

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			continue
		}

		resp := string(buf[:n])
		loc := extractHeader(resp, "LOCATION")
		usn := extractHeader(resp, "USN")
		udn, _ := splitUSN(usn)
		if loc != "" && udn != "" {
			locations[udn] = loc
		}
	}
	return locations, nil
}

// HandleNotify processes a raw NOTIFY datagram body (ssdp:alive or
// ssdp:byebye), as received by the multicast listener.
func (d *Discovery) HandleNotify(ctx context.Context, raw string) {
	nts := extractHeader(raw, "NTS")
	usn := extractHeader(raw, "USN")
	udn, deviceType := splitUSN(usn)
	if udn == "" {
		return
	}

	switch strings.ToLower(strings.TrimSpace(nts)) {
	case "ssdp:alive":
		loc := extractHeader(raw, "LOCATION")
		maxAge, ok := parseMaxAge(extractHeader(raw, "CACHE-CONTROL"))
		if !ok {
			// Missing/malformed max-age: leave an existing record's
			// expiry unchanged (only its last-seen time is updated),
			// reject (ignore) if there is none yet.
			d.refreshExisting(udn)
			return
		}
		d.admit(ctx, udn, loc, deviceType, maxAge)
	case "ssdp:byebye":
		d.table.Delete(udn)
	}
}

func (d *Discovery) refreshExisting(udn string) {
	item := d.table.Get(udn)
	if item == nil {
		return
	}
	rec := item.Value()
	rec.LastSeenAt = time.Now()
}

func (d *Discovery) admit(ctx context.Context, udn, location, deviceType string, maxAge time.Duration) {
	now := time.Now()
	existing := d.table.Get(udn)

	rec := &Record{
		UDN:        udn,
		Location:   location,
		DeviceType: deviceType,
		ExpiresAt:  now.Add(maxAge),
		LastSeenAt: now,
	}
	d.table.Set(udn, rec, maxAge)

	if existing != nil {
		return
	}

	device, err := d.fetchWithRetry(ctx, location)
	if err != nil {
		d.logger.Warn("dropping device after description fetch failure", "udn", udn, "location", location, "error", err)
		d.table.Delete(udn)
		return
	}

	d.logger.Info("device added", "udn", udn, "friendly_name", device.FriendlyName)
	if d.onAdded != nil {
		d.onAdded(udn, device)
	}
}

// fetchWithRetry fetches and parses a device description, retrying once
// after any failure (transport error, non-200 status or unparsable body).
func (d *Discovery) fetchWithRetry(ctx context.Context, location string) (*upnp.Device, error) {
	var errs error
	for attempt := 0; attempt < 2; attempt++ {
		device, err := d.fetchDescription(ctx, location)
		if err == nil {
			return device, nil
		}
		errs = multierror.Append(errs, err)
	}
	return nil, errs
}

func (d *Discovery) fetchDescription(ctx context.Context, location string) (*upnp.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, d.fetchTO)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: build description request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery: fetch description: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery: unexpected status %d fetching %s", resp.StatusCode, location)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("discovery: read description body: %w", err)
	}

	return upnp.ParseDevice(data, location)
}

// listenMulticast joins the SSDP multicast group and feeds NOTIFY datagrams
// into HandleNotify until ctx is cancelled.
func (d *Discovery) listenMulticast(ctx context.Context) {
	addr, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		d.logger.Error("discovery: resolve multicast address", "error", err)
		return
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		d.logger.Error("discovery: join multicast group", "error", err)
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		d.HandleNotify(ctx, string(buf[:n]))
	}
}

var headerRe = func(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + name + `:\s*(.+?)\r?\n`)
}

func extractHeader(raw, name string) string {
	re := headerRe(name)
	m := re.FindStringSubmatch(raw)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// splitUSN splits a USN header of the form "uuid:x::type" into (uuid:x,
// type), or (uuid:x, "") if there is no double-colon suffix.
func splitUSN(usn string) (udn, deviceType string) {
	if usn == "" {
		return "", ""
	}
	if idx := strings.Index(usn, "::"); idx >= 0 {
		return usn[:idx], usn[idx+2:]
	}
	return usn, ""
}

// parseMaxAge extracts "max-age=N" from a Cache-Control header, tolerating
// surrounding spaces. ok is false if the header is missing or malformed.
func parseMaxAge(cacheControl string) (time.Duration, bool) {
	re := regexp.MustCompile(`max-age\s*=\s*(\d+)`)
	m := re.FindStringSubmatch(cacheControl)
	if len(m) < 2 {
		return 0, false
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
