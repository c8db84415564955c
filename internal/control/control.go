// Package control implements AVControlPoint, the per-renderer session
// bridge between the AirPlay HTTP server and UPnP AVTransport /
// ConnectionManager.
package control

import (
	"context"
	"fmt"
	"log/slog"

	"airpnp-bridge/internal/duration"
	"airpnp-bridge/internal/upnp"
)

const (
	serviceIDAVTransport     = "urn:upnp-org:serviceId:AVTransport"
	serviceIDConnectionMgr   = "urn:upnp-org:serviceId:ConnectionManager"
	stateFallbackInstance    = "0"
	transportStatePlaying    = "PLAYING"
)

// ErrSessionRejected is returned by SetSessionID when a new session ID
// conflicts with an existing one — the bridge is single-session.
type ErrSessionRejected struct {
	Current, Requested string
}

func (e *ErrSessionRejected) Error() string {
	return fmt.Sprintf("control: session %q already active, rejecting %q", e.Current, e.Requested)
}

// ErrNoSession is returned by operations that require an active session
// (Play, Rate) when none exists. Stop without a session is a no-op.
var ErrNoSession = fmt.Errorf("control: no active session")

// state is AVControlPoint's mutable session state. All reads/writes happen
// only inside the executor goroutine.
type state struct {
	sessionID  *string
	instanceID string
	uri        *string
	preScrub   *float64
}

// AVControlPoint drives a single UPnP renderer on behalf of one AirPlay
// client at a time. All session-state mutation is pinned to a single
// goroutine reading off cmds — the systems-language translation of a
// single-threaded cooperative event loop — so operations are totally
// ordered on the wire without locks.
type AVControlPoint struct {
	device      *upnp.Device
	avTransport *upnp.Service
	connMgr     *upnp.Service
	logger      *slog.Logger

	st state

	cmds chan func()
	done chan struct{}
}

// New constructs an AVControlPoint for device. The device must expose both
// AVTransport and ConnectionManager services (callers should check with
// upnp.AreServiceTypesCompatible before calling New; New itself just
// requires the service IDs to be present).
func New(device *upnp.Device, logger *slog.Logger) (*AVControlPoint, error) {
	avTransport, ok := device.ServiceByID(serviceIDAVTransport)
	if !ok {
		return nil, fmt.Errorf("control: device %s has no AVTransport service", device.UDN)
	}
	connMgr, ok := device.ServiceByID(serviceIDConnectionMgr)
	if !ok {
		return nil, fmt.Errorf("control: device %s has no ConnectionManager service", device.UDN)
	}

	if logger == nil {
		logger = slog.Default()
	}

	cp := &AVControlPoint{
		device:      device,
		avTransport: avTransport,
		connMgr:     connMgr,
		logger:      logger,
		cmds:        make(chan func()),
		done:        make(chan struct{}),
	}
	go cp.loop()
	return cp, nil
}

func (cp *AVControlPoint) loop() {
	for {
		select {
		case f := <-cp.cmds:
			f()
		case <-cp.done:
			return
		}
	}
}

// Close stops the executor goroutine. Pending SOAP calls in flight when
// Close is invoked are allowed to finish; no new commands are accepted
// after Close returns.
func (cp *AVControlPoint) Close() {
	close(cp.done)
}

// exec runs f on the single executor goroutine and waits for it to
// complete, serializing it with every other operation on this control
// point.
func (cp *AVControlPoint) exec(f func()) {
	wait := make(chan struct{})
	select {
	case cp.cmds <- func() { f(); close(wait) }:
		<-wait
	case <-cp.done:
	}
}

func (cp *AVControlPoint) instanceIDOrDefault() string {
	if cp.st.instanceID != "" {
		return cp.st.instanceID
	}
	return stateFallbackInstance
}

// SetSessionID implements the §4.8 session transitions.
func (cp *AVControlPoint) SetSessionID(ctx context.Context, newID *string) error {
	var result error
	cp.exec(func() {
		cur := cp.st.sessionID

		switch {
		case cur == nil && newID == nil:
			// no-op
		case cur == nil && newID != nil:
			instance, err := cp.allocateInstanceID(ctx)
			if err != nil {
				result = err
				return
			}
			cp.st.sessionID = newID
			cp.st.instanceID = instance
			cp.st.preScrub = nil
			cp.st.uri = nil
		case cur != nil && newID == nil:
			cp.releaseInstanceID(ctx)
			cp.st = state{}
		case cur != nil && newID != nil && *cur == *newID:
			// no-op
		default:
			result = &ErrSessionRejected{Current: *cur, Requested: *newID}
		}
	})
	return result
}

func (cp *AVControlPoint) allocateInstanceID(ctx context.Context) (string, error) {
	if !cp.connMgr.HasAction("PrepareForConnection") {
		return stateFallbackInstance, nil
	}
	out, err := cp.connMgr.Call(ctx, "PrepareForConnection", map[string]string{
		"RemoteProtocolInfo": "http-get:*:*:*",
		"PeerConnectionManager": "",
		"PeerConnectionID":    "-1",
		"Direction":           "Input",
	})
	if err != nil {
		cp.logger.Warn("PrepareForConnection failed, falling back to instance 0", "error", err)
		return stateFallbackInstance, nil
	}
	if id, ok := out["AVTransportID"]; ok && id != "" {
		return id, nil
	}
	return stateFallbackInstance, nil
}

func (cp *AVControlPoint) releaseInstanceID(ctx context.Context) {
	if !cp.connMgr.HasAction("ConnectionComplete") {
		return
	}
	if _, err := cp.connMgr.Call(ctx, "ConnectionComplete", map[string]string{
		"ConnectionID": "-1",
	}); err != nil {
		cp.logger.Warn("ConnectionComplete failed", "error", err)
	}
}

// Play implements §4.8 play: set the URI, start playback, then replay any
// pre-play scrub position set before the session had a URI.
func (cp *AVControlPoint) Play(ctx context.Context, uri string, startPosition float64) error {
	var result error
	cp.exec(func() {
		if cp.st.sessionID == nil {
			result = ErrNoSession
			return
		}
		instance := cp.instanceIDOrDefault()

		if _, err := cp.avTransport.Call(ctx, "SetAVTransportURI", map[string]string{
			"InstanceID":         instance,
			"CurrentURI":         uri,
			"CurrentURIMetaData": "",
		}); err != nil {
			result = err
			return
		}

		if _, err := cp.avTransport.Call(ctx, "Play", map[string]string{
			"InstanceID": instance,
			"Speed":      "1",
		}); err != nil {
			result = err
			return
		}

		if cp.st.preScrub != nil {
			target := duration.ToDuration(*cp.st.preScrub)
			if _, err := cp.avTransport.Call(ctx, "Seek", map[string]string{
				"InstanceID": instance,
				"Unit":       "REL_TIME",
				"Target":     target,
			}); err != nil {
				result = err
				return
			}
			cp.st.preScrub = nil
		}

		u := uri
		cp.st.uri = &u
	})
	return result
}

// Stop implements §4.8 stop.
func (cp *AVControlPoint) Stop(ctx context.Context) error {
	var result error
	cp.exec(func() {
		if cp.st.sessionID == nil {
			return
		}
		if _, err := cp.avTransport.Call(ctx, "Stop", map[string]string{
			"InstanceID": cp.instanceIDOrDefault(),
		}); err != nil {
			result = err
			return
		}
		cp.st.uri = nil
	})
	return result
}

// SetScrub implements §4.8 set_scrub: seeks immediately if playback has
// started, otherwise remembers the position for the next Play.
func (cp *AVControlPoint) SetScrub(ctx context.Context, seconds float64) error {
	var result error
	cp.exec(func() {
		if cp.st.uri == nil {
			s := seconds
			cp.st.preScrub = &s
			return
		}
		if _, err := cp.avTransport.Call(ctx, "Seek", map[string]string{
			"InstanceID": cp.instanceIDOrDefault(),
			"Unit":       "REL_TIME",
			"Target":     duration.ToDuration(seconds),
		}); err != nil {
			result = err
		}
	})
	return result
}

// GetScrub implements §4.8 get_scrub: (duration, position) in seconds.
func (cp *AVControlPoint) GetScrub(ctx context.Context) (float64, float64, error) {
	var dur, pos float64
	var result error
	cp.exec(func() {
		if cp.st.uri == nil {
			return
		}
		out, err := cp.avTransport.Call(ctx, "GetPositionInfo", map[string]string{
			"InstanceID": cp.instanceIDOrDefault(),
		})
		if err != nil {
			result = err
			return
		}
		if d, perr := duration.ParseDuration(out["TrackDuration"]); perr == nil {
			dur = d
		}
		if p, perr := duration.ParseDuration(out["RelTime"]); perr == nil {
			pos = p
		}
	})
	return dur, pos, result
}

// IsPlaying implements §4.8 is_playing.
func (cp *AVControlPoint) IsPlaying(ctx context.Context) (bool, error) {
	var playing bool
	var result error
	cp.exec(func() {
		if cp.st.uri == nil {
			return
		}
		out, err := cp.avTransport.Call(ctx, "GetTransportInfo", map[string]string{
			"InstanceID": cp.instanceIDOrDefault(),
		})
		if err != nil {
			result = err
			return
		}
		playing = out["CurrentTransportState"] == transportStatePlaying
	})
	return playing, result
}

// Rate implements §4.8 rate: value >= 1 and not currently playing issues
// Play; value < 1 and playing issues Pause, falling back to Stop if the
// renderer doesn't declare Pause.
func (cp *AVControlPoint) Rate(ctx context.Context, value float64) error {
	playing, err := cp.IsPlaying(ctx)
	if err != nil {
		return err
	}

	var result error
	cp.exec(func() {
		if cp.st.sessionID == nil {
			result = ErrNoSession
			return
		}
		instance := cp.instanceIDOrDefault()

		switch {
		case value >= 1 && !playing:
			_, result = cp.avTransport.Call(ctx, "Play", map[string]string{"InstanceID": instance, "Speed": "1"})
		case value < 1 && playing:
			if cp.avTransport.HasAction("Pause") {
				_, result = cp.avTransport.Call(ctx, "Pause", map[string]string{"InstanceID": instance})
			} else {
				_, result = cp.avTransport.Call(ctx, "Stop", map[string]string{"InstanceID": instance})
			}
		}
	})
	return result
}

// Reverse implements §4.8 reverse: a no-op at the AV layer. It exists only
// so the AirPlay server's upgrade handshake has something to call.
func (cp *AVControlPoint) Reverse(ctx context.Context) error {
	return nil
}

// Photo implements §4.8 photo: accepted without error, not forwarded to the
// renderer — out of scope per the design notes' open question.
func (cp *AVControlPoint) Photo(ctx context.Context, data []byte, transition string) error {
	return nil
}
