package control

import (
	"context"
	"sync"
	"testing"

	"airpnp-bridge/internal/soap"
	"airpnp-bridge/internal/upnp"
)

const controlTestDeviceXML = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
    <friendlyName>Test Renderer</friendlyName>
    <manufacturer>Acme</manufacturer>
    <modelName>Acme1</modelName>
    <UDN>uuid:test-udn-1</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:AVTransport</serviceId>
        <SCPDURL>/AVTransport/scpd.xml</SCPDURL>
        <controlURL>/AVTransport/control</controlURL>
        <eventSubURL>/AVTransport/event</eventSubURL>
      </service>
      <service>
        <serviceType>urn:schemas-upnp-org:service:ConnectionManager:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:ConnectionManager</serviceId>
        <SCPDURL>/ConnectionManager/scpd.xml</SCPDURL>
        <controlURL>/ConnectionManager/control</controlURL>
        <eventSubURL>/ConnectionManager/event</eventSubURL>
      </service>
    </serviceList>
  </device>
</root>`

const avTransportSCPD = `<?xml version="1.0"?>
<scpd><actionList>
  <action><name>SetAVTransportURI</name><argumentList>
    <argument><name>InstanceID</name><direction>in</direction></argument>
    <argument><name>CurrentURI</name><direction>in</direction></argument>
    <argument><name>CurrentURIMetaData</name><direction>in</direction></argument>
  </argumentList></action>
  <action><name>Play</name><argumentList>
    <argument><name>InstanceID</name><direction>in</direction></argument>
    <argument><name>Speed</name><direction>in</direction></argument>
  </argumentList></action>
  <action><name>Stop</name><argumentList>
    <argument><name>InstanceID</name><direction>in</direction></argument>
  </argumentList></action>
  <action><name>Seek</name><argumentList>
    <argument><name>InstanceID</name><direction>in</direction></argument>
    <argument><name>Unit</name><direction>in</direction></argument>
    <argument><name>Target</name><direction>in</direction></argument>
  </argumentList></action>
  <action><name>GetPositionInfo</name><argumentList>
    <argument><name>InstanceID</name><direction>in</direction></argument>
    <argument><name>TrackDuration</name><direction>out</direction></argument>
    <argument><name>RelTime</name><direction>out</direction></argument>
  </argumentList></action>
  <action><name>GetTransportInfo</name><argumentList>
    <argument><name>InstanceID</name><direction>in</direction></argument>
    <argument><name>CurrentTransportState</name><direction>out</direction></argument>
  </argumentList></action>
</actionList></scpd>`

const connMgrSCPD = `<?xml version="1.0"?>
<scpd><actionList></actionList></scpd>`

// recordingSender implements upnp.Sender, recording every call in order
// and serving canned responses per action name.
type recordingSender struct {
	mu      sync.Mutex
	calls   []*soap.Message
	replies map[string]*soap.Message
	faults  map[string]*soap.Fault
}

func newRecordingSender() *recordingSender {
	return &recordingSender{replies: make(map[string]*soap.Message), faults: make(map[string]*soap.Fault)}
}

func (s *recordingSender) Send(ctx context.Context, url string, msg *soap.Message) (*soap.Message, *soap.Fault, error) {
	s.mu.Lock()
	s.calls = append(s.calls, msg)
	s.mu.Unlock()

	if f, ok := s.faults[msg.Action]; ok {
		return nil, f, nil
	}
	if r, ok := s.replies[msg.Action]; ok {
		return r, nil, nil
	}
	return soap.NewMessage(msg.ServiceType, msg.Action+"Response"), nil, nil
}

func (s *recordingSender) actionNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, c := range s.calls {
		names = append(names, c.Action)
	}
	return names
}

func newTestControlPoint(t *testing.T) (*AVControlPoint, *recordingSender) {
	t.Helper()
	device, err := upnp.ParseDevice([]byte(controlTestDeviceXML), "http://renderer.local")
	if err != nil {
		t.Fatalf("ParseDevice: %v", err)
	}

	sender := newRecordingSender()

	avt, _ := device.ServiceByID("urn:upnp-org:serviceId:AVTransport")
	if err := avt.Initialize([]byte(avTransportSCPD), sender); err != nil {
		t.Fatalf("Initialize AVTransport: %v", err)
	}
	cm, _ := device.ServiceByID("urn:upnp-org:serviceId:ConnectionManager")
	if err := cm.Initialize([]byte(connMgrSCPD), sender); err != nil {
		t.Fatalf("Initialize ConnectionManager: %v", err)
	}

	cp, err := New(device, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(cp.Close)

	return cp, sender
}

func strPtr(s string) *string { return &s }

func TestGetScrubWithoutURI(t *testing.T) {
	cp, _ := newTestControlPoint(t)
	dur, pos, err := cp.GetScrub(context.Background())
	if err != nil {
		t.Fatalf("GetScrub: %v", err)
	}
	if dur != 0 || pos != 0 {
		t.Errorf("GetScrub() = (%v, %v), want (0, 0)", dur, pos)
	}
}

func TestIsPlayingWithoutURI(t *testing.T) {
	cp, _ := newTestControlPoint(t)
	playing, err := cp.IsPlaying(context.Background())
	if err != nil {
		t.Fatalf("IsPlaying: %v", err)
	}
	if playing {
		t.Error("IsPlaying() = true, want false without a URI")
	}
}

func TestSessionConflict(t *testing.T) {
	cp, _ := newTestControlPoint(t)
	ctx := context.Background()

	if err := cp.SetSessionID(ctx, strPtr("123")); err != nil {
		t.Fatalf("SetSessionID(123): %v", err)
	}

	err := cp.SetSessionID(ctx, strPtr("456"))
	if _, ok := err.(*ErrSessionRejected); !ok {
		t.Fatalf("SetSessionID(456) while 123 active: got %v, want *ErrSessionRejected", err)
	}

	if err := cp.SetSessionID(ctx, nil); err != nil {
		t.Fatalf("SetSessionID(nil): %v", err)
	}

	if err := cp.SetSessionID(ctx, strPtr("789")); err != nil {
		t.Fatalf("SetSessionID(789) after release: %v", err)
	}
}

func TestPrePlayScrub(t *testing.T) {
	cp, sender := newTestControlPoint(t)
	ctx := context.Background()

	if err := cp.SetSessionID(ctx, strPtr("s")); err != nil {
		t.Fatalf("SetSessionID: %v", err)
	}
	if err := cp.SetScrub(ctx, 5.0); err != nil {
		t.Fatalf("SetScrub: %v", err)
	}
	if len(sender.actionNames()) != 0 {
		t.Fatalf("SetScrub before play issued SOAP calls: %v", sender.actionNames())
	}

	if err := cp.Play(ctx, "http://x/v.mp4", 0.1); err != nil {
		t.Fatalf("Play: %v", err)
	}

	got := sender.actionNames()
	want := []string{"SetAVTransportURI", "Play", "Seek"}
	if len(got) != len(want) {
		t.Fatalf("action sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("action sequence = %v, want %v", got, want)
		}
	}

	seekMsg := sender.calls[2]
	if v, _ := seekMsg.GetArg("Target"); v != "0:00:05.000" {
		t.Errorf("Seek Target = %q, want 0:00:05.000", v)
	}
	if v, _ := seekMsg.GetArg("Unit"); v != "REL_TIME" {
		t.Errorf("Seek Unit = %q, want REL_TIME", v)
	}

	setURIMsg := sender.calls[0]
	if v, _ := setURIMsg.GetArg("CurrentURI"); v != "http://x/v.mp4" {
		t.Errorf("SetAVTransportURI CurrentURI = %q", v)
	}
	if v, _ := setURIMsg.GetArg("CurrentURIMetaData"); v != "" {
		t.Errorf("SetAVTransportURI CurrentURIMetaData = %q, want empty", v)
	}
}
