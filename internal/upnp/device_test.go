package upnp

import "testing"

const deviceRootXML = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
    <friendlyName>WDTVLIVE</friendlyName>
    <manufacturer>Western Digital Corporation</manufacturer>
    <modelName>WD TV HD Live</modelName>
    <UDN>uuid:67ff722f-0090-a976-17db-e9396986c234</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:AVTransport</serviceId>
        <SCPDURL>/MediaRenderer_AVTransport/scpd.xml</SCPDURL>
        <controlURL>/MediaRenderer_AVTransport/control</controlURL>
        <eventSubURL>/MediaRenderer_AVTransport/event</eventSubURL>
      </service>
      <service>
        <serviceType>urn:schemas-upnp-org:service:ConnectionManager:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:ConnectionManager</serviceId>
        <SCPDURL>/MediaRenderer_ConnectionManager/scpd.xml</SCPDURL>
        <controlURL>/MediaRenderer_ConnectionManager/control</controlURL>
        <eventSubURL>/MediaRenderer_ConnectionManager/event</eventSubURL>
      </service>
      <service>
        <serviceType>urn:schemas-upnp-org:service:RenderingControl:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:RenderingControl</serviceId>
        <SCPDURL>/MediaRenderer_RenderingControl/scpd.xml</SCPDURL>
        <controlURL>/MediaRenderer_RenderingControl/control</controlURL>
        <eventSubURL>/MediaRenderer_RenderingControl/event</eventSubURL>
      </service>
    </serviceList>
  </device>
</root>`

func mustParseDevice(t *testing.T) *Device {
	t.Helper()
	d, err := ParseDevice([]byte(deviceRootXML), "http://www.base.com")
	if err != nil {
		t.Fatalf("ParseDevice: %v", err)
	}
	return d
}

func TestDeviceBaseURL(t *testing.T) {
	d := mustParseDevice(t)
	if d.BaseURL() != "http://www.base.com" {
		t.Errorf("BaseURL() = %q, want %q", d.BaseURL(), "http://www.base.com")
	}
}

func TestDeviceAttributes(t *testing.T) {
	d := mustParseDevice(t)

	if d.FriendlyName != "WDTVLIVE" {
		t.Errorf("FriendlyName = %q, want WDTVLIVE", d.FriendlyName)
	}
	if d.DeviceType != "urn:schemas-upnp-org:device:MediaRenderer:1" {
		t.Errorf("DeviceType = %q", d.DeviceType)
	}
	if d.Manufacturer != "Western Digital Corporation" {
		t.Errorf("Manufacturer = %q", d.Manufacturer)
	}
	if d.ModelName != "WD TV HD Live" {
		t.Errorf("ModelName = %q", d.ModelName)
	}
}

func TestDeviceToString(t *testing.T) {
	d := mustParseDevice(t)
	want := "WDTVLIVE [UDN=uuid:67ff722f-0090-a976-17db-e9396986c234]"
	if d.String() != want {
		t.Errorf("String() = %q, want %q", d.String(), want)
	}
}

func TestDeviceErrorOnUnknownAttribute(t *testing.T) {
	d := mustParseDevice(t)
	if _, err := d.Attr("modelBlob"); err == nil {
		t.Error("expected error for unknown attribute, got nil")
	}
}

func TestDeviceServiceCount(t *testing.T) {
	d := mustParseDevice(t)
	if len(d.Services()) != 3 {
		t.Errorf("len(Services()) = %d, want 3", len(d.Services()))
	}
}

func TestDeviceGetServiceByID(t *testing.T) {
	d := mustParseDevice(t)
	svc, ok := d.ServiceByID("urn:upnp-org:serviceId:AVTransport")
	if !ok {
		t.Fatal("expected to find AVTransport service")
	}
	if svc.ServiceType != "urn:schemas-upnp-org:service:AVTransport:1" {
		t.Errorf("ServiceType = %q", svc.ServiceType)
	}
}

func TestServiceURLResolution(t *testing.T) {
	d := mustParseDevice(t)
	svc, _ := d.ServiceByID("urn:upnp-org:serviceId:AVTransport")

	if svc.SCPDURL != "http://www.base.com/MediaRenderer_AVTransport/scpd.xml" {
		t.Errorf("SCPDURL = %q", svc.SCPDURL)
	}
	if svc.ControlURL != "http://www.base.com/MediaRenderer_AVTransport/control" {
		t.Errorf("ControlURL = %q", svc.ControlURL)
	}
	if svc.EventSubURL != "http://www.base.com/MediaRenderer_AVTransport/event" {
		t.Errorf("EventSubURL = %q", svc.EventSubURL)
	}
}
