// Package upnp implements the UPnP device/service description model:
// parsing device description XML into a Device with Service children,
// parsing SCPD documents (fetched by the caller) to discover callable
// actions, and checking service-type compatibility.
package upnp

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnknownAttribute is returned by Device.Attr for a child element name
// that was not present on the parsed <device> element.
type ErrUnknownAttribute struct {
	Name string
}

func (e *ErrUnknownAttribute) Error() string {
	return fmt.Sprintf("upnp: device has no attribute %q", e.Name)
}

// Device is the parsed, immutable form of a UPnP device description. It
// exposes the well-known attributes directly and falls back to a generic
// attribute bag for anything else the description carries.
type Device struct {
	UDN          string
	FriendlyName string
	DeviceType   string
	Manufacturer string
	ModelName    string

	baseURL  *url.URL
	attrs    map[string]string
	services []*Service
	byID     map[string]*Service
}

func (d *Device) String() string {
	return fmt.Sprintf("%s [UDN=%s]", d.FriendlyName, d.UDN)
}

// Attr returns the text content of an arbitrary direct child of <device>,
// or ErrUnknownAttribute if no such child was present.
func (d *Device) Attr(name string) (string, error) {
	if v, ok := d.attrs[name]; ok {
		return v, nil
	}
	return "", &ErrUnknownAttribute{Name: name}
}

// BaseURL returns the base URL device/service URLs were resolved against.
func (d *Device) BaseURL() string {
	return d.baseURL.String()
}

// Services returns the device's services in description order.
func (d *Device) Services() []*Service {
	return d.services
}

// ServiceByID returns the service with the given serviceId, or ok=false.
func (d *Device) ServiceByID(serviceID string) (*Service, bool) {
	s, ok := d.byID[serviceID]
	return s, ok
}

type rootXML struct {
	XMLName xml.Name `xml:"root"`
	Device  deviceXML `xml:"device"`
}

type deviceXML struct {
	ServiceList struct {
		Services []serviceXML `xml:"service"`
	} `xml:"serviceList"`
	Other []rawChild `xml:",any"`
}

type rawChild struct {
	XMLName xml.Name
	Content string `xml:",chardata"`
}

type serviceXML struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	SCPDURL     string `xml:"SCPDURL"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
}

// ParseDevice parses a UPnP device description document (the <root> element
// with a nested <device>) and resolves all service URLs against baseURL.
func ParseDevice(data []byte, baseURL string) (*Device, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("upnp: malformed base URL %q: %w", baseURL, err)
	}

	var root rootXML
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("upnp: parse device description: %w", err)
	}

	d := &Device{
		baseURL: base,
		attrs:   make(map[string]string),
		byID:    make(map[string]*Service),
	}

	for _, child := range root.Device.Other {
		d.attrs[child.XMLName.Local] = strings.TrimSpace(child.Content)
	}
	d.UDN = d.attrs["UDN"]
	d.FriendlyName = d.attrs["friendlyName"]
	d.DeviceType = d.attrs["deviceType"]
	d.Manufacturer = d.attrs["manufacturer"]
	d.ModelName = d.attrs["modelName"]

	for _, sx := range root.Device.ServiceList.Services {
		svc := &Service{
			ServiceType: sx.ServiceType,
			ServiceID:   sx.ServiceID,
			SCPDURL:     resolve(base, sx.SCPDURL),
			ControlURL:  resolve(base, sx.ControlURL),
			EventSubURL: resolve(base, sx.EventSubURL),
		}
		d.services = append(d.services, svc)
		d.byID[svc.ServiceID] = svc
	}

	return d, nil
}

func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
