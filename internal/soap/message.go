// Package soap implements the SOAP 1.1 envelope codec and UPnP action
// transport used to drive AVTransport/ConnectionManager/RenderingControl
// actions against a renderer.
package soap

import (
	"encoding/xml"
	"fmt"
)

// Message represents a decoded or to-be-encoded SOAP action call/response.
// Arg order is not significant; arguments are string-valued, matching the
// wire representation of UPnP action arguments.
type Message struct {
	ServiceType string
	Action      string
	args        map[string]string
	argOrder    []string
}

// NewMessage creates an empty message for the given service type and action.
func NewMessage(serviceType, action string) *Message {
	return &Message{
		ServiceType: serviceType,
		Action:      action,
		args:        make(map[string]string),
	}
}

// SetArg sets the value of an argument, preserving insertion order for
// deterministic encoding.
func (m *Message) SetArg(name, value string) {
	if _, ok := m.args[name]; !ok {
		m.argOrder = append(m.argOrder, name)
	}
	m.args[name] = value
}

// GetArg returns the named argument and whether it was present.
func (m *Message) GetArg(name string) (string, bool) {
	v, ok := m.args[name]
	return v, ok
}

// Args returns a copy of all arguments as a plain map, the shape returned to
// synchronous/async callers of a device action per the device model's
// contract.
func (m *Message) Args() map[string]string {
	out := make(map[string]string, len(m.args))
	for k, v := range m.args {
		out[k] = v
	}
	return out
}

// Header returns the quoted "serviceType#Action" SOAPAction header value.
func (m *Message) Header() string {
	return fmt.Sprintf("%q", m.ServiceType+"#"+m.Action)
}

type envelope struct {
	XMLName       xml.Name `xml:"s:Envelope"`
	EncodingStyle string   `xml:"s:encodingStyle,attr"`
	XMLNSs        string   `xml:"xmlns:s,attr"`
	Body          body     `xml:"s:Body"`
}

type body struct {
	Content []byte `xml:",innerxml"`
}

// Encode renders the message as a SOAP 1.1 request envelope.
func (m *Message) Encode() ([]byte, error) {
	var actionXML []byte
	actionXML = append(actionXML, []byte(fmt.Sprintf(`<u:%s xmlns:u=%q>`, m.Action, m.ServiceType))...)
	for _, name := range m.argOrder {
		actionXML = append(actionXML, []byte(fmt.Sprintf("<%s>%s</%s>", name, escapeXML(m.args[name]), name))...)
	}
	actionXML = append(actionXML, []byte(fmt.Sprintf("</u:%s>", m.Action))...)

	env := envelope{
		EncodingStyle: "http://schemas.xmlsoap.org/soap/encoding/",
		XMLNSs:        "http://schemas.xmlsoap.org/soap/envelope/",
		Body:          body{Content: actionXML},
	}

	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("soap: encode envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// decodeEnvelope is used to look at the raw body content to decide whether
// a response is an action response or a s:Fault, then to extract named
// children generically (UPnP responses have no fixed schema we control).
type decodeEnvelope struct {
	Body struct {
		Fault   *fault `xml:"Fault"`
		Content []byte `xml:",innerxml"`
	} `xml:"Body"`
}

type fault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
	Detail      struct {
		UPnPError struct {
			ErrorCode        int    `xml:"errorCode"`
			ErrorDescription string `xml:"errorDescription"`
		} `xml:"UPnPError"`
	} `xml:"detail"`
}

// Fault is the decoded form of a SOAP 1.1 s:Fault body carrying a UPnP
// error code/description. It is returned as a value, never raised, by the
// transport layer — only the device-action layer converts it into an error.
type Fault struct {
	Code        int
	Description string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("soap fault %d: %s", f.Code, f.Description)
}

// Decode parses a SOAP response body, returning either a *Message (success)
// or a *Fault (renderer-reported error), never both. serviceType/action are
// supplied by the caller since a SOAP response body does not repeat the
// request's service type.
func Decode(data []byte, serviceType, responseAction string) (*Message, *Fault, error) {
	var env decodeEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("soap: decode envelope: %w", err)
	}

	if env.Body.Fault != nil {
		return nil, &Fault{
			Code:        env.Body.Fault.Detail.UPnPError.ErrorCode,
			Description: env.Body.Fault.Detail.UPnPError.ErrorDescription,
		}, nil
	}

	msg := NewMessage(serviceType, responseAction)
	var root struct {
		XMLName xml.Name
		Args    []argField `xml:",any"`
	}
	if err := xml.Unmarshal(env.Body.Content, &root); err != nil {
		return nil, nil, fmt.Errorf("soap: decode action response: %w", err)
	}
	for _, a := range root.Args {
		msg.SetArg(a.XMLName.Local, a.Value)
	}
	return msg, nil, nil
}

type argField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

func escapeXML(s string) string {
	var buf []byte
	for _, r := range s {
		switch r {
		case '&':
			buf = append(buf, []byte("&amp;")...)
		case '<':
			buf = append(buf, []byte("&lt;")...)
		case '>':
			buf = append(buf, []byte("&gt;")...)
		case '"':
			buf = append(buf, []byte("&quot;")...)
		case '\'':
			buf = append(buf, []byte("&apos;")...)
		default:
			buf = append(buf, string(r)...)
		}
	}
	return string(buf)
}
