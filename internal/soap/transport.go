package soap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const userAgent = "OS/1.0 UPnP/1.0 airpnp/1.0"

// Transport sends SOAP action requests to a UPnP control URL, implementing
// the 405→M-POST fallback and fault decoding described in the SOAP
// transport design.
type Transport struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewTransport builds a Transport with the given per-call timeout. The
// caller owns the http.Client (sized, per-origin pooled) and injects it here
// rather than the transport constructing one itself.
func NewTransport(client *http.Client, timeout time.Duration) *Transport {
	return &Transport{Client: client, Timeout: timeout}
}

// Send posts the message to the control URL and returns the decoded
// response, or a *Fault if the renderer reported a SOAP fault (not an
// error return — faults are values). A non-nil error indicates a genuine
// transport failure (network, unexpected status, malformed body).
func (t *Transport) Send(ctx context.Context, url string, msg *Message) (*Message, *Fault, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()

	body, err := msg.Encode()
	if err != nil {
		return nil, nil, err
	}

	resp, err := t.post(ctx, url, body, msg.Header(), false)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed {
		resp.Body.Close()
		resp, err = t.post(ctx, url, body, msg.Header(), true)
		if err != nil {
			return nil, nil, err
		}
		defer resp.Body.Close()
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("soap: read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusInternalServerError:
		_, fault, derr := Decode(data, msg.ServiceType, msg.Action+"Response")
		if derr != nil {
			return nil, nil, fmt.Errorf("soap: decode fault body: %w", derr)
		}
		if fault == nil {
			return nil, nil, fmt.Errorf("soap: HTTP 500 without a parsable fault body")
		}
		return nil, fault, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		reply, fault, derr := Decode(data, msg.ServiceType, msg.Action+"Response")
		if derr != nil {
			return nil, nil, fmt.Errorf("soap: decode response body: %w", derr)
		}
		return reply, fault, nil
	default:
		return nil, nil, fmt.Errorf("soap: unexpected HTTP status %d", resp.StatusCode)
	}
}

func (t *Transport) post(ctx context.Context, url string, body []byte, soapHeader string, mpost bool) (*http.Response, error) {
	method := http.MethodPost
	if mpost {
		method = "M-POST"
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("soap: build request: %w", err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("User-Agent", userAgent)

	if mpost {
		req.Header.Set("Man", `"http://schemas.xmlsoap.org/soap/envelope/"; ns=01`)
		req.Header.Set("01-Soapaction", soapHeader)
	} else {
		req.Header.Set("SOAPAction", soapHeader)
	}

	resp, err := t.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("soap: %w", err)
	}
	return resp, nil
}

func (t *Transport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

func (t *Transport) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return 30 * time.Second
}
