package bridge

import (
	"context"
	"net/http"
	"time"

	"airpnp-bridge/internal/soap"
)

const defaultSoapTimeout = 30 * time.Second

// httpSender adapts soap.Transport to upnp.Sender so every Service on a
// BridgeServer-managed device shares one underlying HTTP client.
type httpSender struct {
	client *http.Client
}

func (s *httpSender) Send(ctx context.Context, url string, msg *soap.Message) (*soap.Message, *soap.Fault, error) {
	transport := soap.NewTransport(s.client, defaultSoapTimeout)
	return transport.Send(ctx, url, msg)
}
