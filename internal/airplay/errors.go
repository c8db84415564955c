package airplay

import (
	"errors"

	"airpnp-bridge/internal/control"
	"airpnp-bridge/internal/upnp"
)

// notFoundCodes are the UPnP AVTransport error codes answered with HTTP 404:
// 716 and 718 name a resource or instance the renderer does not know, and
// 701 and 714 are mapped the same way.
var notFoundCodes = map[int]bool{
	701: true, // transition not available
	714: true, // illegal MIME-type
	716: true, // resource not found
	718: true, // invalid InstanceID
}

func isSessionRejected(err error) bool {
	var rejected *control.ErrSessionRejected
	return errors.As(err, &rejected)
}

func isNotFound(err error) bool {
	var cmdErr *upnp.CommandError
	if errors.As(err, &cmdErr) {
		return notFoundCodes[cmdErr.Code]
	}
	return false
}

func isProtocolError(err error) bool {
	var cmdErr *upnp.CommandError
	return errors.As(err, &cmdErr) && !notFoundCodes[cmdErr.Code]
}
