package upnp

import (
	"crypto/sha1"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateDeviceID derives a stable, MAC-address-shaped AirPlay device ID from
// a UDN. If the UDN's uuid: suffix parses as a UUID, the first 12 hex
// characters of the UUID are used; otherwise the UDN is hashed and the
// first 12 hex characters of the hash are used. Either way the result is
// deterministic across calls for the same UDN.
func CreateDeviceID(udn string) string {
	raw := strings.TrimPrefix(udn, "uuid:")

	var hex12 string
	if id, err := uuid.Parse(raw); err == nil {
		hex12 = strings.ReplaceAll(id.String(), "-", "")[:12]
	} else {
		sum := sha1.Sum([]byte(udn))
		hex12 = fmt.Sprintf("%x", sum)[:12]
	}

	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(strings.ToUpper(hex12[i : i+2]))
	}
	return b.String()
}
