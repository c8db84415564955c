package upnp

import (
	"strconv"
	"strings"
)

// AreServiceTypesCompatible implements the §4.5 compatibility check: a
// versioned urn:<vendor>:service|device:<name>:<version> is compatible with
// a required urn of the same vendor/name when its version is at least the
// required version; bare tokens (e.g. "upnp:rootdevice") are compatible only
// when equal; any malformed side is incompatible.
func AreServiceTypesCompatible(required, actual string) bool {
	reqVendor, reqName, reqVersion, reqOK := splitURN(required)
	actVendor, actName, actVersion, actOK := splitURN(actual)

	if reqOK && actOK {
		return reqVendor == actVendor && reqName == actName && actVersion >= reqVersion
	}
	if !reqOK && !actOK {
		return required == actual
	}
	return false
}

// splitURN parses "urn:<vendor>:service|device:<name>:<version>" into its
// parts. ok is false if the string does not have exactly that shape or the
// version is not numeric.
func splitURN(s string) (vendor, name string, version int, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 5 || parts[0] != "urn" {
		return "", "", 0, false
	}
	if parts[2] != "service" && parts[2] != "device" {
		return "", "", 0, false
	}
	v, err := strconv.Atoi(parts[4])
	if err != nil {
		return "", "", 0, false
	}
	return parts[1], parts[3], v, true
}
