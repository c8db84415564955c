package upnp

import "testing"

func TestAreServiceTypesCompatible(t *testing.T) {
	tests := []struct {
		required, actual string
		want             bool
	}{
		{"urn:upnp-org:service:ConnectionManager:1", "urn:upnp-org:service:ConnectionManager:2", true},
		{"urn:upnp-org:service:ConnectionManager:2", "urn:upnp-org:service:ConnectionManager:1", false},
		{"upnp:rootdevice", "upnp:smthelse", false},
		{"upnp:rootdevice", "upnp:rootdevice", true},
		{"urn:upnp-org:service:AVTransport:1", "upnp:rootdevice", false},
		{"urn:upnp-org:service:AVTransport:1", "urn:upnp-org:service:AVTransport:1", true},
		{"urn:upnp-org:service:AVTransport:1", "urn:schemas-upnp-org:service:AVTransport:1", false},
		{"not a urn at all", "urn:upnp-org:service:AVTransport:1", false},
	}

	for _, tt := range tests {
		got := AreServiceTypesCompatible(tt.required, tt.actual)
		if got != tt.want {
			t.Errorf("AreServiceTypesCompatible(%q, %q) = %v, want %v", tt.required, tt.actual, got, tt.want)
		}
	}
}

func TestCreateDeviceIDIsDeterministic(t *testing.T) {
	udn := "uuid:f8ecf350-8691-4639-a735-c10ee6ad15c1"
	id1 := CreateDeviceID(udn)
	id2 := CreateDeviceID(udn)

	if id1 != id2 {
		t.Fatalf("CreateDeviceID not deterministic: %q != %q", id1, id2)
	}
	if len(id1) != 17 {
		t.Fatalf("CreateDeviceID(%q) = %q, want length 17", udn, id1)
	}
}

func TestCreateDeviceIDNonUUIDUDN(t *testing.T) {
	id := CreateDeviceID("uuid:not-a-real-uuid")
	if len(id) != 17 {
		t.Fatalf("CreateDeviceID for non-UUID UDN = %q, want length 17", id)
	}
}
