package zeroconf

import "testing"

func TestNewUsesDefaultLoggerWhenNil(t *testing.T) {
	a := New(nil)
	if a.logger == nil {
		t.Fatal("New(nil) left logger nil")
	}
	if len(a.servers) != 0 {
		t.Fatalf("New() servers = %v, want empty", a.servers)
	}
}

func TestUnpublishUnknownDeviceIsNoop(t *testing.T) {
	a := New(nil)
	a.Unpublish("not-registered")
}

func TestCloseOnEmptyAdvertiserIsNoop(t *testing.T) {
	a := New(nil)
	a.Close()
}
