package upnp

import (
	"context"
	"testing"

	"airpnp-bridge/internal/soap"
)

const scpdXMLFixture = `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList>
    <action>
      <name>GetCurrentTransportActions</name>
      <argumentList>
        <argument>
          <name>InstanceID</name>
          <direction>in</direction>
        </argument>
        <argument>
          <name>Actions</name>
          <direction>out</direction>
        </argument>
      </argumentList>
    </action>
  </actionList>
</scpd>`

type fakeSender struct {
	lastURL string
	lastMsg *soap.Message
	reply   *soap.Message
	fault   *soap.Fault
	err     error
}

func (f *fakeSender) Send(ctx context.Context, url string, msg *soap.Message) (*soap.Message, *soap.Fault, error) {
	f.lastURL = url
	f.lastMsg = msg
	return f.reply, f.fault, f.err
}

func newTestService(t *testing.T) (*Service, *fakeSender) {
	t.Helper()
	d, err := ParseDevice([]byte(deviceRootXML), "http://www.base.com")
	if err != nil {
		t.Fatalf("ParseDevice: %v", err)
	}
	svc, _ := d.ServiceByID("urn:upnp-org:serviceId:AVTransport")

	sender := &fakeSender{}
	if err := svc.Initialize([]byte(scpdXMLFixture), sender); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return svc, sender
}

func TestServiceActionExistence(t *testing.T) {
	svc, _ := newTestService(t)
	if !svc.HasAction("GetCurrentTransportActions") {
		t.Error("expected GetCurrentTransportActions to be installed")
	}
}

func TestServiceActionMissingRequiredArgument(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Call(context.Background(), "GetCurrentTransportActions", map[string]string{}); err == nil {
		t.Error("expected error for missing required argument")
	}
}

func TestServiceActionCallsSender(t *testing.T) {
	svc, sender := newTestService(t)
	sender.reply = soap.NewMessage(svc.ServiceType, "GetCurrentTransportActionsResponse")
	sender.reply.SetArg("Actions", "Play,Stop")

	out, err := svc.Call(context.Background(), "GetCurrentTransportActions", map[string]string{"InstanceID": "0"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if sender.lastURL != svc.ControlURL {
		t.Errorf("sender called with URL %q, want %q", sender.lastURL, svc.ControlURL)
	}
	if v, _ := sender.lastMsg.GetArg("InstanceID"); v != "0" {
		t.Errorf("InstanceID arg = %q, want 0", v)
	}
	if out["Actions"] != "Play,Stop" {
		t.Errorf("Actions out-arg = %q", out["Actions"])
	}
}

func TestServiceActionFaultBecomesCommandError(t *testing.T) {
	svc, sender := newTestService(t)
	sender.fault = &soap.Fault{Code: 402, Description: "Invalid Args"}

	_, err := svc.Call(context.Background(), "GetCurrentTransportActions", map[string]string{"InstanceID": "0"})
	if err == nil {
		t.Fatal("expected CommandError")
	}
	cmdErr, ok := err.(*CommandError)
	if !ok {
		t.Fatalf("error type = %T, want *CommandError", err)
	}
	if cmdErr.Code != 402 {
		t.Errorf("CommandError.Code = %d, want 402", cmdErr.Code)
	}
}

func TestServiceActionAsyncReturnsResult(t *testing.T) {
	svc, sender := newTestService(t)
	sender.reply = soap.NewMessage(svc.ServiceType, "GetCurrentTransportActionsResponse")
	sender.reply.SetArg("Actions", "Play")

	ch := svc.CallAsync(context.Background(), "GetCurrentTransportActions", map[string]string{"InstanceID": "0"})
	result := <-ch
	if result.Err != nil {
		t.Fatalf("CallAsync: %v", result.Err)
	}
	if result.Args["Actions"] != "Play" {
		t.Errorf("Actions = %q", result.Args["Actions"])
	}
}
