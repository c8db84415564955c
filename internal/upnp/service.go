package upnp

import (
	"context"
	"encoding/xml"
	"fmt"

	"airpnp-bridge/internal/soap"
)

// CommandError is the error a SOAP fault is converted to at the
// device-action layer, for both the synchronous and asynchronous call
// paths.
type CommandError struct {
	Code        int
	Description string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("upnp: command failed (%d): %s", e.Code, e.Description)
}

// ActionDescriptor describes one SCPD-declared action: its name and the
// names of its input/output arguments. A systems-language implementation
// exposes actions as a map plus a Call method rather than named-method
// sugar.
type ActionDescriptor struct {
	Name    string
	InArgs  []string
	OutArgs []string
}

// Sender abstracts the SOAP transport so Service can be tested without a
// live HTTP server and so the transport can be swapped independently of the
// device model.
type Sender interface {
	Send(ctx context.Context, url string, msg *soap.Message) (*soap.Message, *soap.Fault, error)
}

// Service is a UPnP service as exposed by a Device: its identity, its
// resolved control URLs, and — once Initialize has been called with its
// SCPD — the set of callable actions it declares.
type Service struct {
	ServiceType string
	ServiceID   string
	SCPDURL     string
	ControlURL  string
	EventSubURL string

	sender  Sender
	actions map[string]*ActionDescriptor
}

type scpdXML struct {
	ActionList struct {
		Actions []struct {
			Name        string `xml:"name"`
			ArgumentList struct {
				Arguments []struct {
					Name      string `xml:"name"`
					Direction string `xml:"direction"`
				} `xml:"argument"`
			} `xml:"argumentList"`
		} `xml:"action"`
	} `xml:"actionList"`
}

// Initialize parses the service's SCPD document and installs the actions it
// declares. sender is used by Call/CallAsync to actually invoke actions.
func (s *Service) Initialize(scpd []byte, sender Sender) error {
	var doc scpdXML
	if err := xml.Unmarshal(scpd, &doc); err != nil {
		return fmt.Errorf("upnp: parse SCPD for %s: %w", s.ServiceID, err)
	}

	s.sender = sender
	s.actions = make(map[string]*ActionDescriptor)
	for _, a := range doc.ActionList.Actions {
		desc := &ActionDescriptor{Name: a.Name}
		for _, arg := range a.ArgumentList.Arguments {
			switch arg.Direction {
			case "in":
				desc.InArgs = append(desc.InArgs, arg.Name)
			case "out":
				desc.OutArgs = append(desc.OutArgs, arg.Name)
			}
		}
		s.actions[a.Name] = desc
	}
	return nil
}

// HasAction reports whether the service declares the named action (used to
// probe renderer capability, e.g. whether Pause exists before relying on
// it).
func (s *Service) HasAction(name string) bool {
	_, ok := s.actions[name]
	return ok
}

// Actions returns the action descriptors installed by Initialize.
func (s *Service) Actions() map[string]*ActionDescriptor {
	return s.actions
}

// Call invokes the named action synchronously, validating that every
// required in-arg is supplied, and returns the out-args as a map, or a
// *CommandError if the renderer reported a SOAP fault.
func (s *Service) Call(ctx context.Context, name string, args map[string]string) (map[string]string, error) {
	desc, ok := s.actions[name]
	if !ok {
		return nil, fmt.Errorf("upnp: service %s has no action %q", s.ServiceID, name)
	}
	for _, required := range desc.InArgs {
		if _, ok := args[required]; !ok {
			return nil, fmt.Errorf("upnp: action %q missing required argument %q", name, required)
		}
	}
	allowed := make(map[string]bool, len(desc.InArgs))
	for _, in := range desc.InArgs {
		allowed[in] = true
	}
	for k := range args {
		if !allowed[k] {
			return nil, fmt.Errorf("upnp: action %q does not accept argument %q", name, k)
		}
	}

	msg := soap.NewMessage(s.ServiceType, name)
	for _, in := range desc.InArgs {
		msg.SetArg(in, args[in])
	}

	reply, fault, err := s.sender.Send(ctx, s.ControlURL, msg)
	if err != nil {
		return nil, fmt.Errorf("upnp: invoke %q: %w", name, err)
	}
	if fault != nil {
		return nil, &CommandError{Code: fault.Code, Description: fault.Description}
	}
	return reply.Args(), nil
}

// CallResult is the outcome of CallAsync: exactly one of Args, Err is set.
type CallResult struct {
	Args map[string]string
	Err  error
}

// CallAsync invokes the named action without blocking the caller, reporting
// its outcome on the returned channel. This is the async counterpart to
// Call, kept as a distinct method per the duality between synchronous
// mapping-returns and asynchronous future-returns.
func (s *Service) CallAsync(ctx context.Context, name string, args map[string]string) <-chan CallResult {
	ch := make(chan CallResult, 1)
	go func() {
		out, err := s.Call(ctx, name, args)
		ch <- CallResult{Args: out, Err: err}
	}()
	return ch
}
