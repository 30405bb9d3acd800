// Package sip adapts the Janus SIP plugin. The register flow is special:
// the server acks the register request and answers later with an
// asynchronous registered/registration_failed event that does not carry
// the transaction. The adapter remembers the pending register transaction
// through the RequestObserver capability and correlates the async event
// back to it, so a Register call behaves like any other request.
package sip

import (
	"sync"

	"github.com/meetecho/janode-go"
)

const PluginID = "janus.plugin.sip"

// Event names produced by the adapter.
const (
	EventRegistered         = "sip_registered"
	EventRegistrationFailed = "sip_registration_failed"
	EventCalling            = "sip_calling"
	EventRinging            = "sip_ringing"
	EventProceeding         = "sip_proceeding"
	EventAccepted           = "sip_accepted"
	EventProgress           = "sip_progress"
	EventIncomingCall       = "sip_incomingcall"
	EventMissedCall         = "sip_missed_call"
	EventHangup             = "sip_hangup"
	EventDeclining          = "sip_declining"
	EventInfo               = "sip_info"
	EventEvent              = "sip_event"
)

// Descriptor returns the attach descriptor for the SIP plugin. Each
// handle gets its own adapter instance, so register state never leaks
// across handles.
func Descriptor() *janode.PluginDescriptor {
	return &janode.PluginDescriptor{
		ID:  PluginID,
		New: func() janode.PluginAdapter { return &adapter{} },
	}
}

// Request bodies.

type RegisterRequest struct {
	Request      string `json:"request"`
	Username     string `json:"username"`
	Secret       string `json:"secret,omitempty"`
	AuthUser     string `json:"authuser,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	Proxy        string `json:"proxy,omitempty"`
	SendRegister *bool  `json:"register,omitempty"`
}

func Register(username, secret, proxy string) RegisterRequest {
	return RegisterRequest{Request: "register", Username: username, Secret: secret, Proxy: proxy}
}

type UnregisterRequest struct {
	Request string `json:"request"`
}

func Unregister() UnregisterRequest {
	return UnregisterRequest{Request: "unregister"}
}

type CallRequest struct {
	Request string            `json:"request"`
	URI     string            `json:"uri"`
	Headers map[string]string `json:"headers,omitempty"`
}

func Call(uri string) CallRequest {
	return CallRequest{Request: "call", URI: uri}
}

type AcceptRequest struct {
	Request string `json:"request"`
}

func Accept() AcceptRequest {
	return AcceptRequest{Request: "accept"}
}

type DeclineRequest struct {
	Request string `json:"request"`
	Code    int    `json:"code,omitempty"`
}

type HangupRequest struct {
	Request string `json:"request"`
}

func Hangup() HangupRequest {
	return HangupRequest{Request: "hangup"}
}

// EventData is the decoded payload for SIP events.
type EventData struct {
	Event       string `json:"event,omitempty"`
	Username    string `json:"username,omitempty"`
	Code        int    `json:"code,omitempty"`
	Reason      string `json:"reason,omitempty"`
	URI         string `json:"uri,omitempty"`
	CallID      string `json:"call_id,omitempty"`
	DisplayName string `json:"displayname,omitempty"`
}

type adapter struct {
	mu              sync.Mutex
	pendingRegister string
}

type payload struct {
	SIP       string     `json:"sip"`
	CallID    string     `json:"call_id,omitempty"`
	ErrorCode int64      `json:"error_code,omitempty"`
	Error     string     `json:"error,omitempty"`
	Result    *EventData `json:"result,omitempty"`
}

// ObserveRequest records the transaction of an outbound register so the
// later async registration event can settle it.
func (a *adapter) ObserveRequest(req map[string]any) {
	if !isRegister(req["body"]) {
		return
	}
	id, _ := req["transaction"].(string)
	if id == "" {
		return
	}
	a.mu.Lock()
	a.pendingRegister = id
	a.mu.Unlock()
}

func isRegister(body any) bool {
	switch b := body.(type) {
	case RegisterRequest:
		return true
	case *RegisterRequest:
		return b != nil
	case map[string]any:
		r, _ := b["request"].(string)
		return r == "register"
	default:
		return false
	}
}

// Correlate maps a registered/registration_failed event back to the
// pending register transaction, consuming it.
func (a *adapter) Correlate(msg *janode.Message) (string, bool) {
	var p payload
	if err := msg.DecodePluginData(&p); err != nil {
		return "", false
	}
	ev := ""
	if p.Result != nil {
		ev = p.Result.Event
	}
	if ev != "registered" && ev != "registration_failed" {
		return "", false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pendingRegister == "" {
		return "", false
	}
	id := a.pendingRegister
	a.pendingRegister = ""
	return id, true
}

func (a *adapter) Decode(msg *janode.Message) (*janode.PluginEvent, bool) {
	var p payload
	if err := msg.DecodePluginData(&p); err != nil {
		return nil, false
	}
	if p.ErrorCode != 0 || p.Error != "" {
		return &janode.PluginEvent{
			Name: EventEvent,
			Err:  &janode.APIError{Code: p.ErrorCode, Reason: p.Error},
		}, true
	}
	if p.SIP != "event" || p.Result == nil {
		return nil, false
	}

	data := *p.Result
	if data.CallID == "" {
		data.CallID = p.CallID
	}

	name := ""
	switch data.Event {
	case "registered":
		name = EventRegistered
	case "registration_failed":
		return &janode.PluginEvent{
			Name: EventRegistrationFailed,
			Err:  &janode.APIError{Code: int64(data.Code), Reason: data.Reason},
		}, true
	case "calling":
		name = EventCalling
	case "ringing":
		name = EventRinging
	case "proceeding":
		name = EventProceeding
	case "accepted":
		name = EventAccepted
	case "progress":
		name = EventProgress
	case "incomingcall":
		name = EventIncomingCall
	case "missed_call":
		name = EventMissedCall
	case "hangup":
		name = EventHangup
	case "declining":
		name = EventDeclining
	case "info":
		name = EventInfo
	default:
		return nil, false
	}

	return &janode.PluginEvent{
		Name: name,
		Data: data,
		JSEP: msg.JSEP,
	}, true
}
