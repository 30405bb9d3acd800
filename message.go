package janode

import (
	"encoding/json"

	"github.com/meetecho/janode-go/internal/errors"
)

// Janus request verbs (client to server).
const (
	janusInfo      = "info"
	janusCreate    = "create"
	janusKeepalive = "keepalive"
	janusDestroy   = "destroy"
	janusAttach    = "attach"
	janusMessage   = "message"
	janusTrickle   = "trickle"
	janusHangup    = "hangup"
	janusDetach    = "detach"
)

// Janus reply / notification verbs (server to client).
const (
	janusAck        = "ack"
	janusSuccess    = "success"
	janusError      = "error"
	janusServerInfo = "server_info"
	janusEvent      = "event"
	janusDetached   = "detached"
	janusMedia      = "media"
	janusWebrtcUp   = "webrtcup"
	janusSlowlink   = "slowlink"
	janusTimeout    = "timeout"
)

// Message is the Janus wire envelope. Inbound frames decode into it; the
// fields populated depend on the verb.
type Message struct {
	Janus       string      `json:"janus"`
	Transaction string      `json:"transaction,omitempty"`
	SessionID   int64       `json:"session_id,omitempty"`
	HandleID    int64       `json:"handle_id,omitempty"`
	Sender      int64       `json:"sender,omitempty"`
	Data        *MessageData `json:"data,omitempty"`
	Plugindata  *PluginData  `json:"plugindata,omitempty"`
	JSEP        *JSEP        `json:"jsep,omitempty"`
	Error       *APIError    `json:"error,omitempty"`

	Reason    string           `json:"reason,omitempty"`    // hangup
	Type      string           `json:"type,omitempty"`      // media
	Receiving *bool            `json:"receiving,omitempty"` // media
	Uplink    *bool            `json:"uplink,omitempty"`    // slowlink
	Nacks     int64            `json:"nacks,omitempty"`     // slowlink
	Candidate *json.RawMessage `json:"candidate,omitempty"` // trickle
}

// MessageData carries the identifier Janus returns on create/attach.
type MessageData struct {
	ID int64 `json:"id"`
}

// PluginData wraps a plugin-specific payload.
type PluginData struct {
	Plugin string          `json:"plugin"`
	Data   json.RawMessage `json:"data"`
}

// DecodePluginData unmarshals the plugin payload into v.
func (m *Message) DecodePluginData(v any) error {
	if m == nil || m.Plugindata == nil {
		return errors.New(ErrInvalidArgument, "plugin data unavailable")
	}
	if len(m.Plugindata.Data) == 0 {
		return errors.New(ErrInvalidArgument, "plugin data empty")
	}
	return json.Unmarshal(m.Plugindata.Data, v)
}

// JSEP is a standard WebRTC SDP payload, opaque to the core.
type JSEP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is the Janus trickle candidate payload; Completed marks the
// end of candidates.
type Candidate struct {
	Candidate     string `json:"candidate,omitempty"`
	SdpMid        string `json:"sdpMid,omitempty"`
	SdpMLineIndex *int   `json:"sdpMLineIndex,omitempty"`
	Completed     bool   `json:"completed,omitempty"`
}

func newRequest(verb string) map[string]any {
	return map[string]any{"janus": verb}
}
