// Package audiobridge adapts the Janus AudioBridge plugin: typed request
// bodies for handle.Message and a decoder for the plugin's event shapes.
package audiobridge

import (
	"github.com/meetecho/janode-go"
)

const PluginID = "janus.plugin.audiobridge"

// Event names produced by the adapter.
const (
	EventJoined      = "audiobridge_joined"
	EventLeft        = "audiobridge_left"
	EventRoomChanged = "audiobridge_roomchanged"
	EventDestroyed   = "audiobridge_destroyed"
	EventPeerJoined  = "audiobridge_peer_joined"
	EventPeerLeaving = "audiobridge_peer_leaving"
	EventTalking     = "audiobridge_talking"
	EventEvent       = "audiobridge_event"
)

// Descriptor returns the attach descriptor for the AudioBridge plugin.
func Descriptor() *janode.PluginDescriptor {
	return &janode.PluginDescriptor{
		ID:  PluginID,
		New: func() janode.PluginAdapter { return adapter{} },
	}
}

// Request bodies.

type JoinRequest struct {
	Request string `json:"request"`
	Room    int64  `json:"room"`
	Display string `json:"display,omitempty"`
	Muted   bool   `json:"muted"`
	Pin     string `json:"pin,omitempty"`
}

func Join(room int64, display, pin string) JoinRequest {
	return JoinRequest{Request: "join", Room: room, Display: display, Pin: pin}
}

type ConfigureRequest struct {
	Request string `json:"request"`
	Muted   *bool  `json:"muted,omitempty"`
	Display string `json:"display,omitempty"`
	Volume  *int   `json:"volume,omitempty"`
}

func Configure() ConfigureRequest {
	return ConfigureRequest{Request: "configure"}
}

type LeaveRequest struct {
	Request string `json:"request"`
}

func Leave() LeaveRequest {
	return LeaveRequest{Request: "leave"}
}

type ExistsRequest struct {
	Request  string `json:"request"`
	Room     int64  `json:"room"`
	AdminKey string `json:"admin_key,omitempty"`
}

type CreateRoomRequest struct {
	Request      string `json:"request"`
	Room         int64  `json:"room"`
	Description  string `json:"description,omitempty"`
	SamplingRate int    `json:"sampling_rate,omitempty"`
	SpatialAudio bool   `json:"spatial_audio,omitempty"`
	Record       bool   `json:"record,omitempty"`
	Pin          string `json:"pin,omitempty"`
	AdminKey     string `json:"admin_key,omitempty"`
}

type DestroyRoomRequest struct {
	Request  string `json:"request"`
	Room     int64  `json:"room"`
	AdminKey string `json:"admin_key,omitempty"`
}

type ListRoomsRequest struct {
	Request string `json:"request"`
}

type RTPForwardRequest struct {
	Request  string `json:"request"`
	Room     int64  `json:"room"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Codec    string `json:"codec,omitempty"`
	AdminKey string `json:"admin_key,omitempty"`
}

type StopRTPForwardRequest struct {
	Request  string `json:"request"`
	Room     int64  `json:"room"`
	StreamID int64  `json:"stream_id"`
	AdminKey string `json:"admin_key,omitempty"`
}

type ListForwardersRequest struct {
	Request  string `json:"request"`
	Room     int64  `json:"room"`
	AdminKey string `json:"admin_key,omitempty"`
}

// Response / event payloads.

type Participant struct {
	ID      int64  `json:"id"`
	Display string `json:"display,omitempty"`
	Muted   bool   `json:"muted,omitempty"`
	Setup   bool   `json:"setup,omitempty"`
	Talking bool   `json:"talking,omitempty"`
}

type RoomInfo struct {
	Room         int64  `json:"room"`
	Description  string `json:"description"`
	PinRequired  bool   `json:"pin_required,omitempty"`
	SamplingRate int    `json:"sampling_rate,omitempty"`
	SpatialAudio bool   `json:"spatial_audio,omitempty"`
	Record       bool   `json:"record,omitempty"`
	NumParts     int    `json:"num_participants,omitempty"`
}

type RTPForwarderInfo struct {
	StreamID int64  `json:"stream_id"`
	Host     string `json:"ip,omitempty"`
	Port     int    `json:"port,omitempty"`
	Codec    string `json:"codec,omitempty"`
}

// EventData is the decoded payload for every audiobridge event.
type EventData struct {
	Room         int64              `json:"room,omitempty"`
	ID           int64              `json:"id,omitempty"`
	Display      string             `json:"display,omitempty"`
	Participants []Participant      `json:"participants,omitempty"`
	Rooms        []RoomInfo         `json:"list,omitempty"`
	Forwarders   []RTPForwarderInfo `json:"rtp_forwarders,omitempty"`
	Exists       *bool              `json:"exists,omitempty"`
	StreamID     int64              `json:"stream_id,omitempty"`
}

type adapter struct{}

type payload struct {
	AudioBridge string `json:"audiobridge"`
	ErrorCode   int64  `json:"error_code,omitempty"`
	Error       string `json:"error,omitempty"`
	Leaving     int64  `json:"leaving,omitempty"`
	EventData
}

func (adapter) Decode(msg *janode.Message) (*janode.PluginEvent, bool) {
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

	name := ""
	switch p.AudioBridge {
	case "joined":
		name = EventJoined
	case "left":
		name = EventLeft
	case "roomchanged":
		name = EventRoomChanged
	case "destroyed":
		name = EventDestroyed
	case "talking", "stopped-talking":
		name = EventTalking
	case "event":
		name = eventName(&p)
	case "success", "created":
		name = EventEvent
	default:
		return nil, false
	}

	return &janode.PluginEvent{
		Name: name,
		Data: p.EventData,
		JSEP: msg.JSEP,
	}, true
}

// eventName refines the generic "event" verb by inspecting the payload.
func eventName(p *payload) string {
	switch {
	case p.Leaving != 0:
		p.ID = p.Leaving
		return EventPeerLeaving
	case len(p.Participants) > 0:
		return EventPeerJoined
	default:
		return EventEvent
	}
}
