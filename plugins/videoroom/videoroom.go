// Package videoroom adapts the Janus VideoRoom plugin.
package videoroom

import (
	"encoding/json"
	"strconv"

	"github.com/meetecho/janode-go"
)

const PluginID = "janus.plugin.videoroom"

// Event names produced by the adapter.
const (
	EventJoined      = "videoroom_joined"
	EventAttached    = "videoroom_attached"
	EventConfigured  = "videoroom_configured"
	EventPublishers  = "videoroom_publishers"
	EventLeaving     = "videoroom_leaving"
	EventUnpublished = "videoroom_unpublished"
	EventTalking     = "videoroom_talking"
	EventDestroyed   = "videoroom_destroyed"
	EventEvent       = "videoroom_event"
)

// Descriptor returns the attach descriptor for the VideoRoom plugin.
func Descriptor() *janode.PluginDescriptor {
	return &janode.PluginDescriptor{
		ID:  PluginID,
		New: func() janode.PluginAdapter { return adapter{} },
	}
}

// Request bodies.

type JoinPublisherRequest struct {
	Request string `json:"request"`
	PType   string `json:"ptype"`
	Room    int64  `json:"room"`
	Display string `json:"display,omitempty"`
	Pin     string `json:"pin,omitempty"`
}

func JoinPublisher(room int64, display, pin string) JoinPublisherRequest {
	return JoinPublisherRequest{Request: "join", PType: "publisher", Room: room, Display: display, Pin: pin}
}

type JoinSubscriberRequest struct {
	Request string `json:"request"`
	PType   string `json:"ptype"`
	Room    int64  `json:"room"`
	Feed    int64  `json:"feed"`
	Pin     string `json:"pin,omitempty"`
}

func JoinSubscriber(room, feed int64, pin string) JoinSubscriberRequest {
	return JoinSubscriberRequest{Request: "join", PType: "subscriber", Room: room, Feed: feed, Pin: pin}
}

type PublishRequest struct {
	Request string `json:"request"`
	Audio   bool   `json:"audio"`
	Video   bool   `json:"video"`
	Bitrate int64  `json:"bitrate,omitempty"`
}

type ConfigureRequest struct {
	Request string `json:"request"`
	Audio   *bool  `json:"audio,omitempty"`
	Video   *bool  `json:"video,omitempty"`
	Bitrate int64  `json:"bitrate,omitempty"`
}

type StartRequest struct {
	Request string `json:"request"`
}

type UnpublishRequest struct {
	Request string `json:"request"`
}

type LeaveRequest struct {
	Request string `json:"request"`
}

// Publisher describes a feed available in a room.
type Publisher struct {
	Feed    int64  `json:"id"`
	Display string `json:"display,omitempty"`
	Talking bool   `json:"talking,omitempty"`
}

// EventData is the decoded payload for videoroom events. Bitrate is set
// only when the payload carried a numeric bitrate value.
type EventData struct {
	Room        int64       `json:"room,omitempty"`
	Feed        int64       `json:"id,omitempty"`
	Display     string      `json:"display,omitempty"`
	Publishers  []Publisher `json:"publishers,omitempty"`
	Leaving     int64       `json:"leaving,omitempty"`
	Unpublished int64       `json:"unpublished,omitempty"`
	Configured  string      `json:"configured,omitempty"`
	Started     string      `json:"started,omitempty"`
	Bitrate     *int64      `json:"-"`
}

type adapter struct{}

type payload struct {
	VideoRoom string          `json:"videoroom"`
	ErrorCode int64           `json:"error_code,omitempty"`
	Error     string          `json:"error,omitempty"`
	Bitrate   json.RawMessage `json:"bitrate,omitempty"`
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

	// bitrate occasionally arrives as a non-numeric placeholder; only a
	// numeric value is surfaced
	if n, err := strconv.ParseInt(string(p.Bitrate), 10, 64); err == nil {
		p.EventData.Bitrate = &n
	}

	name := ""
	switch p.VideoRoom {
	case "joined":
		name = EventJoined
	case "attached":
		name = EventAttached
	case "talking", "stopped-talking":
		name = EventTalking
	case "destroyed":
		name = EventDestroyed
	case "event":
		name = eventName(&p)
	case "success":
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

func eventName(p *payload) string {
	switch {
	case p.Configured == "ok":
		return EventConfigured
	case len(p.Publishers) > 0:
		return EventPublishers
	case p.Leaving != 0:
		return EventLeaving
	case p.Unpublished != 0:
		return EventUnpublished
	default:
		return EventEvent
	}
}
