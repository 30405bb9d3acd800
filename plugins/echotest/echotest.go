// Package echotest adapts the Janus EchoTest plugin. It is the smallest
// possible adapter: a stateless decoder for the plugin's single event
// shape.
package echotest

import (
	"github.com/meetecho/janode-go"
)

const PluginID = "janus.plugin.echotest"

// EventResult is emitted for unsolicited echotest results.
const EventResult = "echotest_result"

// Descriptor returns the attach descriptor for the EchoTest plugin.
func Descriptor() *janode.PluginDescriptor {
	return &janode.PluginDescriptor{
		ID:  PluginID,
		New: func() janode.PluginAdapter { return adapter{} },
	}
}

// StartRequest is the EchoTest configuration body.
type StartRequest struct {
	Audio    bool   `json:"audio"`
	Video    bool   `json:"video"`
	Record   bool   `json:"record,omitempty"`
	Bitrate  int64  `json:"bitrate,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// ResultData is the decoded payload of EventResult.
type ResultData struct {
	Result string
}

type adapter struct{}

type payload struct {
	EchoTest  string `json:"echotest"`
	Result    string `json:"result,omitempty"`
	ErrorCode int64  `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (adapter) Decode(msg *janode.Message) (*janode.PluginEvent, bool) {
	var p payload
	if err := msg.DecodePluginData(&p); err != nil {
		return nil, false
	}
	if p.ErrorCode != 0 || p.Error != "" {
		return &janode.PluginEvent{
			Name: EventResult,
			Err:  &janode.APIError{Code: p.ErrorCode, Reason: p.Error},
		}, true
	}
	if p.Result == "" {
		return nil, false
	}
	return &janode.PluginEvent{
		Name: EventResult,
		Data: ResultData{Result: p.Result},
		JSEP: msg.JSEP,
	}, true
}
