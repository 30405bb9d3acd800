package audiobridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/meetecho/janode-go"
)

type AudioBridgeSuite struct {
	suite.Suite
	adapter janode.PluginAdapter
}

func TestAudioBridgeSuite(t *testing.T) {
	suite.Run(t, new(AudioBridgeSuite))
}

func (s *AudioBridgeSuite) SetupTest() {
	s.adapter = Descriptor().New()
}

func (s *AudioBridgeSuite) msg(data string) *janode.Message {
	raw := json.RawMessage(data)
	return &janode.Message{
		Janus:      "event",
		Plugindata: &janode.PluginData{Plugin: PluginID, Data: raw},
	}
}

func (s *AudioBridgeSuite) TestDecodesJoined() {
	ev, ok := s.adapter.Decode(s.msg(
		`{"audiobridge":"joined","room":5,"id":11,"participants":[{"id":12,"display":"bob","muted":true}]}`))
	s.Require().True(ok)
	s.Equal(EventJoined, ev.Name)

	data := ev.Data.(EventData)
	s.EqualValues(5, data.Room)
	s.EqualValues(11, data.ID)
	s.Require().Len(data.Participants, 1)
	s.True(data.Participants[0].Muted)
}

func (s *AudioBridgeSuite) TestDecodesError() {
	ev, ok := s.adapter.Decode(s.msg(`{"audiobridge":"event","error_code":485,"error":"room exists"}`))
	s.Require().True(ok)
	s.Require().NotNil(ev.Err)
	s.EqualValues(485, ev.Err.Code)
}

func (s *AudioBridgeSuite) TestPeerLeavingEvent() {
	ev, ok := s.adapter.Decode(s.msg(`{"audiobridge":"event","room":5,"leaving":12}`))
	s.Require().True(ok)
	s.Equal(EventPeerLeaving, ev.Name)
	s.EqualValues(12, ev.Data.(EventData).ID)
}

func (s *AudioBridgeSuite) TestPeerJoinedEvent() {
	ev, ok := s.adapter.Decode(s.msg(
		`{"audiobridge":"event","room":5,"participants":[{"id":13}]}`))
	s.Require().True(ok)
	s.Equal(EventPeerJoined, ev.Name)
}

func (s *AudioBridgeSuite) TestTalkingEvents() {
	ev, _ := s.adapter.Decode(s.msg(`{"audiobridge":"talking","room":5,"id":11}`))
	s.Equal(EventTalking, ev.Name)

	ev, _ = s.adapter.Decode(s.msg(`{"audiobridge":"stopped-talking","room":5,"id":11}`))
	s.Equal(EventTalking, ev.Name)
}

func (s *AudioBridgeSuite) TestRoomListSuccess() {
	ev, ok := s.adapter.Decode(s.msg(
		`{"audiobridge":"success","list":[{"room":5,"description":"lobby"}]}`))
	s.Require().True(ok)
	s.Equal(EventEvent, ev.Name)
	data := ev.Data.(EventData)
	s.Require().Len(data.Rooms, 1)
	s.Equal("lobby", data.Rooms[0].Description)
}

func (s *AudioBridgeSuite) TestUnknownVerbUnhandled() {
	_, ok := s.adapter.Decode(s.msg(`{"audiobridge":"weird"}`))
	s.False(ok)
}

func (s *AudioBridgeSuite) TestRequestBuilders() {
	join := Join(5, "alice", "pin")
	s.Equal("join", join.Request)
	s.EqualValues(5, join.Room)
	s.Equal("pin", join.Pin)

	s.Equal("leave", Leave().Request)
	s.Equal("configure", Configure().Request)
}
