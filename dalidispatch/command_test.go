package dalidispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvelopeUnmarshalAllFields(t *testing.T) {
	payload := `{"command":"SetLightFadeTime","bus":1,"address":5,"group":2,"value":100,"fade_time":7,"name":"Desk","pattern":"^Desk"}`
	var env Envelope
	assert.NoError(t, json.Unmarshal([]byte(payload), &env))

	assert.Equal(t, SetLightFadeTime, env.Command)
	assert.Equal(t, 1, env.Bus)
	assert.Equal(t, uint8(5), env.Address)
	assert.Equal(t, uint8(2), env.Group)
	assert.Equal(t, uint8(100), env.Value)
	assert.Equal(t, uint8(7), env.FadeTime)
	assert.Equal(t, "Desk", env.Name)
	assert.Equal(t, "^Desk", env.Pattern)
}

func TestEnvelopeUnmarshalMissingCommandIsError(t *testing.T) {
	var env Envelope
	err := json.Unmarshal([]byte(`{"bus":0}`), &env)
	assert.Error(t, err)
}

func TestEnvelopeUnmarshalMalformedJSONIsError(t *testing.T) {
	var env Envelope
	err := json.Unmarshal([]byte(`not json`), &env)
	assert.Error(t, err)
}

func TestEnvelopeRoundTripsThroughMarshal(t *testing.T) {
	env := Envelope{Command: SetGroupBrightness, Bus: 0, Group: 3, Value: 200}
	data, err := json.Marshal(env)
	assert.NoError(t, err)

	var back Envelope
	assert.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, env, back)
}

func TestEveryCommandNameUnmarshals(t *testing.T) {
	names := []Command{
		SetLightBrightness, SetGroupBrightness, UpdateBusStatus, RenameBus,
		RenameLight, RenameGroup, NewGroup, AddToGroup, MatchGroup,
		RemoveGroup, RemoveFromGroup, FindAllLights, FindNewLights,
		QueryLightStatus, RemoveShortAddress, SetLightFadeTime, SetGroupFadeTime,
	}
	for _, name := range names {
		payload, err := json.Marshal(Envelope{Command: name})
		assert.NoError(t, err)
		var env Envelope
		assert.NoError(t, json.Unmarshal(payload, &env))
		assert.Equal(t, name, env.Command)
	}
}

func TestQueryLightReplyMarshalsExpectedShape(t *testing.T) {
	reply := QueryLightReply{Controller: "hallway", Bus: 0, Address: 5, Status: 0x04, Description: " Lamp-ON"}
	data, err := json.Marshal(reply)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"controller":"hallway","bus":0,"address":5,"failure":false,"status":4,"description":" Lamp-ON"}`, string(data))
}
