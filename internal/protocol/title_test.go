package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoDaCenter/gdabridge/internal/protocol"
)

func TestEncodeRequest_WireShape(t *testing.T) {
	title, err := protocol.EncodeRequest("resp_cb_id_100", []any{map[string]string{"op": "a"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"request","callback_id":"resp_cb_id_100","requests":[{"op":"a"}]}`, title)
}

func TestParseTitle_Request(t *testing.T) {
	msg, err := protocol.ParseTitle(`{"action":"request","callback_id":"13032","requests":[
		{"interface":"table","operation":"getName","params":{"col":4,"time":0}},
		{"interface":"table","operation":"getName","params":{"col":2,"time":0}}]}`)
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionRequest, msg.Action)

	env, err := msg.Request()
	require.NoError(t, err)
	assert.Equal(t, "13032", env.CallbackID)
	require.Len(t, env.Requests, 2)

	d, err := protocol.DecodeDescriptor(env.Requests[1])
	require.NoError(t, err)
	assert.Equal(t, "table", d.Interface)
	assert.Equal(t, "getName", d.Operation)
	var col int
	ok, err := d.DecodeArg("col", &col)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, col)
}

func TestParseTitle_OrdinaryTitles(t *testing.T) {
	for _, title := range []string{"", "My Chart", "{not json", `{"foo":1}`, `[1,2]`} {
		_, err := protocol.ParseTitle(title)
		assert.ErrorIs(t, err, protocol.ErrNotAction, "title %q", title)
	}
}

func TestTitleMessage_RequestMissingFields(t *testing.T) {
	msg, err := protocol.ParseTitle(`{"action":"request","requests":[]}`)
	require.NoError(t, err)
	_, err = msg.Request()
	assert.Error(t, err)

	msg, err = protocol.ParseTitle(`{"action":"request","callback_id":"x"}`)
	require.NoError(t, err)
	_, err = msg.Request()
	assert.Error(t, err)
}

func TestDescriptor_TopLevelArgs(t *testing.T) {
	d, err := protocol.DecodeDescriptor(json.RawMessage(`{"interface":"table","operation":"GetColData","col":3}`))
	require.NoError(t, err)
	var col int
	ok, err := d.DecodeArg("col", &col)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, col)

	ok, err = d.DecodeArg("time", &col)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeDescriptor_RejectsNonObject(t *testing.T) {
	_, err := protocol.DecodeDescriptor(json.RawMessage(`"getName"`))
	assert.Error(t, err)
}

func TestNotification_FlatWireFormat(t *testing.T) {
	n := protocol.Notification{Observable: protocol.ObservableHighlight, Event: "delta"}.
		With("newly_highlighted", []int{3, 2}).
		With("newly_unhighlighted", []int{23})

	b, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{"observable":"HighlightState","event":"delta","newly_highlighted":[3,2],"newly_unhighlighted":[23]}`, string(b))

	var back protocol.Notification
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, "HighlightState", back.Observable)
	assert.Equal(t, "delta", back.Event)
	assert.Equal(t, []string{"newly_highlighted", "newly_unhighlighted"}, back.FieldNames())

	var hl []int
	ok, err := back.Field("newly_highlighted", &hl)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int{3, 2}, hl)
}

func TestEncodeNotify_RoundTripsThroughTitle(t *testing.T) {
	title, err := protocol.EncodeNotify(protocol.Notification{Observable: protocol.ObservableTime}.With("time", 2))
	require.NoError(t, err)

	msg, err := protocol.ParseTitle(title)
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionNotify, msg.Action)

	n, err := msg.Notification()
	require.NoError(t, err)
	assert.Equal(t, protocol.ObservableTime, n.Observable)
	assert.Equal(t, []string{"time"}, n.FieldNames())
}

func TestParseTitle_Close(t *testing.T) {
	msg, err := protocol.ParseTitle(protocol.EncodeClose())
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionClose, msg.Action)
}
