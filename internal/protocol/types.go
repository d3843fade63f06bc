package protocol

import (
	"encoding/json"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	ActionRequest = "request"
	ActionNotify  = "notify"
	ActionClose   = "close"
)

// Observables pushed by the host and understood by pages.
const (
	ObservableHighlight = "HighlightState"
	ObservableTime      = "TimeState"
	ObservableWeights   = "WeightsManState"
	ObservableReady     = "Ready"
)

// RequestEnvelope is written into the page title to ask the host for work.
// Requests are opaque to the bridge; their shape belongs to the host.
type RequestEnvelope struct {
	Action     string            `json:"action"`
	CallbackID string            `json:"callback_id"`
	Requests   []json.RawMessage `json:"requests"`
}

// ResponseEnvelope is injected back into the page. Responses[i] answers
// Requests[i] of the originating request.
type ResponseEnvelope struct {
	CallbackID string            `json:"callback_id"`
	Responses  []json.RawMessage `json:"responses"`
}

// RequestDescriptor is the host-side view of a single request.
type RequestDescriptor struct {
	Interface string          `json:"interface"`
	Operation string          `json:"operation"`
	Params    json.RawMessage `json:"params,omitempty"`

	// Raw keeps the whole descriptor; older pages put arguments at top level.
	Raw json.RawMessage `json:"-"`
}

// Arg looks a named argument up in Params first, then at the descriptor's
// top level.
func (d RequestDescriptor) Arg(name string) (json.RawMessage, bool) {
	for _, src := range []json.RawMessage{d.Params, d.Raw} {
		if len(src) == 0 {
			continue
		}
		var fields map[string]json.RawMessage
		if err := codec.Unmarshal(src, &fields); err != nil {
			continue
		}
		if v, ok := fields[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// DecodeArg unmarshals the named argument into v. It reports false when the
// argument is absent.
func (d RequestDescriptor) DecodeArg(name string, v any) (bool, error) {
	raw, ok := d.Arg(name)
	if !ok {
		return false, nil
	}
	if err := codec.Unmarshal(raw, v); err != nil {
		return true, err
	}
	return true, nil
}

// Notification is an uncorrelated state-change message. It travels flat on
// the wire: {"observable": "...", "event": "...", ...fields}.
type Notification struct {
	Observable string
	Event      string
	Fields     map[string]json.RawMessage
}

func (n Notification) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(n.Fields)+2)
	for k, v := range n.Fields {
		out[k] = v
	}
	out["observable"] = MustJSON(n.Observable)
	if n.Event != "" {
		out["event"] = MustJSON(n.Event)
	}
	return codec.Marshal(out)
}

func (n *Notification) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := codec.Unmarshal(data, &raw); err != nil {
		return err
	}
	*n = Notification{}
	if v, ok := raw["observable"]; ok {
		if err := codec.Unmarshal(v, &n.Observable); err != nil {
			return err
		}
		delete(raw, "observable")
	}
	if v, ok := raw["event"]; ok {
		if err := codec.Unmarshal(v, &n.Event); err != nil {
			return err
		}
		delete(raw, "event")
	}
	if len(raw) > 0 {
		n.Fields = raw
	}
	return nil
}

// With returns a copy of n carrying an extra field.
func (n Notification) With(key string, value any) Notification {
	fields := make(map[string]json.RawMessage, len(n.Fields)+1)
	for k, v := range n.Fields {
		fields[k] = v
	}
	fields[key] = MustJSON(value)
	n.Fields = fields
	return n
}

// Field decodes a named field into v. It reports false when the field is absent.
func (n Notification) Field(name string, v any) (bool, error) {
	raw, ok := n.Fields[name]
	if !ok {
		return false, nil
	}
	return true, codec.Unmarshal(raw, v)
}

// FieldNames lists the extra fields in sorted order.
func (n Notification) FieldNames() []string {
	names := make([]string, 0, len(n.Fields))
	for k := range n.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MustJSON marshals v, returning JSON null when v cannot be encoded.
func MustJSON(v any) json.RawMessage {
	b, err := codec.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// Marshal and Unmarshal expose the package codec to other packages so the
// whole tree shares one JSON configuration.
func Marshal(v any) ([]byte, error) { return codec.Marshal(v) }

func Unmarshal(data []byte, v any) error { return codec.Unmarshal(data, v) }
