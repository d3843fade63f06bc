package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotAction is returned for titles that do not carry a bridge message.
// Pages set ordinary titles too; hosts ignore those.
var ErrNotAction = errors.New("title is not a bridge action")

// TitleMessage is a decoded page title.
type TitleMessage struct {
	Action string
	Raw    json.RawMessage
}

// ParseTitle decodes the action tag of a page title.
func ParseTitle(title string) (TitleMessage, error) {
	trimmed := strings.TrimSpace(title)
	if !strings.HasPrefix(trimmed, "{") {
		return TitleMessage{}, ErrNotAction
	}
	var head struct {
		Action string `json:"action"`
	}
	if err := codec.Unmarshal([]byte(trimmed), &head); err != nil {
		return TitleMessage{}, fmt.Errorf("%w: %v", ErrNotAction, err)
	}
	if head.Action == "" {
		return TitleMessage{}, fmt.Errorf("%w: missing action", ErrNotAction)
	}
	return TitleMessage{Action: head.Action, Raw: json.RawMessage(trimmed)}, nil
}

// Request decodes a request action.
func (m TitleMessage) Request() (RequestEnvelope, error) {
	if m.Action != ActionRequest {
		return RequestEnvelope{}, fmt.Errorf("action %q is not a request", m.Action)
	}
	var env struct {
		Action     string             `json:"action"`
		CallbackID string             `json:"callback_id"`
		Requests   *[]json.RawMessage `json:"requests"`
	}
	if err := codec.Unmarshal(m.Raw, &env); err != nil {
		return RequestEnvelope{}, fmt.Errorf("decode request: %w", err)
	}
	if env.CallbackID == "" {
		return RequestEnvelope{}, errors.New("could not find callback_id")
	}
	if env.Requests == nil {
		return RequestEnvelope{}, errors.New("could not find requests array")
	}
	requests := *env.Requests
	if requests == nil {
		requests = []json.RawMessage{}
	}
	return RequestEnvelope{Action: env.Action, CallbackID: env.CallbackID, Requests: requests}, nil
}

// Notification decodes a notify action. The action tag itself is dropped.
func (m TitleMessage) Notification() (Notification, error) {
	if m.Action != ActionNotify {
		return Notification{}, fmt.Errorf("action %q is not a notify", m.Action)
	}
	var n Notification
	if err := codec.Unmarshal(m.Raw, &n); err != nil {
		return Notification{}, fmt.Errorf("decode notify: %w", err)
	}
	delete(n.Fields, "action")
	if len(n.Fields) == 0 {
		n.Fields = nil
	}
	if n.Observable == "" {
		return Notification{}, errors.New("could not find observable")
	}
	return n, nil
}

// EncodeRequest renders the title a page sets to issue requests.
func EncodeRequest(callbackID string, requests []any) (string, error) {
	raws := make([]json.RawMessage, 0, len(requests))
	for i, r := range requests {
		b, err := codec.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("encode request %d: %w", i, err)
		}
		raws = append(raws, b)
	}
	b, err := codec.Marshal(RequestEnvelope{
		Action:     ActionRequest,
		CallbackID: callbackID,
		Requests:   raws,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeNotify renders the title a page sets to notify the host.
func EncodeNotify(n Notification) (string, error) {
	b, err := codec.Marshal(n.With("action", ActionNotify))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeClose renders the title asking the host to close the view.
func EncodeClose() string {
	return `{"action":"close"}`
}

// DecodeDescriptor decodes one request descriptor. Descriptors must be JSON
// objects.
func DecodeDescriptor(raw json.RawMessage) (RequestDescriptor, error) {
	if t := strings.TrimSpace(string(raw)); !strings.HasPrefix(t, "{") {
		return RequestDescriptor{}, errors.New("found a request not of JSON object type")
	}
	var d RequestDescriptor
	if err := codec.Unmarshal(raw, &d); err != nil {
		return RequestDescriptor{}, fmt.Errorf("decode request descriptor: %w", err)
	}
	d.Raw = raw
	return d, nil
}
