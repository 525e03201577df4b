package router

import "encoding/json"

// Known envelope actions.
const ActionBroadcast = "broadcast"

// Envelope is the wire shape of an inbound message:
// {"action": "...", "payload": ...}.
type Envelope struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Message is the decoded form of an inbound envelope: a tagged union over
// the known shapes plus an unknown variant. Unknown shapes route to the
// default handler rather than being speculatively parsed.
type Message interface {
	isMessage()
}

// BroadcastMessage asks the gateway to fan the payload out to every other
// connection. The payload is opaque to the gateway and pushed verbatim.
type BroadcastMessage struct {
	Payload json.RawMessage
}

// UnknownMessage is anything that matched no known action.
type UnknownMessage struct {
	Action string
}

func (BroadcastMessage) isMessage() {}
func (UnknownMessage) isMessage()   {}

// decodeMessage parses an envelope into its typed variant. A parse error
// means the body was not an envelope at all; callers swallow it into the
// default route.
func decodeMessage(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	switch env.Action {
	case ActionBroadcast:
		if len(env.Payload) == 0 {
			return UnknownMessage{Action: env.Action}, nil
		}
		return BroadcastMessage{Payload: env.Payload}, nil
	default:
		return UnknownMessage{Action: env.Action}, nil
	}
}
