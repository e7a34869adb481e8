package eventbus

import (
	"encoding/json"

	"github.com/nexusfix/exchange/internal/engine"
)

func marshalEvent(ev engine.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// UnmarshalEvent decodes a message payload produced by Publish back
// into an engine.Event. Egress workers call this after receiving off
// a subscription channel.
func UnmarshalEvent(payload []byte) (engine.Event, error) {
	var ev engine.Event
	err := json.Unmarshal(payload, &ev)
	return ev, err
}
