package packet

import (
	"encoding/json"
	"fmt"
)

// Envelope is the JSON form of a packet: its kind and its fields.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

func Encode(p Packet) (Envelope, error) {
	if p == nil {
		return Envelope{}, fmt.Errorf("encode: nil packet")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", p.Kind(), err)
	}
	return Envelope{Kind: p.Kind(), Body: b}, nil
}

// Decode rebuilds the packet an envelope carries. An empty body decodes to
// the zero packet of that kind.
func Decode(e Envelope) (Packet, error) {
	var (
		p   Packet
		err error
	)
	switch e.Kind {
	case KindUseEntity:
		p, err = decodeBody[UseEntity](e.Body)
	case KindDigging:
		p, err = decodeBody[Dig](e.Body)
	case KindPlace:
		p, err = decodeBody[Place](e.Body)
	case KindClickWindow:
		p, err = decodeBody[ClickWindow](e.Body)
	case KindUseItem:
		p, err = decodeBody[UseItem](e.Body)
	case KindChat:
		p, err = decodeBody[Chat](e.Body)
	case KindMove:
		p, err = decodeBody[Move](e.Body)
	default:
		return nil, fmt.Errorf("unknown packet kind %q", e.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Kind, err)
	}
	return p, nil
}

func decodeBody[T Packet](body json.RawMessage) (Packet, error) {
	var v T
	if len(body) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}
