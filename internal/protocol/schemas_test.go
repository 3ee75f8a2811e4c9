package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"phasecraft.ai/internal/protocol"
	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/packet"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(doc); err != nil {
			t.Fatalf("validate %s: %v", b, err)
		}
	}

	helloSchema := compile("hello.schema.json")
	packetSchema := compile("packet.schema.json")

	validate(helloSchema, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, PlayerName: "alice", MaxQueue: 8})

	body, _ := json.Marshal(packet.Dig{Pos: capture.Pos{X: 1, Y: 4, Z: 0}, Status: packet.DigFinish})
	validate(packetSchema, protocol.PacketMsg{
		Type:            protocol.TypePacket,
		ProtocolVersion: protocol.Version,
		ID:              "p1",
		Kind:            packet.KindDigging,
		Body:            body,
	})

	var bad any
	_ = json.Unmarshal([]byte(`{"type":"PACKET","protocol_version":"1.0","kind":"teleport","body":{}}`), &bad)
	if err := packetSchema.Validate(bad); err == nil {
		t.Fatalf("expected unknown kind rejected")
	}
}
