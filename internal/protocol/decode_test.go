package protocol

import (
	"encoding/json"
	"testing"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/packet"
)

func TestDecodePacket(t *testing.T) {
	cases := []struct {
		kind packet.Kind
		body string
		want packet.Packet
	}{
		{packet.KindDigging, `{"pos":{"x":1,"y":4,"z":2},"status":2}`, packet.Dig{Pos: capture.Pos{X: 1, Y: 4, Z: 2}, Status: packet.DigFinish}},
		{packet.KindUseEntity, `{"target":"E000003","action":1}`, packet.UseEntity{Target: "E000003", Action: packet.ActionAttack}},
		{packet.KindPlace, `{"pos":{"x":0,"y":5,"z":0},"block":"stone","slot":2}`, packet.Place{Pos: capture.Pos{Y: 5}, Block: "stone", Slot: 2}},
		{packet.KindClickWindow, `{"slot":0,"target":9}`, packet.ClickWindow{Slot: 0, Target: 9}},
		{packet.KindUseItem, `{"slot":1}`, packet.UseItem{Slot: 1}},
		{packet.KindChat, `{"message":"hi"}`, packet.Chat{Message: "hi"}},
		{packet.KindMove, `{"to":{"x":3,"y":5,"z":3}}`, packet.Move{To: capture.Pos{X: 3, Y: 5, Z: 3}}},
		{packet.KindChat, ``, packet.Chat{}},
	}
	for _, tc := range cases {
		got, err := DecodePacket(PacketMsg{Kind: tc.kind, Body: json.RawMessage(tc.body)})
		if err != nil {
			t.Fatalf("%s: %v", tc.kind, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %#v want %#v", tc.kind, got, tc.want)
		}
		if packet.StateFor(got) == nil {
			t.Fatalf("%s: no phase state", tc.kind)
		}
	}
}

func TestDecodePacket_Errors(t *testing.T) {
	if _, err := DecodePacket(PacketMsg{Kind: "teleport"}); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if _, err := DecodePacket(PacketMsg{Kind: packet.KindDigging, Body: json.RawMessage(`{"pos":"up"}`)}); err == nil {
		t.Fatalf("expected body error")
	}
}
