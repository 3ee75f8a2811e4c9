package protocol

import (
	"encoding/json"

	"phasecraft.ai/internal/sim/event"
	"phasecraft.ai/internal/sim/packet"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerName      string `json:"player_name"`
	MaxQueue        int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Player          string `json:"player"`
	WorldID         string `json:"world_id"`
	Tick            uint64 `json:"tick"`
	TickRateHz      int    `json:"tick_rate_hz"`
}

// PACKET (client -> server). Body holds the JSON form of the packet named by
// Kind.
type PacketMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              string          `json:"id,omitempty"`
	Kind            packet.Kind     `json:"kind"`
	Body            json.RawMessage `json:"body"`
}

// ACK (server -> client) answers a PACKET. Accepted means queued for the next
// tick, not applied.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for,omitempty"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}

// EVENT (server -> stream subscriber)
type EventMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Record          event.Record `json:"record"`
}

func NewEventMsg(r event.Record) EventMsg {
	return EventMsg{Type: TypeEvent, ProtocolVersion: Version, Record: r}
}
