package protocol

import "phasecraft.ai/internal/sim/packet"

// DecodePacket turns a PACKET message into the packet it carries.
func DecodePacket(m PacketMsg) (packet.Packet, error) {
	return packet.Decode(packet.Envelope{Kind: m.Kind, Body: m.Body})
}
