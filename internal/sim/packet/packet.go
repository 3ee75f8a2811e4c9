// Package packet maps inbound player packets onto phase states and interprets
// them when their phase unwinds.
package packet

import (
	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/phase"
)

type Kind string

const (
	KindUseEntity   Kind = "use_entity"
	KindDigging     Kind = "player_digging"
	KindPlace       Kind = "block_place"
	KindClickWindow Kind = "click_window"
	KindUseItem     Kind = "use_item"
	KindChat        Kind = "chat"
	KindMove        Kind = "player_move"
)

// Packet is an inbound packet after decoding.
type Packet interface {
	Kind() Kind
}

// Inbound pairs a packet with the player that sent it.
type Inbound struct {
	Player string
	Packet Packet
}

type Action uint8

const (
	ActionInteract Action = iota
	ActionAttack
	ActionInteractAt
)

func (a Action) String() string {
	switch a {
	case ActionInteract:
		return "interact"
	case ActionAttack:
		return "attack"
	case ActionInteractAt:
		return "interact_at"
	}
	return "unknown"
}

// UseEntity is one wire packet carrying three different actions.
type UseEntity struct {
	Target string `json:"target"`
	Action Action `json:"action"`
	Hand   string `json:"hand,omitempty"`
}

type DigStatus uint8

const (
	DigStart DigStatus = iota
	DigCancel
	DigFinish
)

type Dig struct {
	Pos    capture.Pos `json:"pos"`
	Status DigStatus   `json:"status"`
}

// Place puts the block held in Slot of the player's hotbar at Pos.
type Place struct {
	Pos   capture.Pos        `json:"pos"`
	Block capture.BlockState `json:"block"`
	Slot  int                `json:"slot"`
}

// ClickWindow swaps Slot and Target in Inventory.
type ClickWindow struct {
	Inventory string `json:"inventory"`
	Slot      int    `json:"slot"`
	Target    int    `json:"target"`
	Button    int    `json:"button"`
}

type UseItem struct {
	Slot int    `json:"slot"`
	Hand string `json:"hand,omitempty"`
}

type Chat struct {
	Message string `json:"message"`
}

type Move struct {
	To capture.Pos `json:"to"`
}

func (UseEntity) Kind() Kind   { return KindUseEntity }
func (Dig) Kind() Kind         { return KindDigging }
func (Place) Kind() Kind       { return KindPlace }
func (ClickWindow) Kind() Kind { return KindClickWindow }
func (UseItem) Kind() Kind     { return KindUseItem }
func (Chat) Kind() Kind        { return KindChat }
func (Move) Kind() Kind        { return KindMove }

// Kinds lists every packet kind the table must cover.
var Kinds = []Kind{KindUseEntity, KindDigging, KindPlace, KindClickWindow, KindUseItem, KindChat, KindMove}

// kindStates lists the phase states each kind can resolve to.
var kindStates = map[Kind][]phase.State{
	KindUseEntity:   {phase.PacketInteractEntity, phase.PacketAttackEntity, phase.PacketInteractAtEntity},
	KindDigging:     {phase.PacketDigBlock},
	KindPlace:       {phase.PacketPlaceBlock},
	KindClickWindow: {phase.PacketClickWindow},
	KindUseItem:     {phase.PacketUseItem},
	KindChat:        {phase.PacketChat},
	KindMove:        {phase.PacketMovement},
}

// StateFor resolves the phase state a packet is handled in. Use-entity
// packets resolve by action; unknown packets resolve to nil.
func StateFor(p Packet) phase.State {
	if u, ok := p.(UseEntity); ok {
		switch u.Action {
		case ActionAttack:
			return phase.PacketAttackEntity
		case ActionInteractAt:
			return phase.PacketInteractAtEntity
		default:
			return phase.PacketInteractEntity
		}
	}
	if p == nil {
		return nil
	}
	states := kindStates[p.Kind()]
	if len(states) == 0 {
		return nil
	}
	return states[0]
}
