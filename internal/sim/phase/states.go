package phase

import "phasecraft.ai/internal/sim/cause"

const (
	tickCaps   = CapBlocks | CapEntities | CapItems | CapEntityCollisions
	packetCaps = CapAllCapture | CapEntityCollisions
)

var (
	ServerTick = register(&state{name: "server_tick", category: CategoryTick, caps: CapAllCapture | CapEntityCollisions})
	WorldTick  = register(&state{name: "world_tick", category: CategoryTick, caps: tickCaps})
	EntityTick = register(&state{name: "entity_tick", category: CategoryTick, caps: CapAllCapture | CapEntityCollisions})
	PlayerTick = register(&state{name: "player_tick", category: CategoryTick, caps: CapAllCapture | CapEntityCollisions})

	BlockTick      = register(&state{name: "block_tick", category: CategoryBlock, caps: tickCaps, postDispatch: notifyAsBlock})
	NeighborNotify = register(&state{name: "neighbor_notify", category: CategoryBlock, caps: CapBlocks | CapEntities | CapItems, postDispatch: notifyAsBlock})

	// DragonFightTick ticks a boss fight. The fight's bookkeeping is attached to
	// the context as an extension and re-armed by its UnwindExtension.
	DragonFightTick = register(&state{name: "dragon_fight_tick", category: CategoryTick, caps: tickCaps})

	// TerrainGeneration captures nothing: generated chunks are not attributable
	// mutations.
	TerrainGeneration = register(&state{name: "terrain_generation", category: CategoryGeneration, caps: CapNone})

	PacketInteractEntity   = registerPacket("packet_interact_entity", packetCaps)
	PacketInteractAtEntity = registerPacket("packet_interact_at_entity", packetCaps)
	PacketAttackEntity     = registerPacket("packet_attack_entity", packetCaps)
	PacketDigBlock         = registerPacket("packet_dig_block", packetCaps)
	PacketPlaceBlock       = registerPacket("packet_place_block", packetCaps)
	PacketClickWindow      = registerPacket("packet_click_window", CapSlots|CapItems)
	PacketUseItem          = registerPacket("packet_use_item", packetCaps)
	PacketChat             = registerPacket("packet_chat", CapNone)
	PacketMovement         = registerPacket("packet_movement", CapBlocks|CapEntities|CapEntityCollisions)

	PluginScheduledTask = register(&state{name: "plugin_scheduled_task", category: CategoryPlugin, caps: CapAllCapture | CapEntityCollisions})
	// PluginCommand only records the command sender as a cause.
	PluginCommand = register(&state{name: "plugin_command", category: CategoryPlugin, caps: CapEntityCollisions})

	// Empty is returned by Tracker.Current when no phase is active. It captures
	// nothing, so mutation points apply directly.
	Empty = register(&state{name: "empty", category: CategoryInternal, caps: CapEntityCollisions})

	postDispatchState = &state{name: "post_dispatch", category: CategoryInternal, caps: CapAllCapture}
)

func registerPacket(name string, caps Capabilities) *state {
	return register(&state{
		name:         name,
		category:     CategoryPacket,
		caps:         caps,
		unwind:       unwindPacket,
		postDispatch: notifyAsPlayer,
	})
}

// unwindPacket hands the context to the tracker's packet unwinder, which
// decides what the packet meant.
func unwindPacket(ctx *Context) error {
	u := ctx.tracker.packets
	if u == nil || ctx.packet == nil {
		return nil
	}
	return u.UnwindPacket(ctx.state, ctx)
}

func notifyAsBlock(s *state, unwindingCtx *Context, post *Context) {
	notifyBySource(s, unwindingCtx, post)
	if src := unwindingCtx.Source(); src != nil {
		post.tracker.causes.PushCause(src)
	}
}

func notifyAsPlayer(s *state, unwindingCtx *Context, post *Context) {
	notifyBySource(s, unwindingCtx, post)
	if p := unwindingCtx.Player(); p != "" {
		post.tracker.causes.AddContext(cause.Player, p)
	}
}
