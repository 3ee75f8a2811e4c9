package world

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/event"
	"phasecraft.ai/internal/sim/packet"
	"phasecraft.ai/internal/sim/phase"
	"phasecraft.ai/internal/sim/scheduler"
)

type Config struct {
	ID         string
	TickRateHz int

	// Flat terrain is generated for |x|,|z| <= FlatRadius with grass at SurfaceY.
	FlatRadius int
	SurfaceY   int

	InventorySize int
	StarterItems  []capture.ItemStack
	// PickupRadius is the Chebyshev distance at which players collect items.
	PickupRadius int
	FireTicks    int

	// TickLog, when set, receives every tick's input and digest.
	TickLog TickLog
	Logger  *log.Logger
}

func (c Config) withDefaults() Config {
	if c.ID == "" {
		c.ID = "overworld"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.SurfaceY <= 0 {
		c.SurfaceY = 4
	}
	if c.InventorySize <= 0 {
		c.InventorySize = 36
	}
	if c.PickupRadius <= 0 {
		c.PickupRadius = 1
	}
	if c.FireTicks <= 0 {
		c.FireTicks = 20
	}
	return c
}

type JoinRequest struct {
	Name string
	// Resume attaches to an existing player of that name instead of failing.
	Resume bool
	Resp   chan error
}

// World is a single-threaded authoritative simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg Config

	tick atomic.Uint64

	tracker *phase.Tracker
	packets *packet.Table
	sched   *scheduler.Scheduler

	blocks   map[capture.Pos]capture.BlockState
	entities map[string]*Entity
	items    map[string]*Item
	players  map[string]*Player
	slots    map[capture.SlotKey]capture.ItemStack

	rules      []NeighborRule
	tickers    map[capture.BlockState]BlockTicker
	blockTicks map[uint64][]capture.Pos
	fights     map[string]*DragonFight

	// pickups holds the items a player tick claimed, keyed by the slot that
	// receives them. They are removed only when that slot change applies.
	pickups map[capture.SlotKey][]string
	claimed map[string]bool
	// harvest holds the blocks a dig is removing. Each drops its item only
	// when the change removing it applies.
	harvest map[capture.Pos]capture.BlockState

	chat []string

	inbox chan packet.Inbound
	join  chan JoinRequest
	stop  chan struct{}

	nextEntityNum atomic.Uint64
	nextItemNum   atomic.Uint64

	log *log.Logger
}

// New builds a world posting events to sink. The tracker is created here so
// the world can serve as its simulation and the packet table as its packet
// unwinder; opts are passed through to it.
func New(cfg Config, sink event.Sink, opts ...phase.Option) (*World, error) {
	cfg = cfg.withDefaults()
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds)
	}
	w := &World{
		cfg:        cfg,
		blocks:     map[capture.Pos]capture.BlockState{},
		entities:   map[string]*Entity{},
		items:      map[string]*Item{},
		players:    map[string]*Player{},
		slots:      map[capture.SlotKey]capture.ItemStack{},
		tickers:    map[capture.BlockState]BlockTicker{},
		blockTicks: map[uint64][]capture.Pos{},
		fights:     map[string]*DragonFight{},
		pickups:    map[capture.SlotKey][]string{},
		claimed:    map[string]bool{},
		harvest:    map[capture.Pos]capture.BlockState{},
		inbox:      make(chan packet.Inbound, 1024),
		join:       make(chan JoinRequest, 64),
		stop:       make(chan struct{}),
		log:        cfg.Logger,
	}
	table, err := packet.NewDefaultTable(w)
	if err != nil {
		return nil, fmt.Errorf("packet table: %w", err)
	}
	w.packets = table
	opts = append([]phase.Option{phase.WithLogger(cfg.Logger)}, opts...)
	opts = append(opts, phase.WithPacketUnwinder(table))
	w.tracker = phase.NewTracker(w, sink, opts...)
	w.sched = scheduler.New(w.tracker, cfg.Logger)

	w.AddNeighborRule(Gravity)
	w.AddNeighborRule(igniteRule)
	w.AddNeighborRule(harvestRule)
	w.HandleBlockTick(Fire, burnOut)

	if err := w.generate(); err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	return w, nil
}

var (
	_ phase.Simulation = (*World)(nil)
	_ packet.World     = (*World)(nil)
)

func (w *World) ID() string                      { return w.cfg.ID }
func (w *World) Config() Config                  { return w.cfg }
func (w *World) Tracker() *phase.Tracker         { return w.tracker }
func (w *World) Scheduler() *scheduler.Scheduler { return w.sched }
func (w *World) CurrentTick() uint64             { return w.tick.Load() }

func (w *World) String() string { return "world:" + w.cfg.ID }

// BlockCause attributes mutations to a block, such as a ticking block or one
// whose change notified its neighbors.
type BlockCause struct {
	Pos   capture.Pos
	Block capture.BlockState
}

func (b BlockCause) String() string { return fmt.Sprintf("block:%s@%s", b.Block, b.Pos) }

func (w *World) newEntityID() string {
	n := w.nextEntityNum.Add(1)
	return fmt.Sprintf("E%06d", n)
}

func (w *World) newItemID() string {
	n := w.nextItemNum.Add(1)
	return fmt.Sprintf("I%06d", n)
}
