package phase

import (
	"errors"
	"strings"
	"testing"

	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/cause"
	"phasecraft.ai/internal/sim/event"
)

func TestTracker_NestedRunLeavesStackEmpty(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	var depths []int
	err := tr.Run(ServerTick.NewContext(tr), func(*Context) error {
		depths = append(depths, tr.Depth())
		return tr.Run(WorldTick.NewContext(tr).WithSource("overworld"), func(*Context) error {
			depths = append(depths, tr.Depth())
			return tr.Run(EntityTick.NewContext(tr).WithSource("zombie#1"), func(ctx *Context) error {
				depths = append(depths, tr.Depth())
				if tr.Current() != ctx {
					t.Fatalf("current is not the innermost context")
				}
				if got := tr.Causes().Current().All(); len(got) != 2 || got[1] != "zombie#1" {
					t.Fatalf("causes=%v", got)
				}
				return nil
			})
		})
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(depths) != 3 || depths[0] != 1 || depths[2] != 3 {
		t.Fatalf("depths=%v", depths)
	}
	if !tr.IsEmpty() || tr.Causes().Depth() != 0 || tr.Causes().Len() != 0 {
		t.Fatalf("stack not empty: phases=%v frames=%d", tr.Phases(), tr.Causes().Depth())
	}
	if !tr.Current().IsEmpty() {
		t.Fatalf("expected empty sentinel")
	}
	tr.EnsureEmpty()
}

func TestTracker_CloseOutOfOrderIsFatal(t *testing.T) {
	var reports []CrashReport
	tr, _ := newTestTracker(t, nil, WithCrashReporter(func(r CrashReport) { reports = append(reports, r) }))
	outer := WorldTick.NewContext(tr)
	inner := EntityTick.NewContext(tr)
	if err := outer.BuildAndSwitch(); err != nil {
		t.Fatalf("switch outer: %v", err)
	}
	if err := inner.BuildAndSwitch(); err != nil {
		t.Fatalf("switch inner: %v", err)
	}

	v := mustPanic(t, func() { _ = outer.Close() })
	se, ok := v.(*StackError)
	if !ok {
		t.Fatalf("panic value %T", v)
	}
	if !errors.Is(se, ErrStackCorrupted) || se.Report.Stuck != "entity_tick" {
		t.Fatalf("stack error=%v stuck=%q", se, se.Report.Stuck)
	}
	if len(reports) != 1 || len(reports[0].Phases) != 2 {
		t.Fatalf("reports=%+v", reports)
	}
}

func TestTracker_EnsureEmptyNamesStuckPhase(t *testing.T) {
	var got CrashReport
	tr, _ := newTestTracker(t, nil, WithSide(SideClient), WithCrashReporter(func(r CrashReport) { got = r }))
	tr.SetTick(12)
	if err := PlayerTick.NewContext(tr).WithSource("alice").BuildAndSwitch(); err != nil {
		t.Fatalf("switch: %v", err)
	}

	v := mustPanic(t, tr.EnsureEmpty)
	if _, ok := v.(*StackError); !ok {
		t.Fatalf("panic value %T", v)
	}
	if got.Stuck != "player_tick" || got.Tick != 12 || got.Side != SideClient {
		t.Fatalf("report=%+v", got)
	}
	if len(got.Causes) != 1 || got.Causes[0] != "alice" {
		t.Fatalf("causes=%v", got.Causes)
	}
	if !strings.Contains(got.String(), "stuck phase: player_tick") {
		t.Fatalf("report text: %s", got)
	}
}

func TestContext_LifecycleErrors(t *testing.T) {
	tr, _ := newTestTracker(t, nil, WithMaxDepth(2))

	ctx := WorldTick.NewContext(tr)
	if err := ctx.Close(); !errors.Is(err, ErrContextState) {
		t.Fatalf("close before switch: %v", err)
	}
	if err := ctx.BuildAndSwitch(); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if err := ctx.BuildAndSwitch(); !errors.Is(err, ErrContextState) {
		t.Fatalf("double switch: %v", err)
	}
	if err := EntityTick.NewContext(tr).BuildAndSwitch(); err != nil {
		t.Fatalf("second level: %v", err)
	}
	if err := BlockTick.NewContext(tr).BuildAndSwitch(); !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("depth: %v", err)
	}
	if err := tr.Current().Close(); err != nil {
		t.Fatalf("close inner: %v", err)
	}
	if err := ctx.Close(); err != nil {
		t.Fatalf("close outer: %v", err)
	}
	if err := ctx.Close(); err != nil {
		t.Fatalf("close completed should be a no-op: %v", err)
	}
	if err := Empty.NewContext(tr).BuildAndSwitch(); !errors.Is(err, ErrContextState) {
		t.Fatalf("switching empty: %v", err)
	}
	mustPanic(t, func() { ctx.WithSource("late") })
}

func TestContext_CaptureCapabilities(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	if tr.Current().CapturesBlocks() {
		t.Fatalf("empty sentinel captures blocks")
	}
	if !tr.AllowsEntityCollisionEvents() {
		t.Fatalf("empty sentinel should allow collisions")
	}

	err := tr.Run(PacketChat.NewContext(tr), func(ctx *Context) error {
		if ctx.CapturesBlocks() {
			t.Fatalf("chat captures blocks")
		}
		err := ctx.AddBlockCapture(capture.BlockTransaction{Pos: at(0, 0, 0), Original: "stone", Final: capture.Air})
		if !errors.Is(err, ErrNotCapturing) {
			t.Fatalf("add capture: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	_ = tr.Run(TerrainGeneration.NewContext(tr), func(*Context) error {
		if tr.AllowsEntityCollisionEvents() {
			t.Fatalf("terrain generation allows collisions")
		}
		return nil
	})

	done := WorldTick.NewContext(tr)
	_ = tr.Run(done, nil)
	err = done.AddBlockCapture(capture.BlockTransaction{Pos: at(0, 0, 0), Final: "stone"})
	if !errors.Is(err, ErrContextState) {
		t.Fatalf("capture on completed context: %v", err)
	}
}

func TestContext_BuildAndSwitchOrdersCauses(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	s := tr.Causes()
	f := s.PushFrame()
	s.PushCause("plugin:loot")
	s.AddContext(cause.Plugin, "loot")
	m := cause.Capture(s.Current())
	f.Close()

	ctx := PacketUseItem.NewContext(tr).
		WithFrameModifier(m).
		WithCause("server").
		WithSource("alice").
		WithContext(cause.Owner, "alice").
		WithPacket("use_item", "alice")
	err := tr.Run(ctx, func(*Context) error {
		c := tr.Causes().Current()
		got := c.All()
		if len(got) != 3 || got[0] != "plugin:loot" || got[1] != "server" || got[2] != "alice" {
			t.Fatalf("causes=%v", got)
		}
		for k, want := range map[cause.Key]string{cause.Plugin: "loot", cause.Owner: "alice", cause.Player: "alice", cause.Packet: "use_item"} {
			if v, _ := c.Context(k); v != want {
				t.Fatalf("%s=%v want %s", k, v, want)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("causes leaked: %d", s.Len())
	}
}

func TestRun_PanicAbortsNestedContexts(t *testing.T) {
	tr, sim := newTestTracker(t, nil)
	sim.blocks[at(0, 64, 0)] = "stone"

	v := mustPanic(t, func() {
		_ = tr.Run(WorldTick.NewContext(tr), func(*Context) error {
			return tr.Run(EntityTick.NewContext(tr), func(*Context) error {
				if err := sim.setBlock(at(0, 64, 0), capture.Air); err != nil {
					t.Fatalf("set: %v", err)
				}
				panic("boom")
			})
		})
	})
	if v != "boom" {
		t.Fatalf("panic value %v", v)
	}
	if !tr.IsEmpty() || tr.Causes().Depth() != 0 {
		t.Fatalf("tracker not clean after abort: %v", tr.Phases())
	}
	if sim.blocks[at(0, 64, 0)] != "stone" {
		t.Fatalf("aborted capture was applied")
	}
	tr.EnsureEmpty()
}

func TestRun_FunctionErrorStillUnwinds(t *testing.T) {
	tr, sim := newTestTracker(t, nil)
	boom := errors.New("tick failed")
	err := tr.Run(WorldTick.NewContext(tr), func(*Context) error {
		_ = sim.setBlock(at(1, 1, 1), "stone")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if sim.blocks[at(1, 1, 1)] != "stone" {
		t.Fatalf("captures were not replayed")
	}
}

func TestPost_RecoversListenerPanic(t *testing.T) {
	mem := &event.Memory{}
	sink := event.SinkFunc(func(event.Event) bool { panic("listener") })
	tr, _ := newTestTracker(t, sink, WithRecorder(mem))
	_, err := tr.Post(&event.Chat{Base: event.NewBase(cause.Of("alice"), "packet_chat", 0)})
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "listener" {
		t.Fatalf("err=%v", err)
	}
	if len(mem.Records) != 0 {
		t.Fatalf("failed post was recorded")
	}
}

func TestStates_Registry(t *testing.T) {
	s, ok := Lookup("packet_attack_entity")
	if !ok || s != PacketAttackEntity || s.Category() != CategoryPacket {
		t.Fatalf("lookup=%v ok=%v", s, ok)
	}
	if _, ok := Lookup("post_dispatch"); ok {
		t.Fatalf("internal post-dispatch state is registered")
	}
	all := States()
	for i := 1; i < len(all); i++ {
		if all[i-1].Name() >= all[i].Name() {
			t.Fatalf("states not sorted: %s >= %s", all[i-1].Name(), all[i].Name())
		}
	}
	if PluginCommand.Capabilities()&CapAllCapture != 0 {
		t.Fatalf("plugin command captures")
	}
}
