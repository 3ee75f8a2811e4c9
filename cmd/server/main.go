package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"phasecraft.ai/internal/persistence/indexdb"
	persistlog "phasecraft.ai/internal/persistence/log"
	"phasecraft.ai/internal/plugins/spawnguard"
	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/event"
	"phasecraft.ai/internal/sim/packet"
	"phasecraft.ai/internal/sim/phase"
	"phasecraft.ai/internal/sim/tuning"
	"phasecraft.ai/internal/sim/world"
	"phasecraft.ai/internal/telemetry"
	"phasecraft.ai/internal/transport/eventstream"
	"phasecraft.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (empty: defaults plus PHASECRAFT_* env)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides persistence.data_dir)")
		demo       = flag.Bool("demo", false, "run a scripted demo player")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tu, err := tuning.Load(strings.TrimSpace(*tuningPath))
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if d := strings.TrimSpace(*dataDir); d != "" {
		tu.Persistence.DataDir = d
	}
	runID := uuid.NewString()
	logger.Printf("run=%s world=%s side=%s tick_rate=%d", runID, tu.World.ID, tu.Side, tu.TickRateHz)

	ctx, cancel := signalContext()
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "phasecraft-server")
	if err != nil {
		logger.Printf("telemetry disabled: %v", err)
	}
	defer func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = shutdownTracing(ctx2)
	}()

	bus := event.NewBus()
	if g := spawnguard.FromTuning(tu.SpawnGuard); g != nil {
		g.Register(bus)
		logger.Printf("spawn guard radius=%d protected=%v", g.Radius, tu.SpawnGuard.Protected)
	}

	// Recorders observe applied events only; none of them feed back into the
	// simulation, so a failing sink never changes a digest.
	var recorders event.Recorders
	var journal *persistlog.EventJournal
	var ticks *persistlog.TickLogger
	if tu.Persistence.Journal {
		journal = persistlog.NewEventJournal(tu.Persistence.DataDir)
		ticks = persistlog.NewTickLogger(tu.Persistence.DataDir)
		recorders = append(recorders, journal)
	}
	var idx *indexdb.SQLiteIndex
	if tu.Persistence.Index {
		idx, err = indexdb.OpenSQLite(
			filepath.Join(tu.Persistence.DataDir, "index", "events.sqlite"),
			indexdb.Options{QueueSize: tu.Persistence.IndexQueueSize},
		)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		if err := idx.SetMeta(ctx, "run_id", runID); err != nil {
			logger.Printf("index meta: %v", err)
		}
		recorders = append(recorders, idx)
	}
	var hub *eventstream.Hub
	if tu.Stream.Enabled {
		hub = eventstream.NewHub(logger, tu.Stream.SendBuffer)
		recorders = append(recorders, hub)
	}

	cfg, err := world.ConfigFromTuning(tu)
	if err != nil {
		logger.Fatalf("world config: %v", err)
	}
	if ticks != nil {
		cfg.TickLog = ticks
	}
	opts := world.PhaseOptions(tu)
	opts = append(opts, phase.WithTracer(telemetry.Tracer()))
	if len(recorders) > 0 {
		opts = append(opts, phase.WithRecorder(recorders))
	}
	w, err := world.New(cfg, bus, opts...)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()
	if *demo {
		go runDemo(ctx, w, logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, tu.World.ID, w, idx, hub)
	})
	mux.HandleFunc("/v1/play", ws.NewServer(w, logger).Handler())
	if hub != nil {
		mux.HandleFunc("/v1/events", hub.Handler())
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		cancel()
	}

	<-worldDone
	if ticks != nil {
		if err := ticks.Close(); err != nil {
			logger.Printf("close tick log: %v", err)
		}
	}
	if journal != nil {
		if err := journal.Close(); err != nil {
			logger.Printf("close journal: %v", err)
		}
	}
	if idx != nil {
		st := idx.Stats()
		if err := idx.Close(); err != nil {
			logger.Printf("close index: %v", err)
		}
		logger.Printf("index closed dropped=%d", st.DropTotal)
	}
	logger.Printf("stopped at tick %d", w.CurrentTick())
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// writeMetrics renders a minimal Prometheus exposition. Only values that are
// safe to read outside the world goroutine are exported.
func writeMetrics(rw http.ResponseWriter, worldID string, w *world.World, idx *indexdb.SQLiteIndex, hub *eventstream.Hub) {
	fmt.Fprintf(rw, "# HELP phasecraft_world_tick Current world tick.\n")
	fmt.Fprintf(rw, "# TYPE phasecraft_world_tick gauge\n")
	fmt.Fprintf(rw, "phasecraft_world_tick{world=%q} %d\n", worldID, w.CurrentTick())

	if idx != nil {
		s := idx.Stats()
		fmt.Fprintf(rw, "# HELP phasecraft_index_queue_depth Pending index writes.\n")
		fmt.Fprintf(rw, "# TYPE phasecraft_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "phasecraft_index_queue_depth{world=%q} %d\n", worldID, s.QueueDepth)
		fmt.Fprintf(rw, "# HELP phasecraft_index_dropped_total Records dropped because the index queue was full.\n")
		fmt.Fprintf(rw, "# TYPE phasecraft_index_dropped_total counter\n")
		fmt.Fprintf(rw, "phasecraft_index_dropped_total{world=%q} %d\n", worldID, s.DropTotal)
	}
	if hub != nil {
		fmt.Fprintf(rw, "# HELP phasecraft_stream_subscribers Connected event stream subscribers.\n")
		fmt.Fprintf(rw, "# TYPE phasecraft_stream_subscribers gauge\n")
		fmt.Fprintf(rw, "phasecraft_stream_subscribers{world=%q} %d\n", worldID, hub.Subscribers())
		fmt.Fprintf(rw, "# HELP phasecraft_stream_dropped_total Stream messages evicted from full subscriber queues.\n")
		fmt.Fprintf(rw, "# TYPE phasecraft_stream_dropped_total counter\n")
		fmt.Fprintf(rw, "phasecraft_stream_dropped_total{world=%q} %d\n", worldID, hub.Dropped())
	}
}

// runDemo joins a scripted player that chats, places sand above the surface
// and digs it back out, once per second.
func runDemo(ctx context.Context, w *world.World, logger *log.Logger) {
	const name = "demo"
	resp := make(chan error, 1)
	if !w.Join(world.JoinRequest{Name: name, Resp: resp}) {
		logger.Printf("demo: join queue full")
		return
	}
	select {
	case <-ctx.Done():
		return
	case err := <-resp:
		if err != nil {
			logger.Printf("demo: join: %v", err)
			return
		}
	}

	surface := w.Config().SurfaceY
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pos := capture.Pos{X: 6 + i%4, Y: surface + 3, Z: 6}
		var pk packet.Packet
		switch i % 3 {
		case 0:
			pk = packet.Chat{Message: fmt.Sprintf("demo step %d", i)}
		case 1:
			pk = packet.Place{Pos: pos, Block: world.Sand, Slot: 1}
		default:
			pk = packet.Dig{Pos: capture.Pos{X: pos.X, Y: surface + 1, Z: pos.Z}, Status: packet.DigFinish}
		}
		if !w.Submit(packet.Inbound{Player: name, Packet: pk}) {
			logger.Printf("demo: inbox full")
		}
	}
}
