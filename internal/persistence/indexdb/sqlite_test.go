package indexdb

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"phasecraft.ai/internal/sim/event"
)

func openTestIndex(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index", "events.sqlite")
	idx, err := OpenSQLite(path, Options{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	return idx, path
}

func TestSQLiteIndex_WritesAndQueries(t *testing.T) {
	idx, path := openTestIndex(t)
	if err := idx.SetMeta(context.Background(), "run_id", "run-1"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}

	recs := []event.Record{
		{Tick: 1, Seq: 0, Phase: "packet_dig_block", Kind: event.KindChangeBlock, Entries: 1, Applied: 1, Causes: []string{"player:alice"}, Context: map[string]string{"packet": "dig_block"}},
		{Tick: 1, Seq: 1, Phase: "packet_dig_block", Kind: event.KindDropItem, Entries: 1, Applied: 1, Causes: []string{"player:alice"}},
		{Tick: 1, Seq: 2, Phase: "neighbor_notify", Kind: event.KindChangeBlock, Depth: 1, Cancelled: true, Entries: 2, Causes: []string{"block:sand@(0,5,0)", "player:alice"}},
		{Tick: 3, Seq: 0, Phase: "entity_tick", Kind: event.KindSpawnEntity, Depth: 2, Entries: 1, Applied: 1, Causes: []string{"entity:falling_block#E000001"}},
	}
	for _, r := range recs {
		if err := idx.RecordEvent(r); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := idx.Stats(); st.DropTotal != 0 {
		t.Fatalf("dropped %d records", st.DropTotal)
	}

	rd, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer rd.Close()
	ctx := context.Background()

	if v, err := rd.Meta(ctx, "run_id"); err != nil || v != "run-1" {
		t.Fatalf("meta run_id = %q, %v", v, err)
	}
	if v, _ := rd.Meta(ctx, "schema_version"); v != schemaVersion {
		t.Fatalf("schema_version = %q", v)
	}
	if v, err := rd.Meta(ctx, "missing"); err != nil || v != "" {
		t.Fatalf("missing meta = %q, %v", v, err)
	}

	sum, err := rd.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Events != 4 || sum.FirstTick != 1 || sum.LastTick != 3 || sum.MaxDepth != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(sum.Kinds) != 3 {
		t.Fatalf("kinds = %+v", sum.Kinds)
	}
	// Kinds are ordered by name.
	cb := sum.Kinds[0]
	if cb.Kind != event.KindChangeBlock || cb.Events != 2 || cb.Cancelled != 1 || cb.Applied != 1 {
		t.Fatalf("change_block = %+v", cb)
	}

	got, err := rd.EventsForTick(ctx, 1)
	if err != nil {
		t.Fatalf("EventsForTick: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("tick 1 records = %d, want 3", len(got))
	}
	if got[0].Context["packet"] != "dig_block" || got[0].Causes[0] != "player:alice" {
		t.Fatalf("first record = %+v", got[0])
	}
	if !got[2].Cancelled || got[2].Depth != 1 || len(got[2].Causes) != 2 {
		t.Fatalf("third record = %+v", got[2])
	}

	none, err := rd.EventsForTick(ctx, 2)
	if err != nil || len(none) != 0 {
		t.Fatalf("tick 2 = %v, %v", none, err)
	}
}

func TestSQLiteIndex_DropsWhenQueueFull(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan event.Record, 1)}
	_ = s.RecordEvent(event.Record{Tick: 1})
	_ = s.RecordEvent(event.Record{Tick: 2})
	_ = s.RecordEvent(event.Record{Tick: 3})

	st := s.Stats()
	if st.QueueDepth != 1 || st.QueueCapacity != 1 || st.DropTotal != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSQLiteIndex_IgnoresRecordsAfterClose(t *testing.T) {
	idx, _ := openTestIndex(t)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := idx.RecordEvent(event.Record{Tick: 1}); err != nil {
		t.Fatalf("RecordEvent after close: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestOpenReader_MissingFile(t *testing.T) {
	if _, err := OpenReader(filepath.Join(t.TempDir(), "nope.sqlite")); err == nil {
		t.Fatalf("expected error")
	}
}
