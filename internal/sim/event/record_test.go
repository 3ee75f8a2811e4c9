package event

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"phasecraft.ai/internal/sim/cause"
)

func TestRecord_MatchesSchema(t *testing.T) {
	schema, err := jsonschema.Compile(filepath.Join("..", "..", "..", "schemas", "event_record.schema.json"))
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	s := cause.New()
	f := s.PushFrame()
	s.PushCause("server")
	s.PushCause("player:alice")
	s.AddContext(cause.Player, "alice")
	ev := changeBlockEvent(3)
	ev.Base = NewBase(s.Current(), "packet_dig_block", 1)
	ev.SetCancelled(true)
	f.Close()

	rec := NewRecord(42, 7, ev, 0)
	if rec.Entries != 3 || rec.Depth != 1 || !rec.Cancelled || rec.Context["player"] != "alice" {
		t.Fatalf("record=%+v", rec)
	}

	for _, r := range []Record{rec, NewRecord(0, 0, &Chat{Base: NewBase(cause.Cause{}, "packet_chat", 0)}, 1)} {
		b, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := schema.Validate(doc); err != nil {
			t.Fatalf("validate %s: %v", b, err)
		}
	}
}

type failingRecorder struct{ err error }

func (f failingRecorder) RecordEvent(Record) error { return f.err }

func TestRecorders_FanOutJoinsErrors(t *testing.T) {
	mem := &Memory{}
	boom := errors.New("disk full")
	rs := Recorders{mem, nil, failingRecorder{err: boom}}
	err := rs.RecordEvent(Record{Kind: KindChat, Phase: "p"})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if len(mem.Records) != 1 {
		t.Fatalf("memory recorder got %d records", len(mem.Records))
	}
}
