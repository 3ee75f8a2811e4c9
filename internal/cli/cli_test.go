package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"phasecraft.ai/internal/persistence/indexdb"
	persistlog "phasecraft.ai/internal/persistence/log"
	"phasecraft.ai/internal/plugins/spawnguard"
	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/event"
	"phasecraft.ai/internal/sim/packet"
	"phasecraft.ai/internal/sim/tuning"
	"phasecraft.ai/internal/sim/world"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

var sampleRecords = []event.Record{
	{Tick: 3, Seq: 0, Phase: "packet_dig_block", Kind: event.KindChangeBlock, Entries: 1, Applied: 1, Causes: []string{"player:alice"}},
	{Tick: 3, Seq: 1, Phase: "packet_dig_block", Kind: event.KindDropItem, Entries: 1, Applied: 1, Causes: []string{"player:alice"}},
	{Tick: 4, Seq: 0, Phase: "packet_chat", Kind: event.KindChat, Cancelled: true, Causes: []string{"player:bob"}},
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "phasectl", cmd.Use)
	for _, path := range [][]string{{"journal", "dump"}, {"index", "summary"}, {"index", "tick"}, {"replay"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "journal", "dump", "--dir", t.TempDir(), "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestJournalDump(t *testing.T) {
	dir := t.TempDir()
	j := persistlog.NewEventJournal(dir)
	for _, r := range sampleRecords {
		require.NoError(t, j.RecordEvent(r))
	}
	require.NoError(t, j.Close())
	events := filepath.Join(dir, "events")

	out, err := execute(t, "journal", "dump", "--dir", events)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "tick=3 seq=0 depth=0 change_block")
	assert.Contains(t, lines[0], "causes=[player:alice]")
	assert.Contains(t, lines[2], "cancelled")

	out, err = execute(t, "journal", "dump", "--dir", events, "--kind", "drop_item", "--format", "json")
	require.NoError(t, err)
	var r event.Record
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, event.KindDropItem, r.Kind)

	out, err = execute(t, "journal", "dump", "--dir", events, "--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))

	out, err = execute(t, "journal", "dump", "--dir", events, "--tick", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "No records found")
}

func TestJournalDump_Errors(t *testing.T) {
	_, err := execute(t, "journal", "dump")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")

	_, err = execute(t, "journal", "dump", "--dir", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestIndexCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.sqlite")
	idx, err := indexdb.OpenSQLite(path, indexdb.Options{Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, err)
	for _, r := range sampleRecords {
		require.NoError(t, idx.RecordEvent(r))
	}
	require.NoError(t, idx.Close())

	out, err := execute(t, "index", "summary", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "events=3 ticks=3..4")
	assert.Contains(t, out, "chat")

	out, err = execute(t, "index", "summary", "--db", path, "--format", "json")
	require.NoError(t, err)
	var sum indexdb.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 3, sum.Events)
	assert.Len(t, sum.Kinds, 3)

	out, err = execute(t, "index", "tick", "--db", path, "--tick", "3")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "drop_item")

	out, err = execute(t, "index", "tick", "--db", path, "--tick", "8")
	require.NoError(t, err)
	assert.Contains(t, out, "No events at tick 8")

	_, err = execute(t, "index", "summary", "--db", filepath.Join(t.TempDir(), "nope.sqlite"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open database")
}

func writeTuning(t *testing.T, tu tuning.Tuning) string {
	t.Helper()
	b, err := yaml.Marshal(tu)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func recordTicks(t *testing.T, tu tuning.Tuning, dataDir string) {
	t.Helper()
	tl := persistlog.NewTickLogger(dataDir)
	bus := event.NewBus()
	spawnguard.FromTuning(tu.SpawnGuard).Register(bus)
	cfg, err := world.ConfigFromTuning(tu)
	require.NoError(t, err)
	cfg.TickLog = tl
	cfg.Logger = log.New(io.Discard, "", 0)
	w, err := world.New(cfg, bus, world.PhaseOptions(tu)...)
	require.NoError(t, err)

	steps := [][]packet.Inbound{
		nil,
		{{Player: "alice", Packet: packet.Place{Pos: capture.Pos{X: 3, Y: 7, Z: 3}, Block: "sand", Slot: 1}}},
		{{Player: "alice", Packet: packet.Dig{Pos: capture.Pos{X: 0, Y: 4, Z: 0}, Status: packet.DigFinish}}},
		{{Player: "alice", Packet: packet.Dig{Pos: capture.Pos{X: -3, Y: 4, Z: 2}, Status: packet.DigFinish}}},
		nil, nil, nil,
	}
	for i, pk := range steps {
		var joins []world.JoinRequest
		if i == 0 {
			joins = []world.JoinRequest{{Name: "alice"}}
		}
		_, _, err := w.StepOnce(joins, pk)
		require.NoError(t, err)
	}
	require.NoError(t, tl.Close())
}

func replayTuning() tuning.Tuning {
	tu := tuning.Defaults()
	tu.World.FlatRadius = 3
	tu.SpawnGuard.Radius = 1
	tu.Persistence.Index = false
	return tu
}

func TestReplay_DigestsMatch(t *testing.T) {
	tu := replayTuning()
	dataDir := t.TempDir()
	recordTicks(t, tu, dataDir)

	out, err := execute(t, "replay", "--ticks", filepath.Join(dataDir, "ticks"), "--tuning", writeTuning(t, tu))
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 7 ticks through tick 6")

	out, err = execute(t, "replay", "--ticks", filepath.Join(dataDir, "ticks"), "--tuning", writeTuning(t, tu), "--to-tick", "2", "--format", "json")
	require.NoError(t, err)
	var res ReplayResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Deterministic)
	assert.Equal(t, 3, res.Ticks)
	assert.Equal(t, uint64(2), res.LastTick)
}

func TestReplay_DivergesWithDifferentTuning(t *testing.T) {
	tu := replayTuning()
	dataDir := t.TempDir()
	recordTicks(t, tu, dataDir)

	// Without the guard the dig at spawn goes through.
	other := tu
	other.SpawnGuard.Enabled = false
	out, err := execute(t, "replay", "--ticks", filepath.Join(dataDir, "ticks"), "--tuning", writeTuning(t, other))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "replay stopped after 2 ticks")
}

func TestReplay_MissingLog(t *testing.T) {
	_, err := execute(t, "replay", "--ticks", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no tick log files")
}
