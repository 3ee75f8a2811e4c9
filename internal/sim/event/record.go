package event

import "errors"

// Record is the serialisable trace of one posted event. Records feed the
// journal, the sqlite index and the live stream.
type Record struct {
	Tick      uint64            `json:"tick"`
	Seq       int               `json:"seq"`
	Phase     string            `json:"phase"`
	Kind      Kind              `json:"kind"`
	Depth     int               `json:"depth"`
	Cancelled bool              `json:"cancelled"`
	Entries   int               `json:"entries"`
	Applied   int               `json:"applied"`
	Causes    []string          `json:"causes"`
	Context   map[string]string `json:"context,omitempty"`
}

// NewRecord describes ev after it has been posted. applied is the number of
// entries that reached the simulation.
func NewRecord(tick uint64, seq int, ev Event, applied int) Record {
	causes, ctx := ev.Cause().Describe()
	return Record{
		Tick:      tick,
		Seq:       seq,
		Phase:     ev.Phase(),
		Kind:      ev.Kind(),
		Depth:     ev.Depth(),
		Cancelled: ev.Cancelled(),
		Entries:   Size(ev),
		Applied:   applied,
		Causes:    causes,
		Context:   ctx,
	}
}

type Recorder interface {
	RecordEvent(r Record) error
}

// Recorders fans a record out to every recorder and joins their errors.
type Recorders []Recorder

func (rs Recorders) RecordEvent(r Record) error {
	var errs []error
	for _, rec := range rs {
		if rec == nil {
			continue
		}
		if err := rec.RecordEvent(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps records in memory. Used by tests and the CLI.
type Memory struct {
	Records []Record
}

func (m *Memory) RecordEvent(r Record) error {
	m.Records = append(m.Records, r)
	return nil
}
